// ABOUTME: Outbound frame envelope and the payloads for presence events
// ABOUTME: Converts presence events into the frames subscribers receive

package fanout

import (
	"time"

	"github.com/2389/wallboard-gateway/internal/presence"
)

// Outbound frame types.
const (
	TypeAgentOnline       = "agent-online"
	TypeAgentOffline      = "agent-offline"
	TypeStatusChanged     = "status-changed"
	TypeDashboardSnapshot = "dashboard-snapshot"
	TypeConnectionSuccess = "connection-success"
	TypeSessionSuperseded = "session-superseded"
	TypeStatusUpdated     = "status-updated"
	TypeNewMessage        = "new-message"
	TypeMessageSent       = "message-sent"
	TypeJoined            = "joined"
	TypeLeft              = "left"
	TypePong              = "pong"
	TypeError             = "error"
)

// Envelope is one outbound frame.
type Envelope struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// PresencePayload is carried by agent-online and agent-offline.
type PresencePayload struct {
	Identity   presence.Identity `json:"identity"`
	Role       presence.Role     `json:"role"`
	Team       string            `json:"team,omitempty"`
	Status     presence.Status   `json:"status"`
	Version    uint64            `json:"version"`
	Timestamp  time.Time         `json:"timestamp"`
	Superseded bool              `json:"superseded,omitempty"`
}

// StatusChangedPayload is carried by status-changed.
type StatusChangedPayload struct {
	Identity       presence.Identity `json:"identity"`
	Team           string            `json:"team,omitempty"`
	PreviousStatus presence.Status   `json:"previousStatus"`
	NewStatus      presence.Status   `json:"newStatus"`
	Version        uint64            `json:"version"`
	Timestamp      time.Time         `json:"timestamp"`
	Channel        presence.Channel  `json:"channel"`
}

// StatusUpdatedPayload acknowledges a status change to its requester.
type StatusUpdatedPayload struct {
	Identity  presence.Identity `json:"identity"`
	Status    presence.Status   `json:"status"`
	Version   uint64            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
}

// ConnectionSuccessPayload is sent to a connection once it is online.
type ConnectionSuccessPayload struct {
	ConnectionID presence.ConnectionID `json:"connectionId"`
	Record       presence.Record       `json:"record"`
	Topics       []Topic               `json:"topics"`
}

// SupersededPayload is sent to a connection evicted by a newer login.
type SupersededPayload struct {
	Identity     presence.Identity     `json:"identity"`
	ConnectionID presence.ConnectionID `json:"connectionId"`
	Timestamp    time.Time             `json:"timestamp"`
}

// TopicPayload acknowledges a join or leave.
type TopicPayload struct {
	Topic Topic `json:"topic"`
}

// ErrorPayload describes a failed request.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventEnvelope converts a presence event to its outbound frame.
func EventEnvelope(ev presence.Event) Envelope {
	switch ev.Kind {
	case presence.EventOnline:
		return Envelope{Type: TypeAgentOnline, Payload: PresencePayload{
			Identity:   ev.Identity,
			Role:       ev.Role,
			Team:       ev.Team,
			Status:     ev.Status,
			Version:    ev.Version,
			Timestamp:  ev.At,
			Superseded: ev.Superseded != "",
		}}
	case presence.EventOffline:
		return Envelope{Type: TypeAgentOffline, Payload: PresencePayload{
			Identity:  ev.Identity,
			Role:      ev.Role,
			Team:      ev.Team,
			Status:    presence.StatusOffline,
			Version:   ev.Version,
			Timestamp: ev.At,
		}}
	default:
		return Envelope{Type: TypeStatusChanged, Payload: StatusChangedPayload{
			Identity:       ev.Identity,
			Team:           ev.Team,
			PreviousStatus: ev.Previous,
			NewStatus:      ev.Status,
			Version:        ev.Version,
			Timestamp:      ev.At,
			Channel:        ev.Channel,
		}}
	}
}

// EventTopics returns the topics an event is delivered to.
func EventTopics(ev presence.Event) []Topic {
	topics := []Topic{Dashboard, AgentTopic(ev.Identity)}
	if ev.Team != "" {
		topics = append(topics, TeamTopic(ev.Team))
	}
	return topics
}

// ErrorEnvelope builds an error frame answering requestID.
func ErrorEnvelope(requestID, code, message string) Envelope {
	return Envelope{
		Type:      TypeError,
		RequestID: requestID,
		Payload:   ErrorPayload{Code: code, Message: message},
	}
}
