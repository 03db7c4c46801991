// ABOUTME: Inbound event kinds a connection can send, as a closed tagged union
// ABOUTME: Each kind maps to exactly one hub operation

package hub

import "github.com/2389/wallboard-gateway/internal/messaging"

// Inbound is one request from a live connection.
type Inbound interface {
	requestID() string
}

// StatusChange asks to change the sender's status.
type StatusChange struct {
	RequestID string
	Status    string
}

// Join subscribes the sender to a topic. Monitor lets a Supervisor or Admin
// watch another identity's topic.
type Join struct {
	RequestID string
	Topic     string
	Monitor   bool
}

// Leave unsubscribes the sender from a topic.
type Leave struct {
	RequestID string
	Topic     string
}

// Heartbeat refreshes the sender's liveness.
type Heartbeat struct {
	RequestID string
}

// Logout ends the sender's session.
type Logout struct {
	RequestID string
}

// SendMessage relays a supervisor message.
type SendMessage struct {
	RequestID string
	Message   messaging.Request
}

func (s StatusChange) requestID() string { return s.RequestID }
func (j Join) requestID() string         { return j.RequestID }
func (l Leave) requestID() string        { return l.RequestID }
func (h Heartbeat) requestID() string    { return h.RequestID }
func (l Logout) requestID() string       { return l.RequestID }
func (s SendMessage) requestID() string  { return s.RequestID }
