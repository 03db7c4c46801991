// ABOUTME: Topic names for event delivery: per-identity, per-team and dashboard
// ABOUTME: Parses transport topic strings into canonical topics

package fanout

import (
	"errors"
	"fmt"
	"strings"

	"github.com/2389/wallboard-gateway/internal/presence"
)

var (
	// ErrInvalidTopic is returned for a topic string outside the known grammar.
	ErrInvalidTopic = errors.New("invalid topic")

	// ErrForbidden is returned when a connection may not join a topic.
	ErrForbidden = errors.New("forbidden")

	// ErrSubscriberGone is returned by a Sink whose connection has closed.
	ErrSubscriberGone = errors.New("subscriber gone")
)

// Topic is a named channel of interest.
type Topic string

// Topic kinds.
const (
	KindAgent     = "agent"
	KindTeam      = "team"
	KindDashboard = "dashboard"
)

// Dashboard is the global summary topic.
const Dashboard Topic = KindDashboard

// AgentTopic returns the topic targeting one identity's connections.
func AgentTopic(id presence.Identity) Topic {
	return Topic(KindAgent + ":" + string(id))
}

// TeamTopic returns the topic for a team.
func TeamTopic(team string) Topic {
	return Topic(KindTeam + ":" + team)
}

// ParseTopic validates a topic string. Agent codes are normalized.
func ParseTopic(raw string) (Topic, error) {
	raw = strings.TrimSpace(raw)
	if raw == KindDashboard {
		return Dashboard, nil
	}
	kind, subject, ok := strings.Cut(raw, ":")
	if !ok || subject == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidTopic, raw)
	}
	switch strings.ToLower(kind) {
	case KindAgent:
		id, err := presence.ParseIdentity(subject)
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidTopic, raw)
		}
		return AgentTopic(id), nil
	case KindTeam:
		return TeamTopic(strings.TrimSpace(subject)), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTopic, raw)
}

// Kind returns "agent", "team" or "dashboard".
func (t Topic) Kind() string {
	kind, _, _ := strings.Cut(string(t), ":")
	return kind
}

// Subject returns the part after the colon, or "" for the dashboard.
func (t Topic) Subject() string {
	_, subject, _ := strings.Cut(string(t), ":")
	return subject
}

func (t Topic) String() string { return string(t) }
