// ABOUTME: Relays supervisor direct and broadcast messages to agents
// ABOUTME: Validates, persists, renders markdown and delivers over the event bus

package messaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"

	"github.com/2389/wallboard-gateway/internal/fanout"
	"github.com/2389/wallboard-gateway/internal/presence"
	"github.com/2389/wallboard-gateway/internal/store"
)

// ErrInvalidMessage is returned for a message that fails validation.
var ErrInvalidMessage = errors.New("invalid message")

// DefaultMaxLength is the content limit used when none is configured.
const DefaultMaxLength = 500

// Request is a message as submitted by a supervisor.
type Request struct {
	To       string `json:"to,omitempty"`
	Team     string `json:"team,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Priority string `json:"priority,omitempty"`
	Content  string `json:"content"`
}

// Payload is carried by new-message frames.
type Payload struct {
	ID        string            `json:"id"`
	From      presence.Identity `json:"from"`
	To        presence.Identity `json:"to,omitempty"`
	Team      string            `json:"team,omitempty"`
	Kind      string            `json:"kind"`
	Priority  string            `json:"priority"`
	Content   string            `json:"content"`
	HTML      string            `json:"html"`
	Timestamp time.Time         `json:"timestamp"`
}

// SentPayload acknowledges a message to its sender.
type SentPayload struct {
	ID        string `json:"id"`
	Delivered int    `json:"delivered"`
}

// MessageStore persists and lists messages.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *store.Message) error
	ListMessages(ctx context.Context, identity presence.Identity, team string, limit int) ([]*store.Message, error)
}

// Publisher delivers frames to topics.
type Publisher interface {
	Publish(topic fanout.Topic, env fanout.Envelope) int
	PublishKind(kind string, env fanout.Envelope) int
}

// Relay sends supervisor messages.
type Relay struct {
	store  MessageStore
	pub    Publisher
	md     goldmark.Markdown
	maxLen int
	now    func() time.Time
	logger *slog.Logger
}

// NewRelay creates a Relay. maxLen <= 0 uses DefaultMaxLength.
func NewRelay(st MessageStore, pub Publisher, maxLen int, logger *slog.Logger) *Relay {
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}
	return &Relay{
		store:  st,
		pub:    pub,
		md:     goldmark.New(),
		maxLen: maxLen,
		now:    time.Now,
		logger: logger.With("component", "messaging"),
	}
}

// Send validates req from sender, stores it and delivers it.
// Only Supervisors and Admins may send. It returns the stored message and
// the number of connections it reached.
func (r *Relay) Send(ctx context.Context, sender presence.Principal, req Request) (*store.Message, int, error) {
	if !sender.Role.CanMonitor() {
		return nil, 0, fanout.ErrForbidden
	}

	msg, err := r.validate(sender, req)
	if err != nil {
		return nil, 0, err
	}
	msg.HTML = r.render(msg.Content)

	if err := r.store.SaveMessage(ctx, msg); err != nil {
		return nil, 0, fmt.Errorf("saving message: %w", err)
	}

	env := fanout.Envelope{Type: fanout.TypeNewMessage, Payload: PayloadOf(msg)}
	var delivered int
	switch {
	case msg.Kind == store.MessageKindDirect:
		delivered = r.pub.Publish(fanout.AgentTopic(msg.To), env)
	case msg.Team != "":
		delivered = r.pub.Publish(fanout.TeamTopic(msg.Team), env)
	default:
		delivered = r.pub.PublishKind(fanout.KindAgent, env)
	}

	r.logger.Info("message sent",
		"id", msg.ID,
		"from", msg.From,
		"to", msg.To,
		"team", msg.Team,
		"kind", msg.Kind,
		"priority", msg.Priority,
		"delivered", delivered,
	)
	return msg, delivered, nil
}

// List returns messages visible to identity, newest first.
func (r *Relay) List(ctx context.Context, identity presence.Identity, team string, limit int) ([]*store.Message, error) {
	return r.store.ListMessages(ctx, identity, team, limit)
}

func (r *Relay) validate(sender presence.Principal, req Request) (*store.Message, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: content is empty", ErrInvalidMessage)
	}
	if n := utf8.RuneCountInString(content); n > r.maxLen {
		return nil, fmt.Errorf("%w: content is %d characters, limit is %d", ErrInvalidMessage, n, r.maxLen)
	}

	kind := strings.ToLower(strings.TrimSpace(req.Kind))
	if kind == "" {
		kind = store.MessageKindBroadcast
		if strings.TrimSpace(req.To) != "" {
			kind = store.MessageKindDirect
		}
	}

	priority := strings.ToLower(strings.TrimSpace(req.Priority))
	switch priority {
	case "":
		priority = store.PriorityNormal
	case store.PriorityLow, store.PriorityNormal, store.PriorityHigh:
	default:
		return nil, fmt.Errorf("%w: unknown priority %q", ErrInvalidMessage, req.Priority)
	}

	msg := &store.Message{
		ID:        uuid.New().String(),
		From:      sender.Identity,
		Kind:      kind,
		Priority:  priority,
		Content:   content,
		CreatedAt: r.now(),
	}

	switch kind {
	case store.MessageKindDirect:
		to, err := presence.ParseIdentity(req.To)
		if err != nil {
			return nil, fmt.Errorf("%w: direct message needs a recipient", ErrInvalidMessage)
		}
		msg.To = to
	case store.MessageKindBroadcast:
		msg.Team = strings.TrimSpace(req.Team)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, req.Kind)
	}
	return msg, nil
}

// render converts markdown content to HTML. Raw HTML in the content is dropped.
func (r *Relay) render(content string) string {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(content), &buf); err != nil {
		r.logger.Warn("failed to render message markdown", "error", err)
		return "<p>" + html.EscapeString(content) + "</p>"
	}
	return buf.String()
}

// PayloadOf converts a stored message to its frame payload.
func PayloadOf(msg *store.Message) Payload {
	return Payload{
		ID:        msg.ID,
		From:      msg.From,
		To:        msg.To,
		Team:      msg.Team,
		Kind:      msg.Kind,
		Priority:  msg.Priority,
		Content:   msg.Content,
		HTML:      msg.HTML,
		Timestamp: msg.CreatedAt,
	}
}
