// ABOUTME: Store interface and data types for wallboard-gateway persistence
// ABOUTME: Presence records, status history, supervisor messages and dashboard history

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/wallboard-gateway/internal/presence"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateMessage is returned when a message ID is saved twice
var ErrDuplicateMessage = errors.New("message already exists")

// Message kinds
const (
	MessageKindDirect    = "direct"
	MessageKindBroadcast = "broadcast"
)

// Message priorities
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Message is a supervisor message to one identity or to everyone.
type Message struct {
	ID        string
	From      presence.Identity
	To        presence.Identity // empty for broadcasts
	Team      string            // optional broadcast scope
	Kind      string            // "direct" or "broadcast"
	Priority  string            // "low", "normal" or "high"
	Content   string
	HTML      string
	CreatedAt time.Time
}

// StatusHistoryEntry is one recorded transition of an identity.
type StatusHistoryEntry struct {
	Identity     presence.Identity
	Version      uint64
	Kind         presence.EventKind
	Previous     presence.Status
	Status       presence.Status
	Channel      presence.Channel
	ConnectionID presence.ConnectionID
	ChangedAt    time.Time
}

// DashboardSnapshot is a persisted dashboard summary.
type DashboardSnapshot struct {
	ID        string
	Total     int
	Online    int
	Offline   int
	PerStatus map[string]int
	PerTeam   map[string]map[string]int // team -> status -> count
	// TeamOnline is the online count per team. It can differ from the
	// non-Offline statuses in PerTeam when an online identity chose Offline.
	TeamOnline map[string]int
	CreatedAt  time.Time
}

// Store is the persistence collaborator of the gateway.
type Store interface {
	presence.Store

	// ListStatusHistory returns up to limit transitions of identity, newest first.
	ListStatusHistory(ctx context.Context, identity presence.Identity, limit int) ([]*StatusHistoryEntry, error)

	SaveMessage(ctx context.Context, msg *Message) error
	// ListMessages returns messages visible to identity (direct to it, or
	// broadcasts to everyone or to team), newest first. An empty identity
	// returns every message.
	ListMessages(ctx context.Context, identity presence.Identity, team string, limit int) ([]*Message, error)

	SaveDashboardSnapshot(ctx context.Context, snap *DashboardSnapshot) error
	ListDashboardSnapshots(ctx context.Context, limit int) ([]*DashboardSnapshot, error)

	Ping(ctx context.Context) error
	Close() error
}
