// ABOUTME: Mock Store implementation for testing
// ABOUTME: In-memory with the same version guard as SQLite and injectable write failures

package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/wallboard-gateway/internal/presence"
)

// ErrInjected is the error returned by MockStore writes while failing.
var ErrInjected = errors.New("injected store failure")

type historyKey struct {
	identity presence.Identity
	version  uint64
}

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu        sync.RWMutex
	presence  map[presence.Identity]presence.Record
	history   map[historyKey]*StatusHistoryEntry
	messages  []*Message
	snapshots []*DashboardSnapshot

	failWrites int
	writes     int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		presence: make(map[presence.Identity]presence.Record),
		history:  make(map[historyKey]*StatusHistoryEntry),
	}
}

// FailNextWrites makes the next n presence writes return ErrInjected.
func (m *MockStore) FailNextWrites(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = n
}

// Writes returns how many SavePresence calls were made, failed or not.
func (m *MockStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Seed stores rec directly, bypassing the version guard.
func (m *MockStore) Seed(rec presence.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presence[rec.Identity] = rec
}

// LoadPresence returns the stored record for identity.
func (m *MockStore) LoadPresence(_ context.Context, identity presence.Identity) (presence.Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.presence[identity]
	return rec, ok, nil
}

// ListPresence returns every stored record ordered by identity.
func (m *MockStore) ListPresence(_ context.Context) ([]presence.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := make([]presence.Record, 0, len(m.presence))
	for _, rec := range m.presence {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Identity < recs[j].Identity })
	return recs, nil
}

// SavePresence stores rec unless a record at the same or a later version exists.
func (m *MockStore) SavePresence(_ context.Context, rec presence.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writes++
	if m.failWrites > 0 {
		m.failWrites--
		return ErrInjected
	}
	if cur, ok := m.presence[rec.Identity]; ok && cur.Version >= rec.Version {
		return nil
	}
	m.presence[rec.Identity] = rec
	return nil
}

// AppendStatusHistory records ev once per (identity, version).
func (m *MockStore) AppendStatusHistory(_ context.Context, identity presence.Identity, ev presence.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := historyKey{identity, ev.Version}
	if _, exists := m.history[key]; exists {
		return nil
	}
	m.history[key] = &StatusHistoryEntry{
		Identity:     identity,
		Version:      ev.Version,
		Kind:         ev.Kind,
		Previous:     ev.Previous,
		Status:       ev.Status,
		Channel:      ev.Channel,
		ConnectionID: ev.ConnectionID,
		ChangedAt:    ev.At,
	}
	return nil
}

// ListStatusHistory returns up to limit transitions of identity, newest first.
func (m *MockStore) ListStatusHistory(_ context.Context, identity presence.Identity, limit int) ([]*StatusHistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var entries []*StatusHistoryEntry
	for key, e := range m.history {
		if key.identity == identity {
			cp := *e
			entries = append(entries, &cp)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Version > entries[j].Version })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// SaveMessage stores a copy of msg.
func (m *MockStore) SaveMessage(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	for _, existing := range m.messages {
		if existing.ID == msg.ID {
			return ErrDuplicateMessage
		}
	}
	cp := *msg
	m.messages = append(m.messages, &cp)
	return nil
}

// ListMessages returns messages visible to identity, newest first.
func (m *MockStore) ListMessages(_ context.Context, identity presence.Identity, team string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Message
	for _, msg := range m.messages {
		visible := identity == "" ||
			msg.To == identity ||
			(msg.Kind == MessageKindBroadcast && (msg.Team == "" || msg.Team == team))
		if visible {
			cp := *msg
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SaveDashboardSnapshot stores a copy of snap.
func (m *MockStore) SaveDashboardSnapshot(_ context.Context, snap *DashboardSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	cp := *snap
	m.snapshots = append(m.snapshots, &cp)
	return nil
}

// ListDashboardSnapshots returns up to limit summaries, newest first.
func (m *MockStore) ListDashboardSnapshots(_ context.Context, limit int) ([]*DashboardSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*DashboardSnapshot, 0, len(m.snapshots))
	for i := len(m.snapshots) - 1; i >= 0; i-- {
		cp := *m.snapshots[i]
		out = append(out, &cp)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping always succeeds.
func (m *MockStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MockStore) Close() error { return nil }

var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
