// ABOUTME: Presence state machine: connect, status change and disconnect per identity
// ABOUTME: Serializes transitions per identity and flushes events in version order

package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Store is the persistence collaborator for presence records.
// SavePresence must be idempotent for a version that is already stored.
type Store interface {
	LoadPresence(ctx context.Context, identity Identity) (Record, bool, error)
	ListPresence(ctx context.Context) ([]Record, error)
	SavePresence(ctx context.Context, rec Record) error
	AppendStatusHistory(ctx context.Context, identity Identity, ev Event) error
}

// Notifier receives every accepted transition after it has been persisted.
// Implementations must not block for long; they run on the caller's goroutine.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, ev Event)

// Notify calls f(ctx, ev).
func (f NotifierFunc) Notify(ctx context.Context, ev Event) { f(ctx, ev) }

// Options tunes Coordinator policy.
type Options struct {
	// ResumeStatusOnReconnect restores the last Busy/Break status on connect
	// instead of defaulting to Available.
	ResumeStatusOnReconnect bool

	// Notifiers are called in order for every delivered transition.
	Notifiers []Notifier

	// Now overrides the clock in tests.
	Now func() time.Time
}

// ConnectResult describes the outcome of Connect.
type ConnectResult struct {
	Record Record
	Event  Event
	// Superseded is the previously active connection that was evicted, if any.
	Superseded ConnectionID
	// Applied is false when connID was already the active connection.
	Applied bool
}

// pending is one transition waiting to be persisted and delivered.
type pending struct {
	rec    Record
	ev     Event
	notify bool
}

// entry holds the state of one identity. mu guards rec and outbox and is
// never held across I/O. flushMu orders draining of the outbox.
type entry struct {
	mu         sync.Mutex
	rec        Record
	lastOnline Status
	outbox     []pending

	flushMu sync.Mutex
}

// Coordinator owns the presence state of every known identity.
type Coordinator struct {
	mu      sync.RWMutex
	entries map[Identity]*entry

	store     Store
	writer    *DurableWriter
	notifiers []Notifier
	resume    bool
	now       func() time.Time
	logger    *slog.Logger
}

// NewCoordinator creates a Coordinator. store may be nil for a purely in-memory
// coordinator; writer may be nil when store is nil.
func NewCoordinator(store Store, writer *DurableWriter, logger *slog.Logger, opts Options) *Coordinator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		entries:   make(map[Identity]*entry),
		store:     store,
		writer:    writer,
		notifiers: opts.Notifiers,
		resume:    opts.ResumeStatusOnReconnect,
		now:       now,
		logger:    logger.With("component", "coordinator"),
	}
}

// AddNotifier appends a notifier. Call before the coordinator is in use.
func (c *Coordinator) AddNotifier(n Notifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifiers = append(c.notifiers, n)
}

// Connect marks the identity online on connID, evicting any other active
// connection. Connecting the already active connection again is a no-op.
func (c *Coordinator) Connect(ctx context.Context, p Principal, connID ConnectionID) (ConnectResult, error) {
	if p.Identity == "" {
		return ConnectResult{}, ErrInvalidIdentity
	}
	if _, err := ParseRole(string(p.Role)); err != nil {
		return ConnectResult{}, err
	}

	e := c.entryFor(ctx, p.Identity, p.Role)

	e.mu.Lock()
	prev := e.rec
	if prev.Online && prev.ConnectionID == connID {
		e.mu.Unlock()
		return ConnectResult{Record: prev}, nil
	}

	var superseded ConnectionID
	if prev.Online {
		superseded = prev.ConnectionID
	}

	status := StatusAvailable
	if c.resume && e.lastOnline.resumable() {
		status = e.lastOnline
	}

	now := c.now()
	next := prev
	next.Role = p.Role
	next.Team = p.Team
	next.Status = status
	next.Online = true
	next.ConnectionID = connID
	next.ChangedAt = now
	next.Version = prev.Version + 1

	ev := Event{
		Kind:         EventOnline,
		Identity:     p.Identity,
		Role:         p.Role,
		Team:         p.Team,
		Previous:     prev.DisplayStatus(),
		Status:       status,
		Version:      next.Version,
		At:           now,
		Channel:      ChannelSocket,
		ConnectionID: connID,
		Superseded:   superseded,
	}
	e.rec = next
	e.lastOnline = status
	e.outbox = append(e.outbox, pending{rec: next, ev: ev, notify: true})
	e.mu.Unlock()

	c.logger.Info("=== IDENTITY ONLINE ===",
		"identity", p.Identity,
		"role", p.Role,
		"connection_id", connID,
		"status", status,
		"version", next.Version,
		"superseded", superseded,
	)

	c.flush(ctx, e)
	return ConnectResult{Record: next, Event: ev, Superseded: superseded, Applied: true}, nil
}

// SetStatus applies a status change for an online identity.
// Every online-to-online transition is legal, including repeating the current status.
func (c *Coordinator) SetStatus(ctx context.Context, identity Identity, status Status, ch Channel) (Event, error) {
	if !status.Valid() {
		return Event{}, ErrInvalidStatus
	}

	e := c.lookup(identity)
	if e == nil {
		return Event{}, ErrNotOnline
	}

	e.mu.Lock()
	prev := e.rec
	if !prev.Online {
		e.mu.Unlock()
		return Event{}, ErrNotOnline
	}

	now := c.now()
	next := prev
	next.Status = status
	next.ChangedAt = now
	next.Version = prev.Version + 1

	ev := Event{
		Kind:         EventStatus,
		Identity:     identity,
		Role:         prev.Role,
		Team:         prev.Team,
		Previous:     prev.Status,
		Status:       status,
		Version:      next.Version,
		At:           now,
		Channel:      ch,
		ConnectionID: prev.ConnectionID,
	}
	e.rec = next
	e.lastOnline = status
	e.outbox = append(e.outbox, pending{rec: next, ev: ev, notify: true})
	e.mu.Unlock()

	c.logger.Info("status changed",
		"identity", identity,
		"previous", prev.Status,
		"status", status,
		"version", next.Version,
		"channel", ch,
	)

	c.flush(ctx, e)
	return ev, nil
}

// Disconnect marks the identity offline if connID is its active connection.
// A disconnect for any other connection is ignored and reports applied=false.
func (c *Coordinator) Disconnect(ctx context.Context, identity Identity, connID ConnectionID) (Event, bool) {
	e := c.lookup(identity)
	if e == nil {
		return Event{}, false
	}

	e.mu.Lock()
	prev := e.rec
	if !prev.Online || prev.ConnectionID != connID {
		e.mu.Unlock()
		c.logger.Debug("stale disconnect ignored",
			"identity", identity,
			"connection_id", connID,
			"active_connection_id", prev.ConnectionID,
		)
		return Event{}, false
	}

	now := c.now()
	next := prev
	next.Online = false
	next.ConnectionID = ""
	next.Status = StatusOffline
	next.ChangedAt = now
	next.Version = prev.Version + 1

	ev := Event{
		Kind:         EventOffline,
		Identity:     identity,
		Role:         prev.Role,
		Team:         prev.Team,
		Previous:     prev.Status,
		Status:       StatusOffline,
		Version:      next.Version,
		At:           now,
		Channel:      ChannelSocket,
		ConnectionID: connID,
	}
	e.rec = next
	e.outbox = append(e.outbox, pending{rec: next, ev: ev, notify: true})
	e.mu.Unlock()

	c.logger.Info("=== IDENTITY OFFLINE ===",
		"identity", identity,
		"connection_id", connID,
		"version", next.Version,
	)

	c.flush(ctx, e)
	return ev, true
}

// Reconcile loads every persisted record. Records persisted as online are
// left over from a previous process and are moved offline. No events are
// delivered for those transitions since no connection can exist yet.
func (c *Coordinator) Reconcile(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	recs, err := c.store.ListPresence(ctx)
	if err != nil {
		return 0, err
	}

	var stale []*entry
	c.mu.Lock()
	for _, rec := range recs {
		if _, exists := c.entries[rec.Identity]; exists {
			continue
		}
		e := &entry{rec: rec, lastOnline: rec.Status}
		c.entries[rec.Identity] = e
		if rec.Online {
			stale = append(stale, e)
		}
	}
	c.mu.Unlock()

	now := c.now()
	for _, e := range stale {
		e.mu.Lock()
		prev := e.rec
		next := prev
		next.Online = false
		next.ConnectionID = ""
		next.Status = StatusOffline
		next.ChangedAt = now
		next.Version = prev.Version + 1
		ev := Event{
			Kind:         EventOffline,
			Identity:     prev.Identity,
			Role:         prev.Role,
			Team:         prev.Team,
			Previous:     prev.Status,
			Status:       StatusOffline,
			Version:      next.Version,
			At:           now,
			Channel:      ChannelSystem,
			ConnectionID: prev.ConnectionID,
		}
		e.rec = next
		e.outbox = append(e.outbox, pending{rec: next, ev: ev})
		e.mu.Unlock()
		c.flush(ctx, e)
	}

	c.logger.Info("presence reconciled",
		"identities", len(recs),
		"marked_offline", len(stale),
	)
	return len(stale), nil
}

// Get returns the current record for identity.
func (c *Coordinator) Get(identity Identity) (Record, error) {
	e := c.lookup(identity)
	if e == nil {
		return Record{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, nil
}

// Snapshot returns a consistent copy of every known record, sorted by identity.
// Each record is read under its identity lock so none is observed mid-transition.
func (c *Coordinator) Snapshot() []Record {
	c.mu.RLock()
	out := make([]Record, 0, len(c.entries))
	for _, e := range c.entries {
		e.mu.Lock()
		out = append(out, e.rec)
		e.mu.Unlock()
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Probe reports whether the coordinator is accepting operations and the
// persistence backlog is within limits.
func (c *Coordinator) Probe() bool {
	if !probeLock(&c.mu) {
		return false
	}
	if c.writer != nil && !c.writer.Healthy() {
		return false
	}
	return true
}

func (c *Coordinator) lookup(identity Identity) *entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[identity]
}

// entryFor returns the entry for identity, creating it on first use. A new
// entry is seeded from the store so versions continue across restarts.
func (c *Coordinator) entryFor(ctx context.Context, identity Identity, role Role) *entry {
	if e := c.lookup(identity); e != nil {
		return e
	}

	seed := Record{Identity: identity, Role: role, Status: StatusOffline}
	if c.store != nil {
		rec, ok, err := c.store.LoadPresence(ctx, identity)
		switch {
		case err != nil:
			c.logger.Warn("failed to load presence, starting fresh",
				"identity", identity,
				"error", err,
			)
		case ok:
			seed = rec
			seed.Online = false
			seed.ConnectionID = ""
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, exists := c.entries[identity]; exists {
		return e
	}
	e := &entry{rec: seed, lastOnline: seed.Status}
	c.entries[identity] = e
	return e
}

// flush drains the outbox of e in version order. The caller returns only
// after every transition queued before it has been persisted and delivered.
func (c *Coordinator) flush(ctx context.Context, e *entry) {
	ctx = context.WithoutCancel(ctx)

	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	e.mu.Lock()
	batch := e.outbox
	e.outbox = nil
	e.mu.Unlock()

	c.mu.RLock()
	notifiers := c.notifiers
	c.mu.RUnlock()

	for _, p := range batch {
		if c.writer != nil {
			c.writer.Write(ctx, p.rec, p.ev)
		}
		if !p.notify {
			continue
		}
		for _, n := range notifiers {
			n.Notify(ctx, p.ev)
		}
	}
}
