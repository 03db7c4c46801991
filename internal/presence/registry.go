// ABOUTME: In-memory table of live connections keyed by connection ID
// ABOUTME: Lock-protected, never performs I/O, safe to call from any goroutine

package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Registry is the authoritative table of live connections.
// Several connections for one identity may coexist here; eviction is
// the Coordinator's policy, not the registry's.
type Registry struct {
	mu     sync.RWMutex
	conns  map[ConnectionID]*Connection
	byID   map[Identity]map[ConnectionID]struct{}
	now    func() time.Time
	logger *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		conns:  make(map[ConnectionID]*Connection),
		byID:   make(map[Identity]map[ConnectionID]struct{}),
		now:    time.Now,
		logger: logger.With("component", "registry"),
	}
}

// Register binds connID to the verified principal.
// Returns ErrInvalidConnection for an empty connID and ErrDuplicateConnection
// if connID is already registered.
func (r *Registry) Register(connID ConnectionID, p Principal) (Connection, error) {
	if connID == "" {
		return Connection{}, ErrInvalidConnection
	}
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[connID]; exists {
		r.logger.Warn("duplicate connection rejected",
			"connection_id", connID,
			"identity", p.Identity,
		)
		return Connection{}, ErrDuplicateConnection
	}

	conn := &Connection{
		ID:            connID,
		Identity:      p.Identity,
		Role:          p.Role,
		Team:          p.Team,
		EstablishedAt: now,
		LastHeartbeat: now,
	}
	r.conns[connID] = conn
	set, ok := r.byID[p.Identity]
	if !ok {
		set = make(map[ConnectionID]struct{})
		r.byID[p.Identity] = set
	}
	set[connID] = struct{}{}

	r.logger.Debug("connection registered",
		"connection_id", connID,
		"identity", p.Identity,
		"role", p.Role,
		"total_connections", len(r.conns),
	)
	return *conn, nil
}

// Unregister removes connID and returns the connection it described.
func (r *Registry) Unregister(connID ConnectionID) (Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return Connection{}, ErrNotFound
	}
	delete(r.conns, connID)
	if set := r.byID[conn.Identity]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byID, conn.Identity)
		}
	}

	r.logger.Debug("connection unregistered",
		"connection_id", connID,
		"identity", conn.Identity,
		"total_connections", len(r.conns),
	)
	return *conn, nil
}

// Lookup returns the connection bound to connID.
func (r *Registry) Lookup(connID ConnectionID) (Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connID]
	if !ok {
		return Connection{}, ErrNotFound
	}
	return *conn, nil
}

// ConnectionsFor returns the IDs of every registered connection for identity, sorted.
func (r *Registry) ConnectionsFor(identity Identity) []ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byID[identity]
	ids := make([]ConnectionID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Touch refreshes the heartbeat timestamp of connID.
func (r *Registry) Touch(connID ConnectionID) error {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return ErrNotFound
	}
	conn.LastHeartbeat = now
	return nil
}

// Stale returns connections whose last heartbeat is before cutoff.
func (r *Registry) Stale(cutoff time.Time) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []Connection
	for _, conn := range r.conns {
		if conn.LastHeartbeat.Before(cutoff) {
			stale = append(stale, *conn)
		}
	}
	return stale
}

// List returns every registered connection.
func (r *Registry) List() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, *conn)
	}
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Probe reports whether the registry lock can be acquired within a few
// milliseconds. A false result means the write lock is being held.
func (r *Registry) Probe() bool {
	return probeLock(&r.mu)
}

type readLocker interface {
	TryRLock() bool
	RUnlock()
}

const probeAttempts = 20

func probeLock(l readLocker) bool {
	for i := 0; i < probeAttempts; i++ {
		if l.TryRLock() {
			l.RUnlock()
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}
