// ABOUTME: Subscription router mapping topics to connection IDs
// ABOUTME: Enforces join policy by role and identity; in-memory only

package fanout

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/2389/wallboard-gateway/internal/presence"
)

// Router tracks (connection, topic) subscriptions.
type Router struct {
	mu     sync.RWMutex
	topics map[Topic]map[presence.ConnectionID]struct{}
	conns  map[presence.ConnectionID]map[Topic]struct{}

	registry *presence.Registry
	logger   *slog.Logger
}

// NewRouter creates a Router that resolves connection identities through registry.
func NewRouter(registry *presence.Registry, logger *slog.Logger) *Router {
	return &Router{
		topics:   make(map[Topic]map[presence.ConnectionID]struct{}),
		conns:    make(map[presence.ConnectionID]map[Topic]struct{}),
		registry: registry,
		logger:   logger.With("component", "router"),
	}
}

// Join subscribes connID to topic.
//
// An agent topic may be joined by the identity itself, or by a Supervisor or
// Admin when monitor is set. The dashboard is open to Supervisors and Admins.
// A team topic is open to members of that team and to Supervisors and Admins.
func (r *Router) Join(connID presence.ConnectionID, topic Topic, monitor bool) error {
	conn, err := r.registry.Lookup(connID)
	if err != nil {
		return err
	}
	if err := authorize(conn, topic, monitor); err != nil {
		r.logger.Debug("join refused",
			"connection_id", connID,
			"identity", conn.Identity,
			"topic", topic,
		)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.topics[topic]
	if !ok {
		subs = make(map[presence.ConnectionID]struct{})
		r.topics[topic] = subs
	}
	subs[connID] = struct{}{}

	joined, ok := r.conns[connID]
	if !ok {
		joined = make(map[Topic]struct{})
		r.conns[connID] = joined
	}
	joined[topic] = struct{}{}
	return nil
}

func authorize(conn presence.Connection, topic Topic, monitor bool) error {
	switch topic.Kind() {
	case KindDashboard:
		if topic != Dashboard || !conn.Role.CanMonitor() {
			return ErrForbidden
		}
		return nil
	case KindAgent:
		if presence.Identity(topic.Subject()) == conn.Identity {
			return nil
		}
		if monitor && conn.Role.CanMonitor() {
			return nil
		}
		return ErrForbidden
	case KindTeam:
		if conn.Role.CanMonitor() || (conn.Team != "" && topic.Subject() == conn.Team) {
			return nil
		}
		return ErrForbidden
	}
	return ErrInvalidTopic
}

// Leave removes one subscription. Leaving a topic not joined is a no-op.
func (r *Router) Leave(connID presence.ConnectionID, topic Topic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID, topic)
}

// LeaveAll removes every subscription of connID and returns the topics it left.
func (r *Router) LeaveAll(connID presence.ConnectionID) []Topic {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined := r.conns[connID]
	left := make([]Topic, 0, len(joined))
	for topic := range joined {
		left = append(left, topic)
	}
	for _, topic := range left {
		r.leaveLocked(connID, topic)
	}
	sort.Slice(left, func(i, j int) bool { return left[i] < left[j] })
	return left
}

func (r *Router) leaveLocked(connID presence.ConnectionID, topic Topic) {
	if subs, ok := r.topics[topic]; ok {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(r.topics, topic)
		}
	}
	if joined, ok := r.conns[connID]; ok {
		delete(joined, topic)
		if len(joined) == 0 {
			delete(r.conns, connID)
		}
	}
}

// SubscribersOf returns the connections subscribed to topic, sorted.
func (r *Router) SubscribersOf(topic Topic) []presence.ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedIDs(r.topics[topic])
}

// SubscribersOfAny returns the union of the subscribers of topics, sorted.
// A connection subscribed to several of them appears once.
func (r *Router) SubscribersOfAny(topics ...Topic) []presence.ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	union := make(map[presence.ConnectionID]struct{})
	for _, topic := range topics {
		for id := range r.topics[topic] {
			union[id] = struct{}{}
		}
	}
	return sortedIDs(union)
}

// SubscribersOfKind returns the union of the subscribers of every topic of kind.
func (r *Router) SubscribersOfKind(kind string) []presence.ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	union := make(map[presence.ConnectionID]struct{})
	for topic, subs := range r.topics {
		if topic.Kind() != kind {
			continue
		}
		for id := range subs {
			union[id] = struct{}{}
		}
	}
	return sortedIDs(union)
}

// TopicsOf returns the topics connID is subscribed to, sorted.
func (r *Router) TopicsOf(connID presence.ConnectionID) []Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Topic, 0, len(r.conns[connID]))
	for topic := range r.conns[connID] {
		out = append(out, topic)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedIDs(set map[presence.ConnectionID]struct{}) []presence.ConnectionID {
	ids := make([]presence.ConnectionID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
