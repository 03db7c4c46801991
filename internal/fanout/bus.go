// ABOUTME: Event bus delivering frames to the connections subscribed to a topic
// ABOUTME: Best-effort delivery; a failed write only lowers the delivery count

package fanout

import (
	"context"
	"log/slog"
	"sync"

	"github.com/2389/wallboard-gateway/internal/presence"
)

// Sink is the write side of one connection.
// Send must not block; it returns an error when the frame cannot be queued.
type Sink interface {
	Send(env Envelope) error
	Close()
}

// Observer receives delivery counts per frame type.
type Observer interface {
	Delivered(frameType string, n int)
	Dropped(frameType string, n int)
}

// Bus delivers envelopes to attached sinks.
type Bus struct {
	mu       sync.RWMutex
	sinks    map[presence.ConnectionID]Sink
	router   *Router
	observer Observer
	logger   *slog.Logger
}

// NewBus creates a Bus resolving topics through router.
func NewBus(router *Router, logger *slog.Logger) *Bus {
	return &Bus{
		sinks:  make(map[presence.ConnectionID]Sink),
		router: router,
		logger: logger.With("component", "bus"),
	}
}

// SetObserver installs a delivery observer. Call before the bus is in use.
func (b *Bus) SetObserver(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observer = o
}

// Attach makes connID reachable.
func (b *Bus) Attach(connID presence.ConnectionID, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks[connID] = sink
}

// Detach makes connID unreachable and returns its sink, if any.
func (b *Bus) Detach(connID presence.ConnectionID) (Sink, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sink, ok := b.sinks[connID]
	delete(b.sinks, connID)
	return sink, ok
}

// Sink returns the sink attached for connID.
func (b *Bus) Sink(connID presence.ConnectionID) (Sink, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sink, ok := b.sinks[connID]
	return sink, ok
}

// Publish delivers env to every connection subscribed to topic at call time
// and returns how many writes succeeded.
func (b *Bus) Publish(topic Topic, env Envelope) int {
	return b.deliver(b.router.SubscribersOf(topic), env)
}

// PublishMany delivers env once to each connection subscribed to any of topics.
func (b *Bus) PublishMany(topics []Topic, env Envelope) int {
	return b.deliver(b.router.SubscribersOfAny(topics...), env)
}

// PublishKind delivers env once to each connection subscribed to any topic of kind.
func (b *Bus) PublishKind(kind string, env Envelope) int {
	return b.deliver(b.router.SubscribersOfKind(kind), env)
}

// SendTo delivers env to a single connection.
func (b *Bus) SendTo(connID presence.ConnectionID, env Envelope) error {
	sink, ok := b.Sink(connID)
	if !ok {
		return ErrSubscriberGone
	}
	return sink.Send(env)
}

func (b *Bus) deliver(ids []presence.ConnectionID, env Envelope) int {
	if len(ids) == 0 {
		return 0
	}

	// Copy sinks under the read lock so no write happens while holding it.
	b.mu.RLock()
	targets := make([]Sink, 0, len(ids))
	for _, id := range ids {
		if sink, ok := b.sinks[id]; ok {
			targets = append(targets, sink)
		}
	}
	observer := b.observer
	b.mu.RUnlock()

	delivered := 0
	for _, sink := range targets {
		if err := sink.Send(env); err != nil {
			b.logger.Debug("delivery failed",
				"type", env.Type,
				"error", err,
			)
			continue
		}
		delivered++
	}

	if observer != nil {
		observer.Delivered(env.Type, delivered)
		if dropped := len(ids) - delivered; dropped > 0 {
			observer.Dropped(env.Type, dropped)
		}
	}
	return delivered
}

// Dispatcher turns presence events into frames on the bus.
type Dispatcher struct {
	bus    *Bus
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher publishing on bus.
func NewDispatcher(bus *Bus, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{bus: bus, logger: logger.With("component", "dispatcher")}
}

// Notify publishes ev to the dashboard, the identity's topic and its team topic.
func (d *Dispatcher) Notify(_ context.Context, ev presence.Event) {
	env := EventEnvelope(ev)
	n := d.bus.PublishMany(EventTopics(ev), env)
	d.logger.Debug("event published",
		"type", env.Type,
		"identity", ev.Identity,
		"version", ev.Version,
		"delivered", n,
	)
}
