// ABOUTME: Prometheus collectors for the presence gateway on a per-instance registry
// ABOUTME: All recording methods are safe to call on a nil *Metrics

package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/wallboard-gateway/internal/presence"
)

// Label cardinality is bounded: no identity, connection or request IDs in labels.

// Metrics holds every collector of one gateway instance.
type Metrics struct {
	registry *prometheus.Registry

	connectionsActive prometheus.Gauge
	transitions       *prometheus.CounterVec
	statusRequests    *prometheus.CounterVec
	duplicates        *prometheus.CounterVec
	framesDelivered   *prometheus.CounterVec
	framesDropped     *prometheus.CounterVec
	persistFailures   prometheus.Counter
	dashboardPushes   prometheus.Counter
	staleClosed       prometheus.Counter
	messagesSent      *prometheus.CounterVec
	joinsRefused      prometheus.Counter
}

// New registers the gateway collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		connectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "wallboard_connections_active",
			Help: "Number of live socket connections.",
		}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallboard_presence_transitions_total",
			Help: "Accepted presence transitions, by kind and channel.",
		}, []string{"kind", "channel"}),
		statusRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallboard_status_requests_total",
			Help: "Status change requests, by channel and result.",
		}, []string{"channel", "result"}),
		duplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallboard_status_requests_duplicate_total",
			Help: "Status change requests collapsed onto an earlier request ID, by channel.",
		}, []string{"channel"}),
		framesDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallboard_frames_delivered_total",
			Help: "Frames written to subscriber connections, by frame type.",
		}, []string{"type"}),
		framesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallboard_frames_dropped_total",
			Help: "Frames that could not be written to a subscriber, by frame type.",
		}, []string{"type"}),
		persistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "wallboard_persistence_failures_total",
			Help: "Presence writes that failed on the first attempt and were queued for retry.",
		}),
		dashboardPushes: f.NewCounter(prometheus.CounterOpts{
			Name: "wallboard_dashboard_pushes_total",
			Help: "Dashboard snapshots pushed.",
		}),
		staleClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "wallboard_stale_connections_closed_total",
			Help: "Connections closed by the sweeper for missing heartbeats.",
		}),
		messagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallboard_messages_sent_total",
			Help: "Supervisor messages sent, by kind.",
		}, []string{"kind"}),
		joinsRefused: f.NewCounter(prometheus.CounterOpts{
			Name: "wallboard_topic_joins_refused_total",
			Help: "Topic joins refused by policy.",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// WatchBacklog exposes fn as the persistence retry backlog gauge.
func (m *Metrics) WatchBacklog(fn func() int) {
	if m == nil {
		return
	}
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "wallboard_persistence_backlog",
		Help: "Presence writes waiting for a successful retry.",
	}, func() float64 { return float64(fn()) })
}

// WatchOnline exposes the number of online identities per role.
func (m *Metrics) WatchOnline(source func() []presence.Record) {
	if m == nil {
		return
	}
	for _, role := range []presence.Role{presence.RoleAgent, presence.RoleSupervisor, presence.RoleAdmin} {
		promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "wallboard_identities_online",
			Help:        "Identities currently online, by role.",
			ConstLabels: prometheus.Labels{"role": string(role)},
		}, func() float64 {
			n := 0
			for _, rec := range source() {
				if rec.Online && rec.Role == role {
					n++
				}
			}
			return float64(n)
		})
	}
}

// Notify counts an accepted presence transition.
func (m *Metrics) Notify(_ context.Context, ev presence.Event) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(ev.Kind), string(ev.Channel)).Inc()
}

// ConnectionOpened increments the live connection gauge.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsActive.Inc()
}

// ConnectionClosed decrements the live connection gauge.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

// StatusRequest counts a status request with its outcome.
func (m *Metrics) StatusRequest(ch presence.Channel, result string) {
	if m == nil {
		return
	}
	m.statusRequests.WithLabelValues(string(ch), result).Inc()
}

// DuplicateRequest counts a request collapsed onto an earlier request ID.
func (m *Metrics) DuplicateRequest(ch presence.Channel) {
	if m == nil {
		return
	}
	m.duplicates.WithLabelValues(string(ch)).Inc()
}

// Delivered implements fanout.Observer.
func (m *Metrics) Delivered(frameType string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.framesDelivered.WithLabelValues(frameType).Add(float64(n))
}

// Dropped implements fanout.Observer.
func (m *Metrics) Dropped(frameType string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.framesDropped.WithLabelValues(frameType).Add(float64(n))
}

// PersistenceFailed counts a failed first write.
func (m *Metrics) PersistenceFailed() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

// DashboardPushed counts a dashboard push.
func (m *Metrics) DashboardPushed(int) {
	if m == nil {
		return
	}
	m.dashboardPushes.Inc()
}

// StaleClosed counts connections closed by the sweeper.
func (m *Metrics) StaleClosed(n int) {
	if m == nil || n == 0 {
		return
	}
	m.staleClosed.Add(float64(n))
}

// MessageSent counts a supervisor message.
func (m *Metrics) MessageSent(kind string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(kind).Inc()
}

// JoinRefused counts a refused topic join.
func (m *Metrics) JoinRefused() {
	if m == nil {
		return
	}
	m.joinsRefused.Inc()
}
