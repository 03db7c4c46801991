// ABOUTME: Tests for the gateway Prometheus collectors
// ABOUTME: Checks counters via testutil and that a nil *Metrics is safe

package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/wallboard-gateway/internal/presence"
)

func TestCounters(t *testing.T) {
	m := New()

	m.Notify(t.Context(), presence.Event{Kind: presence.EventStatus, Channel: presence.ChannelHTTP})
	m.Notify(t.Context(), presence.Event{Kind: presence.EventStatus, Channel: presence.ChannelHTTP})
	m.StatusRequest(presence.ChannelSocket, "ok")
	m.Delivered("status-changed", 3)
	m.Dropped("status-changed", 1)
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("status-changed", "http")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.statusRequests.WithLabelValues("socket", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.framesDelivered.WithLabelValues("status-changed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesDropped.WithLabelValues("status-changed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsActive))
}

func TestGaugeFuncs(t *testing.T) {
	m := New()
	m.WatchBacklog(func() int { return 4 })
	m.WatchOnline(func() []presence.Record {
		return []presence.Record{
			{Identity: "AG001", Role: presence.RoleAgent, Online: true},
			{Identity: "AG002", Role: presence.RoleAgent, Online: false},
			{Identity: "SUP01", Role: presence.RoleSupervisor, Online: true},
		}
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "wallboard_persistence_backlog 4")
	assert.True(t, strings.Contains(body, `wallboard_identities_online{role="Agent"} 1`))
	assert.True(t, strings.Contains(body, `wallboard_identities_online{role="Supervisor"} 1`))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Notify(t.Context(), presence.Event{})
		m.ConnectionOpened()
		m.ConnectionClosed()
		m.StatusRequest(presence.ChannelHTTP, "error")
		m.DuplicateRequest(presence.ChannelHTTP)
		m.Delivered("x", 1)
		m.Dropped("x", 1)
		m.PersistenceFailed()
		m.DashboardPushed(1)
		m.StaleClosed(1)
		m.MessageSent("direct")
		m.JoinRefused()
		m.WatchBacklog(func() int { return 0 })
	})
}
