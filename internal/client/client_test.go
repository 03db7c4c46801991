// ABOUTME: Tests for the desktop client channels against a real gateway handler
// ABOUTME: Covers socket acks, error mapping, HTTP fallback policy and request-ID reuse

package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/wallboard-gateway/internal/auth"
	"github.com/2389/wallboard-gateway/internal/config"
	"github.com/2389/wallboard-gateway/internal/fanout"
	"github.com/2389/wallboard-gateway/internal/gateway"
	"github.com/2389/wallboard-gateway/internal/presence"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var (
	agent      = presence.Principal{Identity: "AG001", Role: presence.RoleAgent, Team: "T1"}
	supervisor = presence.Principal{Identity: "SUP01", Role: presence.RoleSupervisor, Team: "T1"}
)

type testEnv struct {
	url      string
	verifier *auth.JWTVerifier
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "wallboard.db")},
		Auth:     config.AuthConfig{JWTSecret: testSecret},
		Presence: config.PresenceConfig{
			HeartbeatTimeout: time.Minute,
			SweepInterval:    time.Second,
			RequestDedupeTTL: time.Minute,
		},
		Dashboard: config.DashboardConfig{PushInterval: time.Hour},
		Messages:  config.MessagesConfig{MaxLength: 500},
		RateLimit: config.RateLimitConfig{RequestsPerMinute: 1000},
	}
	gw, err := gateway.New(cfg, slog.Default())
	require.NoError(t, err)
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		_ = gw.Shutdown(context.Background())
		srv.Close()
	})

	v, err := auth.NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)
	return &testEnv{url: srv.URL, verifier: v}
}

func (e *testEnv) token(t *testing.T, p presence.Principal) string {
	t.Helper()
	tok, err := e.verifier.Generate(p, time.Hour)
	require.NoError(t, err)
	return tok
}

// dial opens a socket for p and waits until the gateway has admitted it.
func (e *testEnv) dial(t *testing.T, p presence.Principal) *SocketChannel {
	t.Helper()
	s, err := Dial(t.Context(), e.url, e.token(t, p), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	waitFor(t, s, fanout.TypeConnectionSuccess)
	return s
}

func waitFor(t *testing.T, s *SocketChannel, typ string) Frame {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-s.Events():
			require.True(t, ok, "socket closed waiting for %s", typ)
			if f.Type == typ {
				return f
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestSocketURL(t *testing.T) {
	tests := []struct {
		base    string
		want    string
		wantErr bool
	}{
		{"http://gw:8080", "ws://gw:8080/ws?token=tok", false},
		{"https://gw.example.ts.net/", "wss://gw.example.ts.net/ws?token=tok", false},
		{"ws://gw", "ws://gw/ws?token=tok", false},
		{"ftp://gw", "", true},
	}
	for _, tt := range tests {
		got, err := SocketURL(tt.base, "tok")
		if tt.wantErr {
			assert.Error(t, err, tt.base)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestSocketSendStatus(t *testing.T) {
	env := newEnv(t)
	s := env.dial(t, agent)

	ack, err := s.SendStatus(t.Context(), "Busy", "req-1")
	require.NoError(t, err)
	assert.Equal(t, presence.StatusBusy, ack.Status)
	assert.Equal(t, uint64(2), ack.Version)
	assert.Equal(t, presence.ChannelSocket, ack.Channel)
	assert.Equal(t, "req-1", ack.RequestID)
}

func TestSocketErrorFrameMapsToSentinel(t *testing.T) {
	env := newEnv(t)
	s := env.dial(t, agent)

	_, err := s.SendStatus(t.Context(), "Napping", "req-bad")
	assert.ErrorIs(t, err, presence.ErrInvalidStatus)

	require.NoError(t, s.Ping(t.Context(), "hb-1"))
}

func TestDialRejectsBadToken(t *testing.T) {
	env := newEnv(t)
	_, err := Dial(t.Context(), env.url, "not-a-token", slog.Default())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSupervisorSeesEvents(t *testing.T) {
	env := newEnv(t)
	sup := env.dial(t, supervisor)
	ag := env.dial(t, agent)

	f := waitFor(t, sup, fanout.TypeAgentOnline)
	assert.Contains(t, string(f.Payload), `"AG001"`)

	_, err := ag.SendStatus(t.Context(), "Break", "req-2")
	require.NoError(t, err)
	f = waitFor(t, sup, fanout.TypeStatusChanged)
	assert.Contains(t, string(f.Payload), `"newStatus":"Break"`)
}

func TestHTTPChannel(t *testing.T) {
	env := newEnv(t)
	h := NewHTTPChannel(env.url, env.token(t, agent), nil)

	_, err := h.SendStatus(t.Context(), "Busy", "req-offline")
	assert.ErrorIs(t, err, presence.ErrNotOnline)

	env.dial(t, agent)
	ack, err := h.SendStatus(t.Context(), "Busy", "req-3")
	require.NoError(t, err)
	assert.Equal(t, presence.ChannelHTTP, ack.Channel)
	assert.Equal(t, "req-3", ack.RequestID)

	rec, err := h.Presence(t.Context(), "AG001")
	require.NoError(t, err)
	assert.Equal(t, presence.StatusBusy, rec.Status)

	_, err = h.Dashboard(t.Context())
	assert.ErrorIs(t, err, fanout.ErrForbidden)

	sup := NewHTTPChannel(env.url, env.token(t, supervisor), nil)
	snap, err := sup.Dashboard(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, snap.PerStatus[presence.StatusBusy])

	id, delivered, err := sup.SendMessage(t.Context(), "AG001", "", "high", "Break over")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, delivered)
}

func TestRequestIDAppliedOnceAcrossChannels(t *testing.T) {
	env := newEnv(t)
	s := env.dial(t, agent)
	h := NewHTTPChannel(env.url, env.token(t, agent), nil)

	viaSocket, err := s.SendStatus(t.Context(), "Break", "same-id")
	require.NoError(t, err)
	viaHTTP, err := h.SendStatus(t.Context(), "Break", "same-id")
	require.NoError(t, err)

	assert.Equal(t, viaSocket.Version, viaHTTP.Version)
	rec, err := h.Presence(t.Context(), "AG001")
	require.NoError(t, err)
	assert.Equal(t, viaSocket.Version, rec.Version)
}

func TestStatusClientFallsBackWhenSocketClosed(t *testing.T) {
	env := newEnv(t)
	closed := env.dial(t, supervisor)
	require.NoError(t, closed.Close())
	live := env.dial(t, agent)

	c := NewStatusClient(closed, NewHTTPChannel(env.url, env.token(t, agent), nil), slog.Default())
	ack, err := c.SetStatus(t.Context(), "Busy")
	require.NoError(t, err)
	assert.Equal(t, presence.ChannelHTTP, ack.Channel)
	assert.Equal(t, presence.StatusBusy, ack.Status)

	c.SetPrimary(live)
	ack, err = c.SetStatus(t.Context(), "Available")
	require.NoError(t, err)
	assert.Equal(t, presence.ChannelSocket, ack.Channel)
}

type fakeSender struct {
	err   error
	calls []string
}

func (f *fakeSender) SendStatus(_ context.Context, status, requestID string) (StatusAck, error) {
	f.calls = append(f.calls, requestID)
	if f.err != nil {
		return StatusAck{}, f.err
	}
	return StatusAck{Status: presence.Status(status), RequestID: requestID}, nil
}

func TestStatusClientFallbackPolicy(t *testing.T) {
	tests := []struct {
		name         string
		primaryErr   error
		wantFallback bool
		wantErr      error
	}{
		{"primary succeeds", nil, false, nil},
		{"not connected falls back", ErrNotConnected, true, nil},
		{"wrapped not connected falls back", errors.Join(ErrNotConnected, errors.New("broken pipe")), true, nil},
		{"not online is returned", presence.ErrNotOnline, false, presence.ErrNotOnline},
		{"lost after send is returned", ErrConnectionLost, false, ErrConnectionLost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := &fakeSender{err: tt.primaryErr}
			fallback := &fakeSender{}
			c := NewStatusClient(primary, fallback, slog.Default())

			_, err := c.SetStatus(t.Context(), "Busy")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			require.Len(t, primary.calls, 1)
			if tt.wantFallback {
				require.Len(t, fallback.calls, 1)
				assert.Equal(t, primary.calls[0], fallback.calls[0], "fallback reuses the request ID")
			} else {
				assert.Empty(t, fallback.calls)
			}
		})
	}
}

func TestStatusClientWithoutChannels(t *testing.T) {
	c := NewStatusClient(nil, nil, slog.Default())
	_, err := c.SetStatus(t.Context(), "Busy")
	assert.ErrorIs(t, err, ErrNotConnected)
}
