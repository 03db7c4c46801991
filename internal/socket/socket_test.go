// ABOUTME: Tests for the socket transport against a real hub over httptest
// ABOUTME: Covers frame decoding, status round trips, supersede and clean shutdown

package socket

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/2389/wallboard-gateway/internal/hub"
	"github.com/2389/wallboard-gateway/internal/presence"
	"github.com/2389/wallboard-gateway/internal/store"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		want    hub.Inbound
		wantID  string
		wantErr error
	}{
		{"status", `{"type":"status-change","requestId":"r1","payload":{"status":"Busy"}}`, hub.StatusChange{RequestID: "r1", Status: "Busy"}, "r1", nil},
		{"join monitor", `{"type":"join","payload":{"topic":"agent:AG001","monitor":true}}`, hub.Join{Topic: "agent:AG001", Monitor: true}, "", nil},
		{"leave", `{"type":"leave","payload":{"topic":"team:T1"}}`, hub.Leave{Topic: "team:T1"}, "", nil},
		{"ping without payload", `{"type":"ping","requestId":"p"}`, hub.Heartbeat{RequestID: "p"}, "p", nil},
		{"logout", `{"type":"logout"}`, hub.Logout{}, "", nil},
		{"unknown type", `{"type":"dance","requestId":"x"}`, nil, "x", ErrUnknownFrame},
		{"not json", `status please`, nil, "", ErrMalformedFrame},
		{"payload mismatch", `{"type":"status-change","requestId":"r2","payload":{"status":7}}`, nil, "r2", ErrMalformedFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, id, err := Decode([]byte(tt.frame))
			assert.Equal(t, tt.wantID, id)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, in)
		})
	}
}

// queryAuth trusts identity, role and team query parameters.
func queryAuth(r *http.Request) (presence.Principal, error) {
	q := r.URL.Query()
	if q.Get("identity") == "" {
		return presence.Principal{}, ErrUnauthenticated
	}
	role, err := presence.ParseRole(q.Get("role"))
	if err != nil {
		return presence.Principal{}, err
	}
	return presence.Principal{Identity: presence.Identity(q.Get("identity")), Role: role, Team: q.Get("team")}, nil
}

type server struct {
	hub     *hub.Hub
	handler *Handler
	srv     *httptest.Server
}

func newServer(t *testing.T) *server {
	t.Helper()
	h := hub.New(store.NewMockStore(), nil, hub.Config{RequestDedupeTTL: time.Minute}, slog.Default())
	handler := NewHandler(h, queryAuth, Options{}, slog.Default())
	srv := httptest.NewServer(handler)
	s := &server{hub: h, handler: handler, srv: srv}
	t.Cleanup(s.close)
	return s
}

func (s *server) close() {
	s.hub.Stop(context.Background())
	s.srv.Close()
	s.handler.Wait()
}

func (s *server) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws?" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type frame struct {
	Type      string         `json:"type"`
	RequestID string         `json:"requestId"`
	Payload   map[string]any `json:"payload"`
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// readUntil skips frames until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) frame {
	t.Helper()
	for {
		f := read(t, conn)
		if f.Type == typ {
			return f
		}
	}
}

func TestRejectsUnauthenticated(t *testing.T) {
	s := newServer(t)

	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStatusRoundTrip(t *testing.T) {
	s := newServer(t)
	sup := s.dial(t, "identity=SUP01&role=Supervisor&team=T1")
	readUntil(t, sup, "dashboard-snapshot")

	ag := s.dial(t, "identity=AG001&role=Agent&team=T1")
	success := readUntil(t, ag, "connection-success")
	record := success.Payload["record"].(map[string]any)
	assert.Equal(t, true, record["isOnline"])
	assert.Equal(t, "Available", record["status"])

	online := readUntil(t, sup, "agent-online")
	assert.Equal(t, "AG001", online.Payload["identity"])

	require.NoError(t, ag.WriteJSON(map[string]any{
		"type":      "status-change",
		"requestId": "r1",
		"payload":   map[string]string{"status": "Busy"},
	}))
	ack := readUntil(t, ag, "status-updated")
	assert.Equal(t, "r1", ack.RequestID)
	assert.Equal(t, "Busy", ack.Payload["status"])

	changed := readUntil(t, sup, "status-changed")
	assert.Equal(t, "Available", changed.Payload["previousStatus"])
	assert.Equal(t, "Busy", changed.Payload["newStatus"])
	assert.Equal(t, "socket", changed.Payload["channel"])
}

func TestInboundFramesRefreshHeartbeat(t *testing.T) {
	s := newServer(t)
	ag := s.dial(t, "identity=AG001&role=Agent")
	readUntil(t, ag, "connection-success")

	time.Sleep(20 * time.Millisecond)
	cutoff := time.Now()

	require.NoError(t, ag.WriteJSON(map[string]any{
		"type":      "status-change",
		"requestId": "r1",
		"payload":   map[string]string{"status": "Busy"},
	}))
	readUntil(t, ag, "status-updated")

	assert.Equal(t, 0, s.hub.SweepStale(t.Context(), cutoff))
	assert.Equal(t, 1, s.hub.Connections())
}

func TestBadFrameGetsErrorReply(t *testing.T) {
	s := newServer(t)
	ag := s.dial(t, "identity=AG001&role=Agent")
	readUntil(t, ag, "connection-success")

	require.NoError(t, ag.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance","requestId":"x1"}`)))
	f := readUntil(t, ag, "error")
	assert.Equal(t, "x1", f.RequestID)
	assert.Equal(t, CodeBadFrame, f.Payload["code"])

	// The connection survives a bad frame.
	require.NoError(t, ag.WriteJSON(map[string]string{"type": "ping", "requestId": "p1"}))
	assert.Equal(t, "p1", readUntil(t, ag, "pong").RequestID)
}

func TestSecondLoginClosesFirstSocket(t *testing.T) {
	s := newServer(t)
	first := s.dial(t, "identity=AG001&role=Agent")
	readUntil(t, first, "connection-success")

	second := s.dial(t, "identity=AG001&role=Agent")
	readUntil(t, second, "connection-success")

	superseded := readUntil(t, first, "session-superseded")
	assert.Equal(t, "AG001", superseded.Payload["identity"])

	require.NoError(t, first.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
			break
		}
	}

	rec, err := s.hub.Presence("AG001")
	require.NoError(t, err)
	assert.True(t, rec.Online)
}

func TestClientHangupGoesOffline(t *testing.T) {
	s := newServer(t)
	ag := s.dial(t, "identity=AG001&role=Agent")
	readUntil(t, ag, "connection-success")

	require.NoError(t, ag.Close())

	assert.Eventually(t, func() bool {
		rec, err := s.hub.Presence("AG001")
		return err == nil && !rec.Online
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, s.hub.Connections())
}

func TestShutdownLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := newServer(t)
	ag := s.dial(t, "identity=AG001&role=Agent")
	readUntil(t, ag, "connection-success")

	s.close()
	_ = ag.Close()
}
