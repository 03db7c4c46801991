// ABOUTME: HTTP upgrade handler that admits authenticated sockets into the hub
// ABOUTME: Runs the read pump on the request goroutine and the write pump alongside

package socket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/wallboard-gateway/internal/hub"
	"github.com/2389/wallboard-gateway/internal/presence"
)

// ErrUnauthenticated is returned by an AuthFunc that finds no credentials.
var ErrUnauthenticated = errors.New("unauthenticated")

// AuthFunc resolves the verified principal of an upgrade request.
type AuthFunc func(r *http.Request) (presence.Principal, error)

// Options tunes socket timing and buffers.
type Options struct {
	// WriteWait bounds a single frame write.
	WriteWait time.Duration
	// PongWait is how long the connection may stay silent before it is
	// considered dead. Pings go out at nine tenths of it.
	PongWait       time.Duration
	MaxMessageSize int64
	SendBuffer     int
	// CheckOrigin is passed to the upgrader. Nil accepts any origin.
	CheckOrigin func(r *http.Request) bool
}

// DefaultOptions returns the standard socket timing.
func DefaultOptions() Options {
	return Options{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		MaxMessageSize: 64 * 1024,
		SendBuffer:     256,
	}
}

func (o Options) pingPeriod() time.Duration {
	return (o.PongWait * 9) / 10
}

// Handler upgrades HTTP requests to sockets bound to a hub.
type Handler struct {
	hub      *hub.Hub
	auth     AuthFunc
	opts     Options
	upgrader websocket.Upgrader
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewHandler creates a Handler. Zero option fields take their defaults.
func NewHandler(h *hub.Hub, auth AuthFunc, opts Options, logger *slog.Logger) *Handler {
	def := DefaultOptions()
	if opts.WriteWait <= 0 {
		opts.WriteWait = def.WriteWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = def.PongWait
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = def.MaxMessageSize
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		hub:  h,
		auth: auth,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		logger: logger.With("component", "socket"),
	}
}

// ServeHTTP authenticates, upgrades and serves one connection until it closes.
func (s *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, err := s.auth(r)
	if err != nil {
		s.logger.Debug("socket rejected", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("socket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	ctx := context.WithoutCancel(r.Context())
	client := newClient(conn, s.opts, s.logger)

	var pumps sync.WaitGroup
	pumps.Add(1)
	go func() {
		defer pumps.Done()
		client.writePump()
	}()

	connID, err := s.hub.Open(ctx, client, principal)
	if err != nil {
		s.logger.Warn("socket refused by hub",
			"identity", principal.Identity,
			"role", principal.Role,
			"error", err,
		)
		client.Close()
		pumps.Wait()
		return
	}
	client.connID = connID

	client.readPump(ctx, s.hub)

	s.hub.Disconnect(ctx, connID)
	client.Close()
	pumps.Wait()
}

// Wait blocks until every connection served by this handler has ended.
func (s *Handler) Wait() {
	s.wg.Wait()
}
