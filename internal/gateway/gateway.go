// ABOUTME: Gateway orchestrator that coordinates the HTTP, socket and gRPC health servers
// ABOUTME: Owns the presence hub, store and stale-connection sweeper lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/keepalive"
	"tailscale.com/tsnet"

	"github.com/2389/wallboard-gateway/internal/auth"
	"github.com/2389/wallboard-gateway/internal/config"
	"github.com/2389/wallboard-gateway/internal/hub"
	"github.com/2389/wallboard-gateway/internal/metrics"
	"github.com/2389/wallboard-gateway/internal/presence"
	"github.com/2389/wallboard-gateway/internal/socket"
	"github.com/2389/wallboard-gateway/internal/store"
)

// healthCheckInterval is how often the gRPC health status is refreshed.
const healthCheckInterval = 5 * time.Second

// Gateway orchestrates the wallboard-gateway server components.
type Gateway struct {
	config      *config.Config
	store       store.Store
	hub         *hub.Hub
	metrics     *metrics.Metrics
	verifier    *auth.JWTVerifier
	socket      *socket.Handler
	health      *health.Server
	grpcServer  *grpc.Server
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// initStore opens the SQLite store named by the config.
func initStore(cfg *config.Config) (store.Store, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a Gateway backed by the configured SQLite database.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	gw, err := newGateway(cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

func newGateway(cfg *config.Config, s store.Store, logger *slog.Logger) (*Gateway, error) {
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	h := hub.New(s, m, hub.Config{
		ResumeStatusOnReconnect: cfg.Presence.ResumeStatusOnReconnect,
		RequestDedupeTTL:        cfg.Presence.RequestDedupeTTL,
		MaxMessageLength:        cfg.Messages.MaxLength,
		SaveDashboardHistory:    cfg.Dashboard.HistoryEnabled,
	}, logger)

	gw := &Gateway{
		config:   cfg,
		store:    s,
		hub:      h,
		metrics:  m,
		verifier: verifier,
		health:   health.NewServer(),
		logger:   logger.With("component", "gateway"),
	}

	gw.socket = socket.NewHandler(h, func(r *http.Request) (presence.Principal, error) {
		return auth.Authenticate(verifier, r)
	}, socket.Options{PongWait: cfg.Presence.HeartbeatTimeout}, logger)

	gw.grpcServer = grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	registerHealth(gw.grpcServer, gw.health)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the HTTP handler serving the API, socket and health routes.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Hub returns the presence hub.
func (g *Gateway) Hub() *hub.Hub {
	return g.hub
}

// setupTCPListeners creates standard TCP listeners for gRPC and HTTP.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = grpcLn.Close()
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	return grpcLn, httpLn, nil
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		g.warnIgnoredAddresses()
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// Run starts the gateway servers and blocks until the context is canceled.
// Returns nil on graceful shutdown, or the first server error.
func (g *Gateway) Run(ctx context.Context) error {
	grpcLn, httpLn, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}
	return g.Serve(ctx, grpcLn, httpLn)
}

// Serve runs the gateway on the given listeners until ctx is canceled.
func (g *Gateway) Serve(ctx context.Context, grpcLn, httpLn net.Listener) error {
	if err := g.hub.Start(ctx, g.config.Dashboard.PushInterval); err != nil {
		_ = grpcLn.Close()
		_ = httpLn.Close()
		return fmt.Errorf("starting hub: %w", err)
	}

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
		if err := g.grpcServer.Serve(grpcLn); err != nil {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		g.runSweeper(ctx)
		return nil
	})

	eg.Go(func() error {
		g.watchHealth(ctx)
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		g.logger.Info("context canceled, initiating shutdown")
		return g.gracefulShutdown()
	})

	return eg.Wait()
}

// runSweeper closes connections whose heartbeat is older than the timeout.
func (g *Gateway) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(g.config.Presence.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := g.hub.SweepStale(ctx, now.Add(-g.config.Presence.HeartbeatTimeout)); n > 0 {
				g.logger.Info("stale connections closed", "count", n)
			}
		}
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests, closes every live connection, and
// releases the store. Connections are closed before the store so their
// offline transitions are persisted.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.health.Shutdown()
	g.shutdownGRPCServer(ctx)

	g.hub.Stop(ctx)
	g.socket.Wait()

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	return errors.Join(errs...)
}
