// ABOUTME: Health reporting over gRPC and HTTP
// ABOUTME: Mirrors the hub's health probe into the standard grpc.health.v1 service

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the service name reported alongside the overall "" entry.
const HealthService = "wallboard.Presence"

func registerHealth(s *grpc.Server, hs *health.Server) {
	healthpb.RegisterHealthServer(s, hs)
}

// updateHealth publishes the hub's current health to the gRPC health service.
func (g *Gateway) updateHealth(ctx context.Context) bool {
	healthy := g.hub.Healthy() && g.store.Ping(ctx) == nil

	status := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(HealthService, status)
	return healthy
}

// watchHealth refreshes the gRPC health status until ctx is canceled.
func (g *Gateway) watchHealth(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	wasHealthy := g.updateHealth(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			healthy := g.updateHealth(ctx)
			if healthy != wasHealthy {
				g.logger.Warn("health changed", "healthy", healthy)
				wasHealthy = healthy
			}
		}
	}
}

// readyResponse is the JSON body of GET /health/ready.
type readyResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 while the hub accepts operations and the store responds.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := readyResponse{Status: "ready", Connections: g.hub.Connections()}
	code := http.StatusOK
	if !g.updateHealth(r.Context()) {
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
