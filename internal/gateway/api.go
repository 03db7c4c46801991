// ABOUTME: HTTP fallback API and router for the presence gateway
// ABOUTME: Status changes, presence and dashboard reads, supervisor messages, health and the socket endpoint

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/2389/wallboard-gateway/internal/auth"
	"github.com/2389/wallboard-gateway/internal/dashboard"
	"github.com/2389/wallboard-gateway/internal/fanout"
	"github.com/2389/wallboard-gateway/internal/hub"
	"github.com/2389/wallboard-gateway/internal/messaging"
	"github.com/2389/wallboard-gateway/internal/presence"
	"github.com/2389/wallboard-gateway/internal/statusupdate"
	"github.com/2389/wallboard-gateway/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// StatusChangeRequest is the JSON request body for POST /api/presence/status.
type StatusChangeRequest struct {
	Status    string `json:"status"`
	RequestID string `json:"requestId,omitempty"`
}

// HistoryEntryResponse is one row of GET /api/presence/{identity}/history.
type HistoryEntryResponse struct {
	Version        uint64                `json:"version"`
	Kind           presence.EventKind    `json:"kind"`
	PreviousStatus presence.Status       `json:"previousStatus"`
	Status         presence.Status       `json:"status"`
	Channel        presence.Channel      `json:"channel"`
	ConnectionID   presence.ConnectionID `json:"connectionId,omitempty"`
	ChangedAt      time.Time             `json:"changedAt"`
}

// routes builds the HTTP handler tree.
func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)
	if g.metrics != nil {
		r.Handle(g.config.Metrics.Path, g.metrics.Handler())
	}
	r.Handle("/ws", g.socket)

	r.Route("/api", func(r chi.Router) {
		r.Use(httprate.Limit(
			g.config.RateLimit.RequestsPerMinute,
			time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(g.handleRateLimited),
		))
		r.Use(auth.HTTPAuthMiddleware(g.verifier))

		r.Get("/presence", g.handleListPresence)
		r.Post("/presence/status", g.handleStatusChange)
		r.Get("/presence/{identity}", g.handleGetPresence)
		r.Get("/presence/{identity}/history", g.handleStatusHistory)
		r.Get("/dashboard/snapshot", g.handleDashboardSnapshot)
		r.Get("/dashboard/history", g.handleDashboardHistory)
		r.Get("/messages/{identity}", g.handleListMessages)
		r.Post("/messages", g.handleSendMessage)
	})

	return r
}

// handleStatusChange is the fallback path for status changes. The response
// body is the same status-updated frame the socket path acknowledges with.
func (g *Gateway) handleStatusChange(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())

	var req StatusChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := g.hub.ApplyStatusChange(r.Context(), statusupdate.Request{
		Identity:  p.Identity,
		Status:    req.Status,
		Channel:   presence.ChannelHTTP,
		RequestID: req.RequestID,
	})
	if err != nil {
		g.sendHubError(w, err)
		return
	}

	env := hub.StatusUpdated(res.Event)
	env.RequestID = req.RequestID
	g.sendJSON(w, http.StatusOK, env)
}

// handleListPresence returns every known record. Monitors only.
func (g *Gateway) handleListPresence(w http.ResponseWriter, r *http.Request) {
	if !g.requireMonitor(w, r) {
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"records": g.hub.PresenceAll()})
}

// handleGetPresence returns one identity's record.
func (g *Gateway) handleGetPresence(w http.ResponseWriter, r *http.Request) {
	id, ok := g.authorizeIdentity(w, r)
	if !ok {
		return
	}
	rec, err := g.hub.Presence(id)
	if err != nil {
		g.sendHubError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, rec)
}

// handleStatusHistory returns persisted transitions of one identity, newest first.
func (g *Gateway) handleStatusHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := g.authorizeIdentity(w, r)
	if !ok {
		return
	}
	limit, ok := g.parseLimit(w, r)
	if !ok {
		return
	}

	entries, err := g.hub.History(r.Context(), id, limit)
	if err != nil {
		g.logger.Error("failed to list status history", "identity", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]HistoryEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, historyEntryResponse(e))
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"identity": id, "history": resp})
}

// handleDashboardSnapshot returns the current dashboard counts. Monitors only.
func (g *Gateway) handleDashboardSnapshot(w http.ResponseWriter, r *http.Request) {
	if !g.requireMonitor(w, r) {
		return
	}
	g.sendJSON(w, http.StatusOK, g.hub.Dashboard())
}

// handleDashboardHistory returns persisted periodic snapshots, newest first. Monitors only.
func (g *Gateway) handleDashboardHistory(w http.ResponseWriter, r *http.Request) {
	if !g.requireMonitor(w, r) {
		return
	}
	limit, ok := g.parseLimit(w, r)
	if !ok {
		return
	}

	stored, err := g.store.ListDashboardSnapshots(r.Context(), limit)
	if err != nil {
		g.logger.Error("failed to list dashboard snapshots", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	snaps := make([]dashboard.Snapshot, 0, len(stored))
	for _, s := range stored {
		snaps = append(snaps, dashboard.FromStored(s))
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
}

// handleListMessages returns the messages visible to one identity, newest first.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := g.authorizeIdentity(w, r)
	if !ok {
		return
	}
	limit, ok := g.parseLimit(w, r)
	if !ok {
		return
	}

	// Team broadcasts are matched against the identity's current team.
	var team string
	if p, _ := auth.FromContext(r.Context()); p.Identity == id {
		team = p.Team
	} else if rec, err := g.hub.Presence(id); err == nil {
		team = rec.Team
	}

	msgs, err := g.hub.Messages(r.Context(), id, team, limit)
	if err != nil {
		g.logger.Error("failed to list messages", "identity", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]messaging.Payload, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, messaging.PayloadOf(m))
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"identity": id, "messages": resp})
}

// handleSendMessage relays a supervisor message.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())

	var req messaging.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg, delivered, err := g.hub.SendMessage(r.Context(), p, req)
	if err != nil {
		g.sendHubError(w, err)
		return
	}
	g.sendJSON(w, http.StatusCreated, fanout.Envelope{
		Type:    fanout.TypeMessageSent,
		Payload: messaging.SentPayload{ID: msg.ID, Delivered: delivered},
	})
}

// handleRateLimited answers requests rejected by the limiter.
func (g *Gateway) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Retry-After", "60")
	g.sendJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
}

// requireMonitor rejects callers whose role cannot watch the dashboard.
func (g *Gateway) requireMonitor(w http.ResponseWriter, r *http.Request) bool {
	p, _ := auth.FromContext(r.Context())
	if !p.Role.CanMonitor() {
		g.sendJSONError(w, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}

// authorizeIdentity parses the {identity} path parameter and allows the
// identity itself or a monitor.
func (g *Gateway) authorizeIdentity(w http.ResponseWriter, r *http.Request) (presence.Identity, bool) {
	id, err := presence.ParseIdentity(chi.URLParam(r, "identity"))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid identity")
		return "", false
	}
	p, _ := auth.FromContext(r.Context())
	if p.Identity != id && !p.Role.CanMonitor() {
		g.sendJSONError(w, http.StatusForbidden, "forbidden")
		return "", false
	}
	return id, true
}

// parseLimit reads the optional ?limit=N parameter (default 20, max 100).
func (g *Gateway) parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit := defaultListLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return 0, false
		}
		limit = min(parsed, maxListLimit)
	}
	return limit, true
}

func historyEntryResponse(e *store.StatusHistoryEntry) HistoryEntryResponse {
	return HistoryEntryResponse{
		Version:        e.Version,
		Kind:           e.Kind,
		PreviousStatus: e.Previous,
		Status:         e.Status,
		Channel:        e.Channel,
		ConnectionID:   e.ConnectionID,
		ChangedAt:      e.ChangedAt,
	}
}

// httpStatus maps a core error to its HTTP status.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, presence.ErrNotOnline):
		return http.StatusConflict
	case errors.Is(err, presence.ErrInvalidStatus), errors.Is(err, messaging.ErrInvalidMessage),
		errors.Is(err, fanout.ErrInvalidTopic):
		return http.StatusBadRequest
	case errors.Is(err, fanout.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, presence.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// sendHubError writes err with its mapped status. Internal errors are logged
// and not echoed to the caller.
func (g *Gateway) sendHubError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		g.logger.Error("request failed", "error", err)
		g.sendJSONError(w, status, "internal server error")
		return
	}
	g.sendJSONError(w, status, err.Error())
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response with the given status code and message.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
