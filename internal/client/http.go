// ABOUTME: HTTP fallback channel to the gateway's REST API
// ABOUTME: Status changes plus the presence and dashboard reads used by the CLIs

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2389/wallboard-gateway/internal/dashboard"
	"github.com/2389/wallboard-gateway/internal/presence"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPChannel calls the gateway's /api routes with a bearer token.
type HTTPChannel struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPChannel creates a channel for baseURL (e.g. "http://gateway:8080").
// A nil client uses one with a 10s timeout.
func NewHTTPChannel(baseURL, token string, client *http.Client) *HTTPChannel {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPChannel{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

// SendStatus posts a status change.
func (h *HTTPChannel) SendStatus(ctx context.Context, status, requestID string) (StatusAck, error) {
	var env struct {
		RequestID string    `json:"requestId"`
		Payload   StatusAck `json:"payload"`
	}
	body := map[string]string{"status": status, "requestId": requestID}
	if err := h.do(ctx, http.MethodPost, "/api/presence/status", body, &env); err != nil {
		return StatusAck{}, err
	}
	ack := env.Payload
	ack.RequestID = env.RequestID
	ack.Channel = presence.ChannelHTTP
	return ack, nil
}

// Presence fetches one identity's record.
func (h *HTTPChannel) Presence(ctx context.Context, identity presence.Identity) (presence.Record, error) {
	var rec presence.Record
	err := h.do(ctx, http.MethodGet, "/api/presence/"+url.PathEscape(identity.String()), nil, &rec)
	return rec, err
}

// Dashboard fetches the current dashboard snapshot.
func (h *HTTPChannel) Dashboard(ctx context.Context) (dashboard.Snapshot, error) {
	var snap dashboard.Snapshot
	err := h.do(ctx, http.MethodGet, "/api/dashboard/snapshot", nil, &snap)
	return snap, err
}

// SendMessage posts a supervisor message and returns its ID and delivery count.
func (h *HTTPChannel) SendMessage(ctx context.Context, to, team, priority, content string) (string, int, error) {
	var env struct {
		Payload struct {
			ID        string `json:"id"`
			Delivered int    `json:"delivered"`
		} `json:"payload"`
	}
	body := map[string]string{"to": to, "team": team, "priority": priority, "content": content}
	if err := h.do(ctx, http.MethodPost, "/api/messages", body, &env); err != nil {
		return "", 0, err
	}
	return env.Payload.ID, env.Payload.Delivered, nil
}

func (h *HTTPChannel) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return fromHTTPStatus(resp.StatusCode, e.Error)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
