// ABOUTME: Dual-channel status client for the desktop agent
// ABOUTME: Sends over the socket first and falls back to HTTP only when the socket is not connected

package client

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/wallboard-gateway/internal/presence"
)

// StatusAck is the gateway's acknowledgement of an applied status change.
type StatusAck struct {
	Identity  presence.Identity `json:"identity"`
	Status    presence.Status   `json:"status"`
	Version   uint64            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	RequestID string            `json:"-"`
	// Channel is the path that carried the request.
	Channel presence.Channel `json:"-"`
}

// StatusSender applies a status change over one channel.
type StatusSender interface {
	SendStatus(ctx context.Context, status, requestID string) (StatusAck, error)
}

// StatusClient picks the channel for each status change. The socket is
// primary. The HTTP fallback is used only when the socket reports it is not
// connected; any other failure is returned without retrying.
type StatusClient struct {
	primary  StatusSender
	fallback StatusSender
	newID    func() string
	logger   *slog.Logger
}

// NewStatusClient creates a client. primary may be nil when no socket is open.
func NewStatusClient(primary, fallback StatusSender, logger *slog.Logger) *StatusClient {
	return &StatusClient{
		primary:  primary,
		fallback: fallback,
		newID:    uuid.NewString,
		logger:   logger.With("component", "status-client"),
	}
}

// SetPrimary replaces the socket channel, e.g. after a reconnect.
func (c *StatusClient) SetPrimary(primary StatusSender) {
	c.primary = primary
}

// SetStatus requests status. A single request ID is used on both channels so
// the gateway applies the change at most once even if both paths deliver it.
func (c *StatusClient) SetStatus(ctx context.Context, status string) (StatusAck, error) {
	requestID := c.newID()

	if c.primary != nil {
		ack, err := c.primary.SendStatus(ctx, status, requestID)
		if err == nil || !errors.Is(err, ErrNotConnected) {
			return ack, err
		}
		c.logger.Warn("socket not connected, using HTTP fallback",
			"request_id", requestID,
			"error", err,
		)
	}

	if c.fallback == nil {
		return StatusAck{}, ErrNotConnected
	}
	return c.fallback.SendStatus(ctx, status, requestID)
}
