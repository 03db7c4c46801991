// ABOUTME: One WebSocket connection with its read and write pumps
// ABOUTME: Implements fanout.Sink so the hub can deliver frames to it

package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/wallboard-gateway/internal/fanout"
	"github.com/2389/wallboard-gateway/internal/hub"
	"github.com/2389/wallboard-gateway/internal/presence"
)

// ErrSendBufferFull is returned by Send when the connection cannot keep up.
var ErrSendBufferFull = errors.New("send buffer full")

// Client is one live socket. Send never blocks; frames queue on a buffered
// channel drained by the write pump.
type Client struct {
	conn   *websocket.Conn
	opts   Options
	logger *slog.Logger

	connID presence.ConnectionID
	send   chan []byte

	closeOnce sync.Once
	closed    atomic.Bool
	done      chan struct{}
}

func newClient(conn *websocket.Conn, opts Options, logger *slog.Logger) *Client {
	return &Client{
		conn:   conn,
		opts:   opts,
		logger: logger,
		send:   make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
	}
}

// Send queues env for the write pump.
func (c *Client) Send(env fanout.Envelope) error {
	if c.closed.Load() {
		return fanout.ErrSubscriberGone
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding %s frame: %w", env.Type, err)
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return fanout.ErrSubscriberGone
	default:
		return ErrSendBufferFull
	}
}

// Close stops the write pump after it flushes queued frames. Safe to call
// more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
}

// readPump feeds inbound frames to the hub until the connection fails.
func (c *Client) readPump(ctx context.Context, h *hub.Hub) {
	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		h.Touch(c.connID)
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("socket read failed", "connection_id", c.connID, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		h.Touch(c.connID)

		in, requestID, err := Decode(data)
		if err != nil {
			c.logger.Debug("bad frame", "connection_id", c.connID, "error", err)
			_ = c.Send(fanout.ErrorEnvelope(requestID, CodeBadFrame, err.Error()))
			continue
		}
		h.Handle(ctx, c.connID, in)
	}
}

// writePump writes queued frames and keepalive pings. Once the client is
// closed it flushes what is queued, sends a close frame and exits.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.pingPeriod())
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			for {
				select {
				case data := <-c.send:
					if err := c.write(websocket.TextMessage, data); err != nil {
						return
					}
				default:
					_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	return c.conn.WriteMessage(messageType, data)
}
