// ABOUTME: WebSocket channel from the desktop agent to the gateway
// ABOUTME: Correlates status acknowledgements by request ID and streams all other frames

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/2389/wallboard-gateway/internal/fanout"
	"github.com/2389/wallboard-gateway/internal/presence"
)

const (
	writeWait    = 10 * time.Second
	eventsBuffer = 64
)

// Frame is one frame received from the gateway.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SocketChannel is one live socket to the gateway.
type SocketChannel struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Frame

	events    chan Frame
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// SocketURL converts an http(s) gateway base URL into its ws(s) /ws endpoint.
func SocketURL(baseURL, token string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/ws")
	if err != nil {
		return "", fmt.Errorf("parsing gateway URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported gateway URL scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial opens a socket to the gateway at baseURL.
func Dial(ctx context.Context, baseURL, token string, logger *slog.Logger) (*SocketChannel, error) {
	endpoint, err := SocketURL(baseURL, token)
	if err != nil {
		return nil, err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusUnauthorized {
				return nil, backoff.Permanent(ErrUnauthorized)
			}
			return nil, fmt.Errorf("dialing gateway: %s", resp.Status)
		}
		return nil, fmt.Errorf("dialing gateway: %w", err)
	}
	_ = resp.Body.Close()

	s := &SocketChannel{
		conn:    conn,
		pending: make(map[string]chan Frame),
		events:  make(chan Frame, eventsBuffer),
		done:    make(chan struct{}),
		logger:  logger.With("component", "socket-channel"),
	}
	go s.readLoop()
	return s, nil
}

// DialWithRetry dials with exponential backoff until it succeeds, the token is
// rejected, or maxElapsed passes.
func DialWithRetry(ctx context.Context, baseURL, token string, maxElapsed time.Duration, logger *slog.Logger) (*SocketChannel, error) {
	return backoff.Retry(ctx, func() (*SocketChannel, error) {
		s, err := Dial(ctx, baseURL, token, logger)
		if err != nil {
			logger.Debug("gateway dial failed", "error", err)
		}
		return s, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(maxElapsed),
	)
}

// Events streams every frame that is not a correlated acknowledgement.
// Frames are dropped while the buffer is full. The channel is closed when the
// socket closes.
func (s *SocketChannel) Events() <-chan Frame {
	return s.events
}

// Done is closed when the socket has closed.
func (s *SocketChannel) Done() <-chan struct{} {
	return s.done
}

// SendStatus sends a status-change frame and waits for its acknowledgement.
func (s *SocketChannel) SendStatus(ctx context.Context, status, requestID string) (StatusAck, error) {
	reply, err := s.request(ctx, "status-change", requestID, map[string]string{"status": status})
	if err != nil {
		return StatusAck{}, err
	}
	var ack StatusAck
	if err := json.Unmarshal(reply.Payload, &ack); err != nil {
		return StatusAck{}, fmt.Errorf("decoding status acknowledgement: %w", err)
	}
	ack.RequestID = requestID
	ack.Channel = presence.ChannelSocket
	return ack, nil
}

// Ping sends an application heartbeat and waits for the pong.
func (s *SocketChannel) Ping(ctx context.Context, requestID string) error {
	_, err := s.request(ctx, "ping", requestID, nil)
	return err
}

// Logout asks the gateway to end the session. The gateway closes the socket.
func (s *SocketChannel) Logout() error {
	return s.write(Frame{Type: "logout"})
}

// Close closes the socket.
func (s *SocketChannel) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	s.writeMu.Unlock()
	err := s.conn.Close()
	<-s.done
	return err
}

// request sends a frame and waits for the reply carrying the same request ID.
// A failure before the frame is written reports ErrNotConnected.
func (s *SocketChannel) request(ctx context.Context, typ, requestID string, payload any) (Frame, error) {
	select {
	case <-s.done:
		return Frame{}, ErrNotConnected
	default:
	}

	f := Frame{Type: typ, RequestID: requestID}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Frame{}, fmt.Errorf("encoding %s payload: %w", typ, err)
		}
		f.Payload = data
	}

	reply := make(chan Frame, 1)
	s.mu.Lock()
	s.pending[requestID] = reply
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, requestID)
		s.mu.Unlock()
	}()

	if err := s.write(f); err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrNotConnected, err)
	}

	select {
	case r := <-reply:
		if r.Type == fanout.TypeError {
			var e errorPayload
			_ = json.Unmarshal(r.Payload, &e)
			return Frame{}, fromCode(e.Code, e.Message)
		}
		return r, nil
	case <-s.done:
		return Frame{}, ErrConnectionLost
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (s *SocketChannel) write(f Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.done:
		return errors.New("socket closed")
	default:
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(f)
}

// readLoop routes replies to waiting requests and everything else to Events.
// Reading also answers the gateway's pings.
func (s *SocketChannel) readLoop() {
	defer func() {
		s.closeOnce.Do(func() { close(s.done) })
		close(s.events)
	}()

	for {
		var f Frame
		if err := s.conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("socket read ended", "error", err)
			}
			return
		}

		if f.RequestID != "" {
			s.mu.Lock()
			reply, ok := s.pending[f.RequestID]
			s.mu.Unlock()
			if ok {
				select {
				case reply <- f:
				default:
				}
				continue
			}
		}

		select {
		case s.events <- f:
		default:
			s.logger.Warn("event buffer full, dropping frame", "type", f.Type)
		}
	}
}
