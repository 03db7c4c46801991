// ABOUTME: Error values shared by the socket and HTTP channels
// ABOUTME: Maps gateway error codes and HTTP statuses back to core sentinels

package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/2389/wallboard-gateway/internal/fanout"
	"github.com/2389/wallboard-gateway/internal/hub"
	"github.com/2389/wallboard-gateway/internal/messaging"
	"github.com/2389/wallboard-gateway/internal/presence"
)

var (
	// ErrNotConnected is returned when a request could not be sent because the
	// channel has no live link. Only this error triggers the fallback channel.
	ErrNotConnected = errors.New("not connected")

	// ErrConnectionLost is returned when the link dropped after a request was
	// sent and before its acknowledgement arrived.
	ErrConnectionLost = errors.New("connection lost awaiting acknowledgement")

	// ErrUnauthorized is returned when the gateway rejects the token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrServer is returned for gateway failures with no more specific meaning.
	ErrServer = errors.New("gateway error")
)

// codeErrors maps error-frame codes to sentinels.
var codeErrors = map[string]error{
	hub.CodeNotOnline:      presence.ErrNotOnline,
	hub.CodeInvalidStatus:  presence.ErrInvalidStatus,
	hub.CodeForbidden:      fanout.ErrForbidden,
	hub.CodeInvalidTopic:   fanout.ErrInvalidTopic,
	hub.CodeInvalidMessage: messaging.ErrInvalidMessage,
	hub.CodeNotFound:       presence.ErrNotFound,
}

// fromCode converts an error frame into an error matching the core sentinel.
func fromCode(code, message string) error {
	sentinel, ok := codeErrors[code]
	if !ok {
		sentinel = ErrServer
	}
	return fmt.Errorf("%w: %s (%s)", sentinel, message, code)
}

// fromHTTPStatus converts a non-2xx response into an error.
func fromHTTPStatus(status int, message string) error {
	var sentinel error
	switch status {
	case http.StatusConflict:
		sentinel = presence.ErrNotOnline
	case http.StatusBadRequest:
		sentinel = presence.ErrInvalidStatus
	case http.StatusUnauthorized:
		sentinel = ErrUnauthorized
	case http.StatusForbidden:
		sentinel = fanout.ErrForbidden
	case http.StatusNotFound:
		sentinel = presence.ErrNotFound
	default:
		sentinel = ErrServer
	}
	return fmt.Errorf("%w: %s (HTTP %d)", sentinel, message, status)
}
