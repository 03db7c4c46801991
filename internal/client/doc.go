// Package client is the desktop agent's side of the gateway protocol.
//
// # Overview
//
// A SocketChannel holds the agent's live WebSocket. It answers the gateway's
// pings while reading, correlates status-updated and error frames with the
// request that caused them, and exposes every other frame on Events.
//
// An HTTPChannel calls the REST fallback with the same bearer token.
//
// # Channel Selection
//
// StatusClient sends each status change over the socket first:
//
//	c := client.NewStatusClient(sock, client.NewHTTPChannel(url, token, nil), logger)
//	ack, err := c.SetStatus(ctx, "Busy")
//
// The HTTP fallback is attempted only when the socket returns ErrNotConnected,
// which means the frame never left the client. Both attempts share one request
// ID, so the gateway applies the change at most once. Any other failure,
// including ErrConnectionLost after the frame was written, is returned to the
// caller without a retry.
//
// # Errors
//
// Gateway error codes and HTTP statuses are mapped back to the core
// sentinels, so callers can match presence.ErrNotOnline or
// presence.ErrInvalidStatus with errors.Is whichever channel answered.
package client
