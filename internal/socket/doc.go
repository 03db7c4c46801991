// Package socket is the WebSocket transport of the presence gateway.
//
// Each upgraded request becomes a Client with a read pump feeding decoded
// frames to the hub and a write pump draining its send queue. Frames are
// JSON objects of the form {"type", "requestId", "payload"}.
package socket
