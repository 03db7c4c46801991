// Package gateway wires the presence hub to its network surfaces.
//
// # Overview
//
// A Gateway owns the store, the presence hub, the WebSocket handler, the
// HTTP fallback API and a gRPC server exposing only the standard health
// service. Listeners are plain TCP or, when configured, tailnet listeners
// from an embedded tsnet node.
//
// # HTTP API
//
// Unauthenticated:
//
//   - GET /health - Liveness check
//   - GET /health/ready - Hub and store health
//   - GET /metrics - Prometheus collectors (when enabled)
//   - GET /ws - WebSocket upgrade; token in the Authorization header or ?token=
//
// Authenticated (Bearer JWT) and rate limited per client IP:
//
//   - POST /api/presence/status - Fallback status change
//   - GET /api/presence - All records (monitors)
//   - GET /api/presence/{identity} - One record (self or monitor)
//   - GET /api/presence/{identity}/history - Status transitions
//   - GET /api/dashboard/snapshot - Current counts (monitors)
//   - GET /api/dashboard/history - Stored periodic snapshots (monitors)
//   - GET /api/messages/{identity} - Messages visible to an identity
//   - POST /api/messages - Supervisor direct or broadcast message
//
// Core errors map to 409 (not online), 400 (invalid status, topic or
// message), 403 (forbidden) and 404 (unknown identity).
//
// # Background Loops
//
// Serve runs the servers alongside a sweeper that closes connections whose
// heartbeat is older than presence.heartbeat_timeout, and a watcher that
// mirrors hub health into the gRPC health service. Canceling the context
// shuts everything down: HTTP first, then gRPC, then every live connection
// goes offline before the store is closed.
package gateway
