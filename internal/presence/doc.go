// Package presence tracks which identities are connected and what work
// status they have declared.
//
// # Overview
//
// Three pieces make up the package:
//
//   - Registry: the in-memory table of live connections
//   - Coordinator: the per-identity state machine for online/offline and status
//   - DurableWriter: write-through persistence with background retry
//
// # State Machine
//
// Each identity cycles through:
//
//	Offline -> Online/Available -> Online/{Busy,Break,...} -> Offline
//
// Key operations:
//
//   - Connect(ctx, principal, connID): go online, evicting any other active connection
//   - SetStatus(ctx, identity, status, channel): change status while online
//   - Disconnect(ctx, identity, connID): go offline; ignored for stale connections
//   - Reconcile(ctx): on startup, mark records persisted as online offline
//
// Every accepted transition bumps the identity's version by exactly one and
// produces an Event.
//
// # Concurrency
//
// Transitions for one identity run under that identity's lock. Neither
// persistence nor delivery runs under it. Events are appended to a
// per-identity outbox and drained in version order, so notifiers see the
// transitions of one identity in the order they were applied.
//
// # Persistence
//
// The in-memory record is authoritative. Each transition is written once
// before the caller returns; if that write fails it is retried in the
// background and the transition still succeeds. Probe turns false while
// the retry backlog is full.
package presence
