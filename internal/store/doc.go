// Package store persists presence state for wallboard-gateway.
//
// # Tables
//
//   - presence: one row per identity, written with a version guard so a
//     replayed or out-of-order write never moves a row backwards
//   - status_history: one row per (identity, version), insert-or-ignore
//   - messages: supervisor direct and broadcast messages
//   - dashboard_history: periodic dashboard summaries
//
// SQLiteStore uses modernc.org/sqlite (pure Go). MockStore keeps everything
// in memory and can be told to fail writes, for tests.
package store
