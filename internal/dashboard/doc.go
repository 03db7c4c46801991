// Package dashboard summarizes presence for supervisors.
//
// A Snapshot counts Agent identities: total, online, offline, a per-status
// breakdown and the same per team. Supervisors and Admins are tracked by
// the presence package but left out of these numbers.
//
// The Aggregator pushes a snapshot to the dashboard topic on a fixed
// interval and whenever a presence transition triggers it. Periodic
// snapshots can also be written to the store as history.
package dashboard
