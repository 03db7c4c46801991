// ABOUTME: Core presence data model: identities, roles, statuses, records and events
// ABOUTME: Canonical identity-code type shared by every transport at the core boundary

package presence

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotOnline is returned when a status change targets an identity with no active connection.
	ErrNotOnline = errors.New("identity is not online")

	// ErrInvalidStatus is returned for a status outside Available/Busy/Break/Offline.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrInvalidRole is returned for a role outside Agent/Supervisor/Admin.
	ErrInvalidRole = errors.New("invalid role")

	// ErrInvalidIdentity is returned for an empty or malformed identity code.
	ErrInvalidIdentity = errors.New("invalid identity")

	// ErrInvalidConnection is returned when a connection ID is empty.
	ErrInvalidConnection = errors.New("invalid connection id")

	// ErrDuplicateConnection is returned when the same connection ID is registered twice.
	ErrDuplicateConnection = errors.New("duplicate connection")

	// ErrNotFound is returned when a connection or identity is unknown.
	ErrNotFound = errors.New("not found")
)

// Identity is the stable code of an agent, supervisor or admin account.
// Codes are case-insensitive on input and stored upper-case.
type Identity string

// ParseIdentity normalizes a raw identity code.
func ParseIdentity(raw string) (Identity, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" {
		return "", ErrInvalidIdentity
	}
	if strings.ContainsAny(code, ": \t\r\n\x00") {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentity, raw)
	}
	return Identity(code), nil
}

func (i Identity) String() string { return string(i) }

// Role is the account role bound to a connection.
type Role string

const (
	RoleAgent      Role = "Agent"
	RoleSupervisor Role = "Supervisor"
	RoleAdmin      Role = "Admin"
)

// ParseRole accepts a role name in any letter case.
func ParseRole(raw string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "agent":
		return RoleAgent, nil
	case "supervisor":
		return RoleSupervisor, nil
	case "admin":
		return RoleAdmin, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, raw)
}

// CanMonitor reports whether the role may watch other identities and the dashboard.
func (r Role) CanMonitor() bool {
	return r == RoleSupervisor || r == RoleAdmin
}

// Status is the declared work status of an identity.
type Status string

const (
	StatusAvailable Status = "Available"
	StatusBusy      Status = "Busy"
	StatusBreak     Status = "Break"
	StatusOffline   Status = "Offline"
)

// Statuses lists every valid status in display order.
var Statuses = []Status{StatusAvailable, StatusBusy, StatusBreak, StatusOffline}

// ParseStatus accepts a status name in any letter case.
func ParseStatus(raw string) (Status, error) {
	s := strings.TrimSpace(raw)
	for _, st := range Statuses {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

// Valid reports whether s is one of the four enumerated statuses.
func (s Status) Valid() bool {
	for _, st := range Statuses {
		if s == st {
			return true
		}
	}
	return false
}

// resumable reports whether s is a deliberate mid-shift state worth restoring on reconnect.
func (s Status) resumable() bool {
	return s == StatusBusy || s == StatusBreak
}

// Channel names the path a transition arrived on.
type Channel string

const (
	ChannelSocket Channel = "socket"
	ChannelHTTP   Channel = "http"
	// ChannelSystem marks transitions made by the gateway itself (startup reconciliation).
	ChannelSystem Channel = "system"
)

// ConnectionID identifies one physical link. Opaque and unique per link.
type ConnectionID string

// Principal is the verified (identity, role, team) triple supplied by the auth collaborator.
type Principal struct {
	Identity Identity
	Role     Role
	Team     string
}

// Connection is the ephemeral registry entry for a live link.
type Connection struct {
	ID            ConnectionID
	Identity      Identity
	Role          Role
	Team          string
	EstablishedAt time.Time
	LastHeartbeat time.Time
}

// Record is the long-lived presence state of one identity.
type Record struct {
	Identity     Identity     `json:"identity"`
	Role         Role         `json:"role"`
	Team         string       `json:"team,omitempty"`
	Status       Status       `json:"status"`
	Online       bool         `json:"isOnline"`
	ConnectionID ConnectionID `json:"connectionId,omitempty"`
	ChangedAt    time.Time    `json:"lastStatusChange"`
	Version      uint64       `json:"version"`
}

// DisplayStatus is the status to show: Offline whenever the identity is not online.
func (r Record) DisplayStatus() Status {
	if !r.Online {
		return StatusOffline
	}
	return r.Status
}

// EventKind classifies an accepted transition.
type EventKind string

const (
	EventOnline  EventKind = "agent-online"
	EventOffline EventKind = "agent-offline"
	EventStatus  EventKind = "status-changed"
)

// Event is the immutable value emitted for every accepted transition.
type Event struct {
	Kind         EventKind
	Identity     Identity
	Role         Role
	Team         string
	Previous     Status
	Status       Status
	Version      uint64
	At           time.Time
	Channel      Channel
	ConnectionID ConnectionID
	// Superseded is the connection evicted by this connect, if any.
	Superseded ConnectionID
}
