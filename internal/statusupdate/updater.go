// ABOUTME: Server side of the dual-channel status path shared by socket and HTTP
// ABOUTME: Collapses retries of one request ID across channels into a single transition

package statusupdate

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/2389/wallboard-gateway/internal/dedupe"
	"github.com/2389/wallboard-gateway/internal/presence"
)

const dedupeCapacity = 10000

// Request is one status-change request from either channel.
type Request struct {
	Identity presence.Identity
	Status   string
	Channel  presence.Channel
	// RequestID is an optional client key. The same key sent on both channels
	// is applied once and both callers receive the same event.
	RequestID string
}

// Result is the outcome of a status change.
type Result struct {
	Event presence.Event
	// Duplicate is true when the request ID had already been applied.
	Duplicate bool
}

// Updater funnels every status change into the coordinator.
// Concurrent requests for one identity without a shared request ID are all
// applied in the order the coordinator admits them; the last applied wins.
type Updater struct {
	coord  *presence.Coordinator
	group  singleflight.Group
	seen   *dedupe.Cache[presence.Event]
	logger *slog.Logger
}

// NewUpdater creates an Updater remembering request IDs for ttl.
func NewUpdater(coord *presence.Coordinator, ttl time.Duration, logger *slog.Logger) *Updater {
	return &Updater{
		coord:  coord,
		seen:   dedupe.New[presence.Event](ttl, dedupeCapacity),
		logger: logger.With("component", "status-updater"),
	}
}

// ApplyStatusChange validates and applies req. NotOnline and InvalidStatus
// errors from the coordinator are returned unchanged.
func (u *Updater) ApplyStatusChange(ctx context.Context, req Request) (Result, error) {
	status, err := presence.ParseStatus(req.Status)
	if err != nil {
		return Result{}, presence.ErrInvalidStatus
	}

	if req.RequestID == "" {
		ev, err := u.coord.SetStatus(ctx, req.Identity, status, req.Channel)
		if err != nil {
			return Result{}, err
		}
		return Result{Event: ev}, nil
	}

	key := requestKey(req.Identity, req.RequestID)
	if ev, ok := u.seen.Get(key); ok {
		u.logDuplicate(req, ev)
		return Result{Event: ev, Duplicate: true}, nil
	}

	executed := false
	v, err, _ := u.group.Do(key, func() (any, error) {
		if ev, ok := u.seen.Get(key); ok {
			return ev, nil
		}
		executed = true
		ev, err := u.coord.SetStatus(ctx, req.Identity, status, req.Channel)
		if err != nil {
			return presence.Event{}, err
		}
		u.seen.Put(key, ev)
		return ev, nil
	})
	if err != nil {
		return Result{}, err
	}

	ev := v.(presence.Event)
	if !executed {
		u.logDuplicate(req, ev)
	}
	return Result{Event: ev, Duplicate: !executed}, nil
}

// requestKey scopes a request ID to its identity. NUL cannot appear in a
// parsed identity, so keys from different identities never collide.
func requestKey(identity presence.Identity, requestID string) string {
	return string(identity) + "\x00" + requestID
}

// Close releases the request-ID cache.
func (u *Updater) Close() {
	u.seen.Close()
}

func (u *Updater) logDuplicate(req Request, ev presence.Event) {
	u.logger.Info("duplicate status request collapsed",
		"identity", req.Identity,
		"request_id", req.RequestID,
		"channel", req.Channel,
		"original_channel", ev.Channel,
		"version", ev.Version,
	)
}
