// ABOUTME: Dashboard aggregator computing floor-wide presence counts
// ABOUTME: Pushes snapshots to the dashboard topic periodically and on demand

package dashboard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/wallboard-gateway/internal/fanout"
	"github.com/2389/wallboard-gateway/internal/presence"
	"github.com/2389/wallboard-gateway/internal/store"
)

// TeamCounts summarizes one team.
type TeamCounts struct {
	Total     int                     `json:"total"`
	Online    int                     `json:"online"`
	PerStatus map[presence.Status]int `json:"perStatusCounts"`
}

// Snapshot is the dashboard summary. Only Agent identities are counted.
type Snapshot struct {
	Total     int                     `json:"total"`
	Online    int                     `json:"online"`
	Offline   int                     `json:"offline"`
	PerStatus map[presence.Status]int `json:"perStatusCounts"`
	PerTeam   map[string]TeamCounts   `json:"perTeam,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

// Compute summarizes recs in one pass. Offline identities count under Offline
// whatever status they last held.
func Compute(recs []presence.Record, at time.Time) Snapshot {
	snap := Snapshot{
		PerStatus: emptyCounts(),
		PerTeam:   make(map[string]TeamCounts),
		Timestamp: at,
	}
	for _, rec := range recs {
		if rec.Role != presence.RoleAgent {
			continue
		}
		st := rec.DisplayStatus()
		snap.Total++
		if rec.Online {
			snap.Online++
		} else {
			snap.Offline++
		}
		snap.PerStatus[st]++

		if rec.Team == "" {
			continue
		}
		tc, ok := snap.PerTeam[rec.Team]
		if !ok {
			tc = TeamCounts{PerStatus: emptyCounts()}
		}
		tc.Total++
		if rec.Online {
			tc.Online++
		}
		tc.PerStatus[st]++
		snap.PerTeam[rec.Team] = tc
	}
	return snap
}

func emptyCounts() map[presence.Status]int {
	counts := make(map[presence.Status]int, len(presence.Statuses))
	for _, st := range presence.Statuses {
		counts[st] = 0
	}
	return counts
}

// Source supplies the current presence records.
type Source interface {
	Snapshot() []presence.Record
}

// Publisher delivers a frame to a topic.
type Publisher interface {
	Publish(topic fanout.Topic, env fanout.Envelope) int
}

// HistoryWriter persists periodic snapshots.
type HistoryWriter interface {
	SaveDashboardSnapshot(ctx context.Context, snap *store.DashboardSnapshot) error
}

// Options configures an Aggregator.
type Options struct {
	// History, when set, receives every periodic snapshot.
	History HistoryWriter
	// OnPush is called with the delivery count of every push.
	OnPush func(delivered int)
	Now    func() time.Time
}

// Aggregator computes and pushes dashboard snapshots.
type Aggregator struct {
	source  Source
	pub     Publisher
	history HistoryWriter
	onPush  func(int)
	now     func() time.Time
	logger  *slog.Logger

	kick chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAggregator creates an Aggregator reading from source and publishing on pub.
func NewAggregator(source Source, pub Publisher, logger *slog.Logger, opts Options) *Aggregator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Aggregator{
		source:  source,
		pub:     pub,
		history: opts.History,
		onPush:  opts.OnPush,
		now:     now,
		logger:  logger.With("component", "dashboard"),
		kick:    make(chan struct{}, 1),
	}
}

// Snapshot computes the current summary.
func (a *Aggregator) Snapshot() Snapshot {
	return Compute(a.source.Snapshot(), a.now())
}

// Envelope wraps snap as a dashboard-snapshot frame.
func Envelope(snap Snapshot) fanout.Envelope {
	return fanout.Envelope{Type: fanout.TypeDashboardSnapshot, Payload: snap}
}

// Push computes a snapshot and publishes it to the dashboard topic.
func (a *Aggregator) Push() (Snapshot, int) {
	snap := a.Snapshot()
	n := a.pub.Publish(fanout.Dashboard, Envelope(snap))
	if a.onPush != nil {
		a.onPush(n)
	}
	return snap, n
}

// Trigger requests an immediate push from the periodic loop. Requests
// arriving while one is pending are merged.
func (a *Aggregator) Trigger() {
	select {
	case a.kick <- struct{}{}:
	default:
	}
}

// Notify triggers a push for every presence transition.
func (a *Aggregator) Notify(_ context.Context, _ presence.Event) {
	a.Trigger()
}

// StartPeriodicPush pushes a snapshot every interval, and whenever
// Trigger is called, until ctx is cancelled or Close is called.
func (a *Aggregator) StartPeriodicPush(ctx context.Context, interval time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return
	}
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go a.run(ctx, interval)

	a.logger.Info("dashboard push started", "interval", interval)
}

// Close stops the periodic push and waits for it to exit.
func (a *Aggregator) Close() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	a.wg.Wait()
}

func (a *Aggregator) run(ctx context.Context, interval time.Duration) {
	defer a.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.kick:
			a.Push()
		case <-ticker.C:
			snap, n := a.Push()
			a.logger.Debug("dashboard snapshot pushed",
				"online", snap.Online,
				"total", snap.Total,
				"delivered", n,
			)
			a.saveHistory(ctx, snap)
		}
	}
}

func (a *Aggregator) saveHistory(ctx context.Context, snap Snapshot) {
	if a.history == nil {
		return
	}
	if err := a.history.SaveDashboardSnapshot(ctx, ToStored(snap)); err != nil {
		a.logger.Warn("failed to save dashboard snapshot", "error", err)
	}
}

// ToStored converts snap to its persisted form.
func ToStored(snap Snapshot) *store.DashboardSnapshot {
	perStatus := make(map[string]int, len(snap.PerStatus))
	for st, n := range snap.PerStatus {
		perStatus[string(st)] = n
	}
	perTeam := make(map[string]map[string]int, len(snap.PerTeam))
	teamOnline := make(map[string]int, len(snap.PerTeam))
	for team, tc := range snap.PerTeam {
		teamOnline[team] = tc.Online
		counts := make(map[string]int, len(tc.PerStatus))
		for st, n := range tc.PerStatus {
			counts[string(st)] = n
		}
		perTeam[team] = counts
	}
	return &store.DashboardSnapshot{
		Total:      snap.Total,
		Online:     snap.Online,
		Offline:    snap.Offline,
		PerStatus:  perStatus,
		PerTeam:    perTeam,
		TeamOnline: teamOnline,
		CreatedAt:  snap.Timestamp,
	}
}

// FromStored converts a persisted summary back to a Snapshot.
func FromStored(s *store.DashboardSnapshot) Snapshot {
	snap := Snapshot{
		Total:     s.Total,
		Online:    s.Online,
		Offline:   s.Offline,
		PerStatus: emptyCounts(),
		PerTeam:   make(map[string]TeamCounts, len(s.PerTeam)),
		Timestamp: s.CreatedAt,
	}
	for st, n := range s.PerStatus {
		snap.PerStatus[presence.Status(st)] = n
	}
	for team, counts := range s.PerTeam {
		tc := TeamCounts{PerStatus: emptyCounts()}
		derived := 0
		for st, n := range counts {
			tc.PerStatus[presence.Status(st)] = n
			tc.Total += n
			if presence.Status(st) != presence.StatusOffline {
				derived += n
			}
		}
		tc.Online = derived
		// Rows written before team_online existed only carry statuses.
		if n, ok := s.TeamOnline[team]; ok {
			tc.Online = n
		}
		snap.PerTeam[team] = tc
	}
	return snap
}
