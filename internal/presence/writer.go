// ABOUTME: Write-through persistence of presence transitions with background retry
// ABOUTME: In-memory state stays authoritative while the store is unavailable

package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrPersistenceUnavailable is reported when a transition could not be
// persisted on the first attempt and was queued for retry.
var ErrPersistenceUnavailable = errors.New("persistence unavailable")

const (
	defaultRetryCapacity   = 1024
	defaultRetryMaxElapsed = 10 * time.Minute
)

// DurableWriter persists each transition once synchronously and hands
// failures to a single background worker that retries with exponential
// backoff. The event version is the idempotency key, so retries of an
// older version after a newer one landed are harmless.
type DurableWriter struct {
	store      Store
	queue      chan pending
	backlog    atomic.Int64
	maxElapsed time.Duration
	initial    time.Duration
	logger     *slog.Logger

	// OnFailure, when set, is called once per failed first attempt.
	OnFailure func()

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDurableWriter creates a writer whose retry queue holds at most capacity
// transitions. A capacity <= 0 uses the default.
func NewDurableWriter(store Store, capacity int, logger *slog.Logger) *DurableWriter {
	if capacity <= 0 {
		capacity = defaultRetryCapacity
	}
	return &DurableWriter{
		store:      store,
		queue:      make(chan pending, capacity),
		maxElapsed: defaultRetryMaxElapsed,
		initial:    250 * time.Millisecond,
		logger:     logger.With("component", "durable-writer"),
	}
}

// Start launches the retry worker. It stops when ctx is cancelled or Close is called.
func (w *DurableWriter) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
}

// Close stops the retry worker and waits for it to exit. Queued transitions
// that were not yet persisted are logged and discarded.
func (w *DurableWriter) Close() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

// Write persists rec and the history row for ev. On failure the transition is
// queued for retry and ErrPersistenceUnavailable is returned for logging only.
func (w *DurableWriter) Write(ctx context.Context, rec Record, ev Event) error {
	if w.store == nil {
		return nil
	}
	p := pending{rec: rec, ev: ev}
	err := w.persist(ctx, p)
	if err == nil {
		return nil
	}

	if w.OnFailure != nil {
		w.OnFailure()
	}

	select {
	case w.queue <- p:
		w.backlog.Add(1)
		w.logger.Warn("persistence failed, queued for retry",
			"identity", rec.Identity,
			"version", rec.Version,
			"error", err,
		)
	default:
		w.logger.Error("persistence retry queue full, transition not persisted",
			"identity", rec.Identity,
			"version", rec.Version,
			"error", err,
		)
	}
	return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
}

// Backlog returns the number of transitions waiting for a successful retry.
func (w *DurableWriter) Backlog() int {
	return int(w.backlog.Load())
}

// Healthy reports whether the retry queue still has room.
func (w *DurableWriter) Healthy() bool {
	return w.Backlog() < cap(w.queue)
}

func (w *DurableWriter) persist(ctx context.Context, p pending) error {
	if err := w.store.SavePresence(ctx, p.rec); err != nil {
		return fmt.Errorf("save presence: %w", err)
	}
	if err := w.store.AppendStatusHistory(ctx, p.rec.Identity, p.ev); err != nil {
		return fmt.Errorf("append status history: %w", err)
	}
	return nil
}

func (w *DurableWriter) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			if n := w.Backlog(); n > 0 {
				w.logger.Warn("durable writer stopped with unpersisted transitions", "backlog", n)
			}
			return
		case p := <-w.queue:
			w.retry(ctx, p)
			w.backlog.Add(-1)
		}
	}
}

func (w *DurableWriter) retry(ctx context.Context, p pending) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.initial

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, w.persist(ctx, p)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(w.maxElapsed),
	)
	if err != nil {
		w.logger.Error("giving up persisting transition",
			"identity", p.rec.Identity,
			"version", p.rec.Version,
			"error", err,
		)
		return
	}
	w.logger.Info("transition persisted after retry",
		"identity", p.rec.Identity,
		"version", p.rec.Version,
	)
}
