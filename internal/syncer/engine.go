package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dotops/presence/internal/api"
	"github.com/dotops/presence/internal/attendance"
	"github.com/dotops/presence/internal/store"
)

// Clock abstracts wall-clock time so backoff gates are testable.
// Implemented by SystemClock (production) and testutil.Clock (tests).
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// Submitter posts one entry to the remote attendance API. Implemented
// by api.Client; tests substitute scripted fakes.
//
// Errors must be classified via the api error helpers: transient
// failures are retried with backoff, permanent ones park the entry.
type Submitter interface {
	Submit(ctx context.Context, e attendance.QueueEntry) error
}

// DefaultMaxRetries is how many transient failures an entry may
// accumulate before it is parked as failed.
const DefaultMaxRetries = 5

// DefaultSubmitTimeout bounds every submission. A timeout is
// mandatory: an in-flight entry whose network call hangs must come
// back as a nack, never stay claimed forever.
const DefaultSubmitTimeout = 10 * time.Second

// DefaultDrainInterval is the periodic drain cadence in Run.
const DefaultDrainInterval = 30 * time.Second

// Report summarizes one drain pass.
type Report struct {
	Attempted int `json:"attempted"`
	Synced    int `json:"synced"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
	// Skipped counts due entries another drain claimed first.
	Skipped int `json:"skipped"`
}

// Engine drains the offline queue against the remote attendance API.
//
// Thread-safety model:
//   - Trigger(): safe from any goroutine, coalescing
//   - Drain(): serialized by an internal mutex; a connectivity-triggered
//     and a timer-triggered drain never run concurrently
//   - Run(): must be called from exactly one goroutine
//
// Even without the mutex a double submit is impossible - Claim is an
// atomic test-and-set on status - but serializing drains avoids two
// passes burning the same Due list against each other.
type Engine struct {
	queue     *store.Store
	submitter Submitter
	clock     Clock

	backoff       Backoff
	maxRetries    int
	submitTimeout time.Duration
	drainInterval time.Duration

	drainMu sync.Mutex

	// trigger coalesces drain requests: a buffered signal of one, the
	// same shape as an event-queue availability signal. Many triggers
	// while a drain runs collapse into one follow-up pass.
	trigger chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock. Tests use a manual clock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithBackoff replaces the retry backoff schedule.
func WithBackoff(b Backoff) Option {
	return func(e *Engine) { e.backoff = b }
}

// WithMaxRetries sets the transient-failure budget per entry.
func WithMaxRetries(n int) Option {
	return func(e *Engine) { e.maxRetries = n }
}

// WithSubmitTimeout bounds each individual submission.
func WithSubmitTimeout(d time.Duration) Option {
	return func(e *Engine) { e.submitTimeout = d }
}

// WithDrainInterval sets the periodic drain cadence for Run.
func WithDrainInterval(d time.Duration) Option {
	return func(e *Engine) { e.drainInterval = d }
}

// New creates an Engine over the queue and submitter.
func New(queue *store.Store, submitter Submitter, opts ...Option) *Engine {
	e := &Engine{
		queue:         queue,
		submitter:     submitter,
		clock:         SystemClock{},
		backoff:       DefaultBackoff,
		maxRetries:    DefaultMaxRetries,
		submitTimeout: DefaultSubmitTimeout,
		drainInterval: DefaultDrainInterval,
		trigger:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Trigger requests a drain from the Run loop.
// Thread-safe and non-blocking; overlapping triggers coalesce.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Drain attempts to submit every due pending entry in createdAt order.
//
// Per entry: claim (atomic test-and-set), submit with a timeout, then
// ack on success, nack with backoff on a transient failure, or park as
// failed on a permanent rejection. Sync errors are recorded on the
// entries, not returned; the error return is reserved for queue
// storage failures.
func (e *Engine) Drain(ctx context.Context) (Report, error) {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()

	now := e.clock.Now()
	due, err := e.queue.Due(ctx, now)
	if err != nil {
		return Report{}, fmt.Errorf("drain: %w", err)
	}

	var report Report
	for _, entry := range due {
		if ctx.Err() != nil {
			slog.Info("drain cancelled", "remaining", len(due)-report.Attempted-report.Skipped)
			break
		}

		claimed, err := e.queue.Claim(ctx, entry.ID)
		if err != nil {
			return report, fmt.Errorf("drain: %w", err)
		}
		if !claimed {
			report.Skipped++
			continue
		}

		report.Attempted++
		e.submitOne(ctx, entry, &report)
	}

	slog.Debug("drain complete",
		"attempted", report.Attempted,
		"synced", report.Synced,
		"retried", report.Retried,
		"failed", report.Failed,
	)
	return report, nil
}

// submitOne pushes a claimed entry through submit and the resulting
// transition. Bookkeeping writes run on a context detached from
// cancellation: once a claim exists, the entry must leave Syncing even
// when the drain itself is being torn down.
func (e *Engine) submitOne(ctx context.Context, entry attendance.QueueEntry, report *Report) {
	subCtx, cancel := context.WithTimeout(ctx, e.submitTimeout)
	err := e.submitter.Submit(subCtx, entry)
	cancel()

	bookCtx := context.WithoutCancel(ctx)
	now := e.clock.Now()

	switch {
	case err == nil:
		if ackErr := e.queue.Ack(bookCtx, entry.ID, now); ackErr != nil {
			// The server has the record but the local transition
			// failed. Parking the entry keeps it visible; a manual
			// retry is a safe duplicate thanks to the idempotency key.
			e.corrupt(bookCtx, entry.ID, ackErr, report)
			return
		}
		report.Synced++
		slog.Info("entry synced", "id", entry.ID, "action", entry.Action, "retries", entry.RetryCount)

	case api.IsPermanent(err):
		if failErr := e.queue.Fail(bookCtx, entry.ID, err.Error()); failErr != nil {
			e.corrupt(bookCtx, entry.ID, failErr, report)
			return
		}
		report.Failed++
		slog.Warn("entry rejected permanently", "id", entry.ID, "error", err)

	default:
		// Transient, including timeouts and cancelled submissions.
		nextAttempt := now.Add(e.backoff.Delay(entry.RetryCount))
		status, nackErr := e.queue.Nack(bookCtx, entry.ID, err.Error(), e.maxRetries, nextAttempt)
		if nackErr != nil {
			e.corrupt(bookCtx, entry.ID, nackErr, report)
			return
		}
		if status == attendance.StatusFailed {
			report.Failed++
			slog.Warn("entry failed: retries exhausted", "id", entry.ID, "retries", entry.RetryCount+1, "error", err)
		} else {
			report.Retried++
			slog.Debug("entry rescheduled",
				"id", entry.ID,
				"retries", entry.RetryCount+1,
				"next_attempt", nextAttempt,
				"error", err,
			)
		}
	}
}

// corrupt handles a failed local state transition: the entry is marked
// failed rather than silently lost, and the storage error is logged
// with full context for manual recovery.
func (e *Engine) corrupt(ctx context.Context, id string, cause error, report *Report) {
	slog.Error("queue storage failure", "id", id, "error", cause)
	if err := e.queue.Fail(ctx, id, fmt.Sprintf("storage failure: %v", cause)); err != nil {
		slog.Error("could not park entry after storage failure", "id", id, "error", err)
		return
	}
	report.Failed++
}

// Run is the long-lived drain loop: one pass per Trigger signal, per
// connectivity-regained event, and per drainInterval tick while online.
// Blocks until the context is cancelled.
//
// Must be called from exactly one goroutine. The coalescing trigger
// channel plus the drain mutex guarantee overlapping drain requests
// collapse instead of double-submitting.
func (e *Engine) Run(ctx context.Context, monitor ConnectivityMonitor) error {
	slog.Info("sync engine starting", "interval", e.drainInterval)

	ticker := time.NewTicker(e.drainInterval)
	defer ticker.Stop()

	online := true
	var events <-chan bool
	if monitor != nil {
		events = monitor.Events()
		online = monitor.Online()
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("sync engine stopping: context cancelled")
			return ctx.Err()

		case nowOnline, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			wasOnline := online
			online = nowOnline
			if nowOnline && !wasOnline {
				slog.Info("connectivity regained, draining")
				e.drainAndLog(ctx)
			}

		case <-ticker.C:
			if online {
				e.drainAndLog(ctx)
			}

		case <-e.trigger:
			if online {
				e.drainAndLog(ctx)
			}
		}
	}
}

func (e *Engine) drainAndLog(ctx context.Context) {
	if _, err := e.Drain(ctx); err != nil && ctx.Err() == nil {
		slog.Error("drain failed", "error", err)
	}
}
