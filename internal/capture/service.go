package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dotops/presence/internal/attendance"
	"github.com/dotops/presence/internal/store"
	"github.com/dotops/presence/internal/verify"
)

// IDGenerator produces entry ids - the idempotency keys. Implemented
// by UUIDv7Generator (production) and fixed generators in tests.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 entry ids.
//
// UUIDv7 embeds a timestamp in the most significant bits, so ids sort
// by capture time, which keeps the queue's primary key aligned with
// drain order.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Clock abstracts wall-clock time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Input is the raw material of one capture request from the UI.
type Input struct {
	Action    attendance.ActionType
	Latitude  *float64
	Longitude *float64
	QRPayload string
	Notes     string
	PhotoRef  string
}

// Service is the capture flow exposed to the UI layer: verify locally,
// then enqueue for sync. Verification failures never reach the queue.
type Service struct {
	coord  *verify.Coordinator
	queue  *store.Store
	ids    IDGenerator
	clock  Clock
	userID string

	// notify wakes the sync engine after an enqueue; nil when no
	// engine is running (one-shot CLI usage).
	notify func()
}

// Option configures a Service.
type Option func(*Service)

// WithIDGenerator replaces the entry id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Service) { s.ids = g }
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithNotify registers a callback invoked after every successful
// enqueue, typically the sync engine's Trigger.
func WithNotify(fn func()) Option {
	return func(s *Service) { s.notify = fn }
}

// NewService wires the capture flow.
func NewService(coord *verify.Coordinator, queue *store.Store, userID string, opts ...Option) *Service {
	s := &Service{
		coord:  coord,
		queue:  queue,
		ids:    UUIDv7Generator{},
		clock:  systemClock{},
		userID: userID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verify runs local validation only. Safe to call from the UI thread:
// pure computation, no I/O.
func (s *Service) Verify(method attendance.Method, in Input) attendance.VerificationResult {
	return s.coord.Verify(method, verify.Capture{
		Action:    in.Action,
		Latitude:  in.Latitude,
		Longitude: in.Longitude,
		QRPayload: in.QRPayload,
		At:        s.clock.Now(),
	})
}

// Capture verifies and, when valid, enqueues the event. Returns the
// new entry id alongside the verification result; on a verification
// failure the id is empty, the result explains why, and err is nil -
// a local rejection is an answer, not a fault.
func (s *Service) Capture(ctx context.Context, method attendance.Method, in Input) (string, attendance.VerificationResult, error) {
	if !in.Action.Valid() {
		return "", attendance.Invalid(fmt.Sprintf("unknown action %q", in.Action)), nil
	}

	res := s.Verify(method, in)
	if !res.IsValid {
		slog.Debug("capture rejected locally",
			"method", method,
			"action", in.Action,
			"reason", res.ErrorMessage,
		)
		return "", res, nil
	}

	now := s.clock.Now()
	entry := attendance.QueueEntry{
		ID:           s.ids.Generate(),
		UserID:       s.userID,
		Action:       in.Action,
		Method:       method,
		Timestamp:    now,
		Latitude:     in.Latitude,
		Longitude:    in.Longitude,
		LocationName: res.LocationName,
		QRPayload:    in.QRPayload,
		Notes:        in.Notes,
		PhotoRef:     in.PhotoRef,
		Status:       attendance.StatusPending,
		CreatedAt:    now,
	}

	if _, err := s.queue.Enqueue(ctx, entry); err != nil {
		return "", res, fmt.Errorf("capture: %w", err)
	}

	slog.Info("capture queued",
		"id", entry.ID,
		"action", entry.Action,
		"method", entry.Method,
		"location", entry.LocationName,
	)

	if s.notify != nil {
		s.notify()
	}
	return entry.ID, res, nil
}

// Status reports queue counts for UI display.
func (s *Service) Status(ctx context.Context) (store.Stats, error) {
	return s.queue.Stats(ctx)
}

// RetryFailed is the manual Failed → Pending transition, then wakes
// the sync engine.
func (s *Service) RetryFailed(ctx context.Context, entryID string) error {
	if err := s.queue.RetryFailed(ctx, entryID); err != nil {
		return err
	}
	slog.Info("entry queued for manual retry", "id", entryID)
	if s.notify != nil {
		s.notify()
	}
	return nil
}
