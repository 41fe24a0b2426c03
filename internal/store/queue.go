package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dotops/presence/internal/attendance"
)

// Enqueue inserts an entry in Pending state.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - re-capturing the
// same entry id is a no-op and reports inserted=false.
//
// Callers must only enqueue entries that passed local verification;
// the queue does not re-run verification.
func (s *Store) Enqueue(ctx context.Context, e attendance.QueueEntry) (inserted bool, err error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO queue_entries
		(id, user_id, action, method, captured_at,
		 latitude, longitude, location_name, qr_payload, notes, photo_ref,
		 status, retry_count, last_error, next_attempt_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', 0, '', 0, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		e.ID,
		e.UserID,
		string(e.Action),
		string(e.Method),
		e.Timestamp.UnixMilli(),
		nullFloat(e.Latitude),
		nullFloat(e.Longitude),
		e.LocationName,
		e.QRPayload,
		e.Notes,
		e.PhotoRef,
		e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("enqueue entry %s: %w", e.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("enqueue entry %s: %w", e.ID, err)
	}
	return n == 1, nil
}

// Claim moves an entry from Pending to Syncing.
//
// The UPDATE's status guard is the atomic test-and-set: two overlapping
// drains racing for the same entry see exactly one RowsAffected of 1,
// so at most one claim is ever outstanding per entry.
func (s *Store) Claim(ctx context.Context, id string) (claimed bool, err error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_entries SET status = 'syncing'
		WHERE id = ? AND status = 'pending'
	`, id)
	if err != nil {
		return false, fmt.Errorf("claim entry %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim entry %s: %w", id, err)
	}
	return n == 1, nil
}

// Ack moves an entry from Syncing to Synced after a server
// acknowledgment. The entry stays in the table until Prune removes it
// after the grace period.
func (s *Store) Ack(ctx context.Context, id string, syncedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_entries
		SET status = 'synced', last_error = '', synced_at = ?
		WHERE id = ? AND status = 'syncing'
	`, syncedAt.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("ack entry %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ack entry %s: %w", id, err)
	}
	if n == 0 {
		return s.transitionError(ctx, id, attendance.StatusSynced)
	}
	return nil
}

// Nack records a retriable submission failure on a Syncing entry.
//
// The retry count is incremented first; if it then reaches maxRetries
// the entry goes to Failed (terminal, manual intervention), otherwise
// back to Pending with the next attempt gated by nextAttempt.
//
// Returns the resulting status.
func (s *Store) Nack(ctx context.Context, id, cause string, maxRetries int, nextAttempt time.Time) (attendance.Status, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("nack entry %s: begin tx: %w", id, err)
	}
	defer tx.Rollback() // No-op if committed

	var status string
	var retries int
	err = tx.QueryRowContext(ctx,
		`SELECT status, retry_count FROM queue_entries WHERE id = ?`, id,
	).Scan(&status, &retries)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("nack entry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("nack entry %s: %w", id, err)
	}
	if attendance.Status(status) != attendance.StatusSyncing {
		return "", &TransitionError{ID: id, From: attendance.Status(status), To: attendance.StatusPending}
	}

	retries++
	next := attendance.StatusPending
	nextAttemptMs := nextAttempt.UnixMilli()
	if retries >= maxRetries {
		next = attendance.StatusFailed
		nextAttemptMs = 0
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE queue_entries
		SET status = ?, retry_count = ?, last_error = ?, next_attempt_at = ?
		WHERE id = ?
	`, string(next), retries, cause, nextAttemptMs, id)
	if err != nil {
		return "", fmt.Errorf("nack entry %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("nack entry %s: commit: %w", id, err)
	}
	return next, nil
}

// Fail parks a Syncing entry as Failed immediately, bypassing the retry
// budget. Used for permanent server rejections and storage corruption;
// the entry is retained for manual inspection, never silently dropped.
func (s *Store) Fail(ctx context.Context, id, cause string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_entries SET status = 'failed', last_error = ?
		WHERE id = ? AND status = 'syncing'
	`, cause, id)
	if err != nil {
		return fmt.Errorf("fail entry %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("fail entry %s: %w", id, err)
	}
	if n == 0 {
		return s.transitionError(ctx, id, attendance.StatusFailed)
	}
	return nil
}

// RetryFailed is the manual Failed → Pending transition. The retry
// budget is reset: a human decided to resubmit, so the entry gets a
// fresh automatic retry allowance.
func (s *Store) RetryFailed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_entries
		SET status = 'pending', retry_count = 0, last_error = '', next_attempt_at = 0
		WHERE id = ? AND status = 'failed'
	`, id)
	if err != nil {
		return fmt.Errorf("retry entry %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("retry entry %s: %w", id, err)
	}
	if n == 0 {
		return s.transitionError(ctx, id, attendance.StatusPending)
	}
	return nil
}

// ResetInFlight returns entries stranded in Syncing to the retry path.
// Called once at startup: a submission aborted by process kill is a
// retriable failure, and an entry must never stay in Syncing with no
// drain owning it.
//
// Follows Nack semantics, so an entry out of retry budget goes to
// Failed rather than Pending.
func (s *Store) ResetInFlight(ctx context.Context, cause string, maxRetries int) (reset int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("reset in-flight: begin tx: %w", err)
	}
	defer tx.Rollback()

	resFailed, err := tx.ExecContext(ctx, `
		UPDATE queue_entries
		SET status = 'failed', retry_count = retry_count + 1, last_error = ?, next_attempt_at = 0
		WHERE status = 'syncing' AND retry_count + 1 >= ?
	`, cause, maxRetries)
	if err != nil {
		return 0, fmt.Errorf("reset in-flight: %w", err)
	}

	resPending, err := tx.ExecContext(ctx, `
		UPDATE queue_entries
		SET status = 'pending', retry_count = retry_count + 1, last_error = ?, next_attempt_at = 0
		WHERE status = 'syncing'
	`, cause)
	if err != nil {
		return 0, fmt.Errorf("reset in-flight: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("reset in-flight: commit: %w", err)
	}

	nf, _ := resFailed.RowsAffected()
	np, _ := resPending.RowsAffected()
	return nf + np, nil
}

// Due returns Pending entries whose backoff gate has passed, in
// createdAt order (oldest capture first) so server-side work-time
// calculations see events chronologically.
func (s *Store) Due(ctx context.Context, now time.Time) ([]attendance.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, selectEntry+`
		WHERE status = 'pending' AND next_attempt_at <= ?
		ORDER BY created_at ASC
	`, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list due entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Failed returns every Failed entry for manual inspection or export,
// oldest first.
func (s *Store) Failed(ctx context.Context) ([]attendance.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, selectEntry+`
		WHERE status = 'failed'
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list failed entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Get returns a single entry by id.
func (s *Store) Get(ctx context.Context, id string) (attendance.QueueEntry, error) {
	row := s.db.QueryRowContext(ctx, selectEntry+` WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return attendance.QueueEntry{}, fmt.Errorf("get entry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return attendance.QueueEntry{}, fmt.Errorf("get entry %s: %w", id, err)
	}
	return e, nil
}

// Stats summarizes the queue for UI display.
type Stats struct {
	Pending  int       `json:"pending"`
	Syncing  int       `json:"syncing"`
	Synced   int       `json:"synced"`
	Failed   int       `json:"failed"`
	LastSync time.Time `json:"last_sync_at,omitzero"`
}

// Stats returns per-status counts and the most recent sync time.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM queue_entries GROUP BY status
	`)
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	var st Stats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, fmt.Errorf("queue stats: %w", err)
		}
		switch attendance.Status(status) {
		case attendance.StatusPending:
			st.Pending = count
		case attendance.StatusSyncing:
			st.Syncing = count
		case attendance.StatusSynced:
			st.Synced = count
		case attendance.StatusFailed:
			st.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}

	var lastSync sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		`SELECT MAX(synced_at) FROM queue_entries WHERE status = 'synced'`,
	).Scan(&lastSync)
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	if lastSync.Valid {
		st.LastSync = time.UnixMilli(lastSync.Int64).UTC()
	}
	return st, nil
}

// Prune deletes Synced entries acknowledged before the cutoff. Synced
// entries are kept briefly for UI history; Failed entries are never
// pruned automatically.
func (s *Store) Prune(ctx context.Context, before time.Time) (removed int64, err error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM queue_entries
		WHERE status = 'synced' AND synced_at < ?
	`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune synced entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune synced entries: %w", err)
	}
	return n, nil
}

// transitionError builds the precise error for a guarded UPDATE that
// matched no row: either the entry is missing or its current status
// forbids the transition.
func (s *Store) transitionError(ctx context.Context, id string, to attendance.Status) error {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM queue_entries WHERE id = ?`, id,
	).Scan(&status)
	if err == sql.ErrNoRows {
		return fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("entry %s: %w", id, err)
	}
	return &TransitionError{ID: id, From: attendance.Status(status), To: to}
}

const selectEntry = `
	SELECT id, user_id, action, method, captured_at,
	       latitude, longitude, location_name, qr_payload, notes, photo_ref,
	       status, retry_count, last_error, next_attempt_at, created_at, synced_at
	FROM queue_entries
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (attendance.QueueEntry, error) {
	var (
		e                      attendance.QueueEntry
		action, method, status string
		capturedAt, createdAt  int64
		nextAttemptAt          int64
		lat, lng               sql.NullFloat64
		syncedAt               sql.NullInt64
	)

	err := row.Scan(
		&e.ID, &e.UserID, &action, &method, &capturedAt,
		&lat, &lng, &e.LocationName, &e.QRPayload, &e.Notes, &e.PhotoRef,
		&status, &e.RetryCount, &e.LastError, &nextAttemptAt, &createdAt, &syncedAt,
	)
	if err != nil {
		return attendance.QueueEntry{}, err
	}

	e.Action = attendance.ActionType(action)
	e.Method = attendance.Method(method)
	e.Status = attendance.Status(status)
	e.Timestamp = time.UnixMilli(capturedAt).UTC()
	e.CreatedAt = time.UnixMilli(createdAt).UTC()
	if nextAttemptAt > 0 {
		e.NextAttemptAt = time.UnixMilli(nextAttemptAt).UTC()
	}
	if lat.Valid {
		e.Latitude = &lat.Float64
	}
	if lng.Valid {
		e.Longitude = &lng.Float64
	}
	if syncedAt.Valid {
		e.SyncedAt = time.UnixMilli(syncedAt.Int64).UTC()
	}
	return e, nil
}

func scanEntries(rows *sql.Rows) ([]attendance.QueueEntry, error) {
	var entries []attendance.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan entries: %w", err)
	}
	return entries, nil
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
