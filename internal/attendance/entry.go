package attendance

import (
	"time"
)

// ActionType identifies the direction of an attendance event.
type ActionType string

const (
	// ActionCheckIn marks the start of a work period.
	ActionCheckIn ActionType = "checkin"
	// ActionCheckOut marks the end of a work period.
	ActionCheckOut ActionType = "checkout"
)

// Valid reports whether the action type is a known value.
func (a ActionType) Valid() bool {
	return a == ActionCheckIn || a == ActionCheckOut
}

// Method identifies how an attendance event was captured.
type Method string

const (
	// MethodQR captures via a scanned QR code at the site.
	MethodQR Method = "qr"
	// MethodGPS captures via a device GPS fix inside the geofence.
	MethodGPS Method = "gps"
	// MethodManual captures via an explicit user action, subject to
	// shift policy only.
	MethodManual Method = "manual"
)

// Valid reports whether the method is a known value.
func (m Method) Valid() bool {
	return m == MethodQR || m == MethodGPS || m == MethodManual
}

// Status is the sync state of a queued entry.
//
// Legal transitions:
//
//	Pending → Syncing        (claim)
//	Syncing → Synced         (ack, terminal success)
//	Syncing → Pending        (nack, retry budget remains)
//	Syncing → Failed         (nack past max retries, or permanent rejection)
//	Failed  → Pending        (manual retry only)
//
// Synced is terminal. Failed is terminal except for an explicit manual
// retry. No other backward transition exists.
type Status string

const (
	// StatusPending means the entry is waiting to be submitted.
	StatusPending Status = "pending"
	// StatusSyncing means a drain has claimed the entry and a
	// submission is in flight. At most one claim per entry at a time.
	StatusSyncing Status = "syncing"
	// StatusSynced means the server acknowledged the entry.
	StatusSynced Status = "synced"
	// StatusFailed means retries are exhausted or the server rejected
	// the entry permanently. Requires manual intervention.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status admits no automatic transition.
func (s Status) Terminal() bool {
	return s == StatusSynced || s == StatusFailed
}

// QueueEntry is one offline-captured attendance event.
//
// ID is the idempotency key: immutable, unique per device install, and
// stable across retries. The server treats a repeated ID as a no-op
// success, which is what makes at-least-once delivery safe.
//
// QueueEntry is a value type. Mutating helpers (WithStatus, WithRetry)
// return a copy; callers never share a mutable entry between the
// capture path and the sync path.
type QueueEntry struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Action    ActionType `json:"action"`
	Method    Method     `json:"method"`
	Timestamp time.Time  `json:"timestamp"` // capture time, not send time

	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	LocationName string   `json:"location_name,omitempty"`
	QRPayload    string   `json:"qr_payload,omitempty"`
	Notes        string   `json:"notes,omitempty"`
	PhotoRef     string   `json:"photo_ref,omitempty"`

	Status     Status    `json:"status"`
	RetryCount int       `json:"retry_count"`
	LastError  string    `json:"last_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	SyncedAt   time.Time `json:"synced_at,omitzero"`

	// NextAttemptAt gates backoff: a pending entry is not due for
	// submission before this instant. Zero means due immediately.
	NextAttemptAt time.Time `json:"next_attempt_at,omitzero"`
}

// WithStatus returns a copy of the entry with the given status.
func (e QueueEntry) WithStatus(s Status) QueueEntry {
	e.Status = s
	return e
}

// WithRetry returns a copy with the retry count incremented, the last
// error recorded, and the next attempt scheduled.
func (e QueueEntry) WithRetry(lastError string, nextAttempt time.Time) QueueEntry {
	e.RetryCount++
	e.LastError = lastError
	e.NextAttemptAt = nextAttempt
	e.Status = StatusPending
	return e
}

// HasCoordinates reports whether both latitude and longitude are set.
func (e QueueEntry) HasCoordinates() bool {
	return e.Latitude != nil && e.Longitude != nil
}
