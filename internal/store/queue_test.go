package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dotops/presence/internal/attendance"
)

var baseTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func setupStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testEntry(id string, createdAt time.Time) attendance.QueueEntry {
	return attendance.QueueEntry{
		ID:        id,
		UserID:    "user-7",
		Action:    attendance.ActionCheckIn,
		Method:    attendance.MethodGPS,
		Timestamp: createdAt,
		CreatedAt: createdAt,
		Status:    attendance.StatusPending,
	}
}

func mustEnqueue(t *testing.T, s *Store, e attendance.QueueEntry) {
	t.Helper()
	inserted, err := s.Enqueue(context.Background(), e)
	if err != nil {
		t.Fatalf("Enqueue(%s) failed: %v", e.ID, err)
	}
	if !inserted {
		t.Fatalf("Enqueue(%s): not inserted", e.ID)
	}
}

func mustClaim(t *testing.T, s *Store, id string) {
	t.Helper()
	claimed, err := s.Claim(context.Background(), id)
	if err != nil {
		t.Fatalf("Claim(%s) failed: %v", id, err)
	}
	if !claimed {
		t.Fatalf("Claim(%s): not claimed", id)
	}
}

func TestEnqueue_IdempotentOnID(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	e := testEntry("e1", baseTime)

	mustEnqueue(t, s, e)

	// Same id again: no-op, no second row.
	inserted, err := s.Enqueue(ctx, e)
	if err != nil {
		t.Fatalf("second Enqueue failed: %v", err)
	}
	if inserted {
		t.Error("duplicate id reported as inserted")
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM queue_entries").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("row count = %d, want 1", count)
	}
}

func TestEnqueue_RoundTripsAllFields(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	lat, lng := 37.5665, 126.978
	e := testEntry("e1", baseTime)
	e.Method = attendance.MethodQR
	e.Latitude = &lat
	e.Longitude = &lng
	e.LocationName = "Main Office"
	e.QRPayload = "DOT_QR|checkin|1764669600000|office-main"
	e.Notes = "door was locked"
	e.PhotoRef = "photos/abc.jpg"

	mustEnqueue(t, s, e)

	got, err := s.Get(ctx, "e1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.UserID != e.UserID || got.Action != e.Action || got.Method != e.Method {
		t.Errorf("identity fields mismatch: %+v", got)
	}
	if got.Latitude == nil || *got.Latitude != lat || got.Longitude == nil || *got.Longitude != lng {
		t.Errorf("coordinates mismatch: %v %v", got.Latitude, got.Longitude)
	}
	if got.LocationName != e.LocationName || got.QRPayload != e.QRPayload ||
		got.Notes != e.Notes || got.PhotoRef != e.PhotoRef {
		t.Errorf("optional fields mismatch: %+v", got)
	}
	if !got.Timestamp.Equal(baseTime) || !got.CreatedAt.Equal(baseTime) {
		t.Errorf("timestamps mismatch: %v %v", got.Timestamp, got.CreatedAt)
	}
	if got.Status != attendance.StatusPending || got.RetryCount != 0 {
		t.Errorf("fresh entry state mismatch: %+v", got)
	}
}

func TestClaim_AtomicTestAndSet(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	mustEnqueue(t, s, testEntry("e1", baseTime))

	claimed, err := s.Claim(ctx, "e1")
	if err != nil || !claimed {
		t.Fatalf("first claim = (%v, %v), want (true, nil)", claimed, err)
	}

	// A second claim (a racing drain) must lose.
	claimed, err = s.Claim(ctx, "e1")
	if err != nil {
		t.Fatalf("second claim errored: %v", err)
	}
	if claimed {
		t.Error("second claim succeeded: double-submit possible")
	}
}

func TestAck_RequiresSyncing(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	mustEnqueue(t, s, testEntry("e1", baseTime))

	// Pending → Synced directly must be rejected: the state machine
	// has no edge that skips Syncing.
	err := s.Ack(ctx, "e1", baseTime)
	if !IsTransitionError(err) {
		t.Fatalf("ack from pending: err = %v, want TransitionError", err)
	}

	mustClaim(t, s, "e1")
	if err := s.Ack(ctx, "e1", baseTime.Add(time.Minute)); err != nil {
		t.Fatalf("ack from syncing failed: %v", err)
	}

	got, err := s.Get(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != attendance.StatusSynced {
		t.Errorf("status = %q, want synced", got.Status)
	}
	if !got.SyncedAt.Equal(baseTime.Add(time.Minute)) {
		t.Errorf("synced_at = %v", got.SyncedAt)
	}
}

func TestAck_UnknownEntry(t *testing.T) {
	s := setupStore(t)

	err := s.Ack(context.Background(), "ghost", baseTime)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestNack_ReschedulesWithinBudget(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	mustEnqueue(t, s, testEntry("e1", baseTime))
	mustClaim(t, s, "e1")

	next := baseTime.Add(4 * time.Second)
	status, err := s.Nack(ctx, "e1", "connection timed out", 3, next)
	if err != nil {
		t.Fatalf("Nack failed: %v", err)
	}
	if status != attendance.StatusPending {
		t.Errorf("status = %q, want pending", status)
	}

	got, _ := s.Get(ctx, "e1")
	if got.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", got.RetryCount)
	}
	if got.LastError != "connection timed out" {
		t.Errorf("last error = %q", got.LastError)
	}
	if !got.NextAttemptAt.Equal(next) {
		t.Errorf("next attempt = %v, want %v", got.NextAttemptAt, next)
	}
}

func TestNack_FailsAfterMaxRetries(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	mustEnqueue(t, s, testEntry("e1", baseTime))

	// maxRetries=3: exactly three transient failures reach Failed and
	// a fourth automatic attempt never happens.
	for attempt := 1; attempt <= 3; attempt++ {
		mustClaim(t, s, "e1")
		status, err := s.Nack(ctx, "e1", "HTTP 503", 3, baseTime)
		if err != nil {
			t.Fatalf("nack %d failed: %v", attempt, err)
		}
		want := attendance.StatusPending
		if attempt == 3 {
			want = attendance.StatusFailed
		}
		if status != want {
			t.Fatalf("after nack %d: status = %q, want %q", attempt, status, want)
		}
	}

	// A failed entry is no longer claimable.
	claimed, err := s.Claim(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if claimed {
		t.Error("failed entry was claimed: fourth retry possible")
	}

	got, _ := s.Get(ctx, "e1")
	if got.RetryCount != 3 {
		t.Errorf("retry count = %d, want 3", got.RetryCount)
	}
}

func TestNack_RetryCountMonotone(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	mustEnqueue(t, s, testEntry("e1", baseTime))

	prev := 0
	for i := 0; i < 4; i++ {
		claimed, err := s.Claim(ctx, "e1")
		if err != nil {
			t.Fatal(err)
		}
		if !claimed {
			break // reached failed
		}
		if _, err := s.Nack(ctx, "e1", "HTTP 500", 10, baseTime); err != nil {
			t.Fatal(err)
		}
		got, _ := s.Get(ctx, "e1")
		if got.RetryCount <= prev {
			t.Fatalf("retry count not increasing: %d then %d", prev, got.RetryCount)
		}
		prev = got.RetryCount
	}
}

func TestNack_RequiresSyncing(t *testing.T) {
	s := setupStore(t)
	mustEnqueue(t, s, testEntry("e1", baseTime))

	_, err := s.Nack(context.Background(), "e1", "x", 3, baseTime)
	if !IsTransitionError(err) {
		t.Errorf("nack from pending: err = %v, want TransitionError", err)
	}
}

func TestFail_Permanent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	mustEnqueue(t, s, testEntry("e1", baseTime))
	mustClaim(t, s, "e1")

	if err := s.Fail(ctx, "e1", "HTTP 409: conflicting record"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	got, _ := s.Get(ctx, "e1")
	if got.Status != attendance.StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if got.LastError != "HTTP 409: conflicting record" {
		t.Errorf("last error = %q", got.LastError)
	}
	// Retry count untouched: the budget was not consumed, the server
	// said no.
	if got.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0", got.RetryCount)
	}
}

func TestRetryFailed_ManualTransition(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	mustEnqueue(t, s, testEntry("e1", baseTime))
	mustClaim(t, s, "e1")
	if err := s.Fail(ctx, "e1", "rejected"); err != nil {
		t.Fatal(err)
	}

	if err := s.RetryFailed(ctx, "e1"); err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}

	got, _ := s.Get(ctx, "e1")
	if got.Status != attendance.StatusPending {
		t.Errorf("status = %q, want pending", got.Status)
	}
	if got.RetryCount != 0 || got.LastError != "" {
		t.Errorf("retry budget not reset: %+v", got)
	}
}

func TestRetryFailed_RejectsNonFailed(t *testing.T) {
	s := setupStore(t)
	mustEnqueue(t, s, testEntry("e1", baseTime))

	err := s.RetryFailed(context.Background(), "e1")
	if !IsTransitionError(err) {
		t.Errorf("retry of pending entry: err = %v, want TransitionError", err)
	}
}

func TestSynced_NeverReentersPending(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	mustEnqueue(t, s, testEntry("e1", baseTime))
	mustClaim(t, s, "e1")
	if err := s.Ack(ctx, "e1", baseTime); err != nil {
		t.Fatal(err)
	}

	if claimed, _ := s.Claim(ctx, "e1"); claimed {
		t.Error("synced entry was claimed")
	}
	if err := s.RetryFailed(ctx, "e1"); !IsTransitionError(err) {
		t.Errorf("manual retry of synced entry: err = %v, want TransitionError", err)
	}
	if _, err := s.Nack(ctx, "e1", "x", 3, baseTime); !IsTransitionError(err) {
		t.Errorf("nack of synced entry: err = %v, want TransitionError", err)
	}
}

func TestDue_CreatedAtOrderAcrossOfflineWindow(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	// Entry captured before a two-hour offline window, plus entries
	// captured during it, enqueued out of order.
	mustEnqueue(t, s, testEntry("during-2", baseTime.Add(90*time.Minute)))
	mustEnqueue(t, s, testEntry("before", baseTime))
	mustEnqueue(t, s, testEntry("during-1", baseTime.Add(30*time.Minute)))

	due, err := s.Due(ctx, baseTime.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Due failed: %v", err)
	}

	var ids []string
	for _, e := range due {
		ids = append(ids, e.ID)
	}
	want := []string{"before", "during-1", "during-2"}
	for i := range want {
		if i >= len(ids) || ids[i] != want[i] {
			t.Fatalf("drain order = %v, want %v", ids, want)
		}
	}
}

func TestDue_RespectsBackoffGate(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	mustEnqueue(t, s, testEntry("e1", baseTime))
	mustClaim(t, s, "e1")
	if _, err := s.Nack(ctx, "e1", "HTTP 502", 5, baseTime.Add(8*time.Second)); err != nil {
		t.Fatal(err)
	}

	due, err := s.Due(ctx, baseTime.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Errorf("entry due before its backoff gate: %v", due)
	}

	due, err = s.Due(ctx, baseTime.Add(10*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 {
		t.Errorf("entry not due after its backoff gate: %v", due)
	}
}

func TestResetInFlight_RecoversCrashedDrain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	mustEnqueue(t, s, testEntry("e1", baseTime))
	mustClaim(t, s, "e1")
	s.Close() // process killed mid-submission

	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	reset, err := s2.ResetInFlight(ctx, "interrupted by shutdown", 5)
	if err != nil {
		t.Fatalf("ResetInFlight failed: %v", err)
	}
	if reset != 1 {
		t.Errorf("reset = %d, want 1", reset)
	}

	got, err := s2.Get(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != attendance.StatusPending {
		t.Errorf("status = %q, want pending", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1 (interruption is a retriable failure)", got.RetryCount)
	}
}

func TestResetInFlight_ExhaustedBudgetGoesToFailed(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	mustEnqueue(t, s, testEntry("e1", baseTime))
	mustClaim(t, s, "e1")
	if _, err := s.Nack(ctx, "e1", "HTTP 503", 5, baseTime); err != nil {
		t.Fatal(err)
	}
	mustClaim(t, s, "e1") // retry_count is now 1, in flight again

	if _, err := s.ResetInFlight(ctx, "interrupted", 2); err != nil {
		t.Fatal(err)
	}

	got, _ := s.Get(ctx, "e1")
	if got.Status != attendance.StatusFailed {
		t.Errorf("status = %q, want failed (budget exhausted at reset)", got.Status)
	}
}

func TestStats(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	mustEnqueue(t, s, testEntry("p1", baseTime))
	mustEnqueue(t, s, testEntry("p2", baseTime.Add(time.Minute)))
	mustEnqueue(t, s, testEntry("ok", baseTime.Add(2*time.Minute)))
	mustEnqueue(t, s, testEntry("bad", baseTime.Add(3*time.Minute)))

	mustClaim(t, s, "ok")
	syncTime := baseTime.Add(time.Hour)
	if err := s.Ack(ctx, "ok", syncTime); err != nil {
		t.Fatal(err)
	}
	mustClaim(t, s, "bad")
	if err := s.Fail(ctx, "bad", "rejected"); err != nil {
		t.Fatal(err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.Pending != 2 || st.Synced != 1 || st.Failed != 1 || st.Syncing != 0 {
		t.Errorf("stats = %+v", st)
	}
	if !st.LastSync.Equal(syncTime) {
		t.Errorf("last sync = %v, want %v", st.LastSync, syncTime)
	}
}

func TestPrune_RemovesOnlyOldSynced(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	for _, id := range []string{"old", "recent"} {
		mustEnqueue(t, s, testEntry(id, baseTime))
		mustClaim(t, s, id)
	}
	if err := s.Ack(ctx, "old", baseTime); err != nil {
		t.Fatal(err)
	}
	if err := s.Ack(ctx, "recent", baseTime.Add(48*time.Hour)); err != nil {
		t.Fatal(err)
	}
	mustEnqueue(t, s, testEntry("failed", baseTime))
	mustClaim(t, s, "failed")
	if err := s.Fail(ctx, "failed", "rejected"); err != nil {
		t.Fatal(err)
	}

	removed, err := s.Prune(ctx, baseTime.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	if _, err := s.Get(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Error("old synced entry not pruned")
	}
	if _, err := s.Get(ctx, "recent"); err != nil {
		t.Error("recent synced entry pruned inside grace period")
	}
	// Failed entries are never pruned automatically.
	if _, err := s.Get(ctx, "failed"); err != nil {
		t.Error("failed entry pruned")
	}
}

func TestQueue_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	mustEnqueue(t, s, testEntry("e1", baseTime))
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	got, err := s2.Get(ctx, "e1")
	if err != nil {
		t.Fatalf("entry lost across restart: %v", err)
	}
	if got.Status != attendance.StatusPending {
		t.Errorf("status = %q, want pending", got.Status)
	}
}
