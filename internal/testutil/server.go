package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// Submission is what the fake server decoded from one request body.
type Submission struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Action string // from the URL path
}

// AttendanceServer is an in-process double of the remote attendance
// API with the idempotency contract the sync engine relies on: a
// repeated entry id is acknowledged as a duplicate success and never
// stored twice.
//
// Failures are scripted per test via FailNext and Delay.
type AttendanceServer struct {
	mu      sync.Mutex
	httpSrv *httptest.Server

	records  map[string]Submission
	order    []string // record ids in arrival order, duplicates skipped
	requests int

	failStatus   int
	failRemained int
	delay        time.Duration
}

// NewAttendanceServer starts the fake server. Callers must Close it.
func NewAttendanceServer() *AttendanceServer {
	s := &AttendanceServer{records: make(map[string]Submission)}
	s.httpSrv = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the server base URL.
func (s *AttendanceServer) URL() string {
	return s.httpSrv.URL
}

// Close shuts the server down.
func (s *AttendanceServer) Close() {
	s.httpSrv.Close()
}

// FailNext makes the next n requests fail with the given HTTP status
// before any record is stored.
func (s *AttendanceServer) FailNext(n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRemained = n
	s.failStatus = status
}

// Delay makes every subsequent request sleep before responding. Used
// with a short client timeout to simulate a hung connection.
func (s *AttendanceServer) Delay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// RecordCount returns how many distinct entries the server stored.
func (s *AttendanceServer) RecordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Requests returns the total number of requests received, including
// failed and duplicate ones.
func (s *AttendanceServer) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// ReceivedOrder returns stored entry ids in arrival order.
func (s *AttendanceServer) ReceivedOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Record returns the stored submission for an id.
func (s *AttendanceServer) Record(id string) (Submission, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.records[id]
	return sub, ok
}

func (s *AttendanceServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests++
	delay := s.delay
	if s.failRemained > 0 {
		s.failRemained--
		status := s.failStatus
		s.mu.Unlock()
		http.Error(w, "scripted failure", status)
		return
	}
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	action := strings.TrimPrefix(r.URL.Path, "/attendance/")
	if r.Method != http.MethodPost || action == "" || strings.Contains(action, "/") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	var sub Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil || sub.ID == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	sub.Action = action

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[sub.ID]; exists {
		// Idempotent: same id is a no-op success, not a second record.
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "duplicate", "id": sub.ID})
		return
	}

	s.records[sub.ID] = sub
	s.order = append(s.order, sub.ID)
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"status": "recorded", "id": sub.ID})
}
