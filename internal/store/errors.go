package store

import (
	"errors"
	"fmt"

	"github.com/dotops/presence/internal/attendance"
)

// ErrNotFound is returned when no queue entry exists for an id.
var ErrNotFound = errors.New("queue entry not found")

// TransitionError reports a rejected status transition. The state
// machine only moves forward (Pending → Syncing → Synced/Failed, plus
// the manual Failed → Pending); any other move is a caller bug or a
// lost race, never applied silently.
type TransitionError struct {
	ID   string
	From attendance.Status
	To   attendance.Status
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s → %s for entry %s", e.From, e.To, e.ID)
}

// IsTransitionError reports whether err is a rejected status transition.
// Uses errors.As to handle wrapped errors.
func IsTransitionError(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}
