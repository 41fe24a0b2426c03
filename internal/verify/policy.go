package verify

import (
	"fmt"
	"time"

	"github.com/dotops/presence/internal/attendance"
)

// Window is a daily time-of-day interval, inclusive on both ends.
// An interval with End before Start wraps past midnight.
type Window struct {
	Start time.Duration // offset from local midnight
	End   time.Duration
}

// Contains reports whether the time of day of t falls in the window.
func (w Window) Contains(t time.Time) bool {
	tod := time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second

	if w.End < w.Start { // overnight shift
		return tod >= w.Start || tod <= w.End
	}
	return tod >= w.Start && tod <= w.End
}

// ParseWindow parses "HH:MM-HH:MM" into a Window.
func ParseWindow(s string) (Window, error) {
	var sh, sm, eh, em int
	if _, err := fmt.Sscanf(s, "%d:%d-%d:%d", &sh, &sm, &eh, &em); err != nil {
		return Window{}, fmt.Errorf("parse window %q: %w", s, err)
	}
	if sh < 0 || sh > 23 || eh < 0 || eh > 23 || sm < 0 || sm > 59 || em < 0 || em > 59 {
		return Window{}, fmt.Errorf("parse window %q: out of range", s)
	}
	return Window{
		Start: time.Duration(sh)*time.Hour + time.Duration(sm)*time.Minute,
		End:   time.Duration(eh)*time.Hour + time.Duration(em)*time.Minute,
	}, nil
}

// WindowPolicy is a ShiftPolicy backed by configured daily windows,
// one per action type. An action with no window is always permitted.
type WindowPolicy struct {
	Windows map[attendance.ActionType]Window
}

// Allows implements ShiftPolicy.
func (p *WindowPolicy) Allows(action attendance.ActionType, t time.Time) (bool, string) {
	w, ok := p.Windows[action]
	if !ok {
		return true, ""
	}
	if w.Contains(t) {
		return true, ""
	}
	return false, fmt.Sprintf("%s not permitted at %s: outside shift window", action, t.Format("15:04"))
}
