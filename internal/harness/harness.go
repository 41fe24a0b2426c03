package harness

import (
	"fmt"
	"strings"

	"github.com/dotops/presence/internal/attendance"
	"github.com/dotops/presence/internal/verify"
)

// StepOutcome is the recorded decision for one step. Distances and
// exact diagnostics are deliberately excluded: the golden files pin
// the decisions, not the float formatting.
type StepOutcome struct {
	Step             int    `json:"step"`
	Method           string `json:"method"`
	Action           string `json:"action"`
	Valid            bool   `json:"valid"`
	WithinLocation   bool   `json:"within_location"`
	WithinTimeWindow bool   `json:"within_time_window"`
	Location         string `json:"location,omitempty"`
}

// Result is the outcome of one scenario run.
type Result struct {
	Scenario string        `json:"scenario"`
	Pass     bool          `json:"pass"`
	Steps    []StepOutcome `json:"steps"`
	Errors   []string      `json:"errors,omitempty"`
}

// addError records an expectation failure and marks the run failed.
func (r *Result) addError(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

// Run replays the scenario steps through a coordinator built from its
// declaration and validates every expectation.
func Run(s *Scenario) (*Result, error) {
	coord, err := s.coordinator()
	if err != nil {
		return nil, err
	}

	result := &Result{
		Scenario: s.Name,
		Pass:     true,
		Steps:    make([]StepOutcome, 0, len(s.Steps)),
	}

	for i, step := range s.Steps {
		res := coord.Verify(attendance.Method(step.Method), verify.Capture{
			Action:    attendance.ActionType(step.Action),
			Latitude:  step.Latitude,
			Longitude: step.Longitude,
			QRPayload: step.QR,
			At:        step.At,
		})

		result.Steps = append(result.Steps, StepOutcome{
			Step:             i + 1,
			Method:           step.Method,
			Action:           step.Action,
			Valid:            res.IsValid,
			WithinLocation:   res.IsWithinLocation,
			WithinTimeWindow: res.IsWithinTimeWindow,
			Location:         res.LocationName,
		})

		checkExpect(result, i+1, step.Expect, res)
	}

	return result, nil
}

// checkExpect validates the subset-match expectation for one step.
func checkExpect(result *Result, step int, expect *Expect, res attendance.VerificationResult) {
	if expect == nil {
		return
	}
	if expect.Valid != nil && res.IsValid != *expect.Valid {
		result.addError("step %d: valid = %v, want %v (%s)", step, res.IsValid, *expect.Valid, res.ErrorMessage)
	}
	if expect.WithinLocation != nil && res.IsWithinLocation != *expect.WithinLocation {
		result.addError("step %d: within_location = %v, want %v", step, res.IsWithinLocation, *expect.WithinLocation)
	}
	if expect.WithinTimeWindow != nil && res.IsWithinTimeWindow != *expect.WithinTimeWindow {
		result.addError("step %d: within_time_window = %v, want %v", step, res.IsWithinTimeWindow, *expect.WithinTimeWindow)
	}
	if expect.ErrorContains != "" && !strings.Contains(res.ErrorMessage, expect.ErrorContains) {
		result.addError("step %d: error %q does not contain %q", step, res.ErrorMessage, expect.ErrorContains)
	}
	if expect.Location != "" && res.LocationName != expect.Location {
		result.addError("step %d: location = %q, want %q", step, res.LocationName, expect.Location)
	}
}
