package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dotops/presence/internal/attendance"
	"github.com/dotops/presence/internal/verify"
)

// Scenario is one YAML-defined verification conformance case: a rule
// configuration plus a sequence of captures with expected outcomes.
type Scenario struct {
	// Name uniquely identifies this scenario; the golden file shares it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description,omitempty"`

	// Sites are the registered locations with their geofences.
	Sites []SiteSpec `yaml:"sites,omitempty"`

	// QR configures payload validation. Zero value means the default
	// prefix with no expiry.
	QR QRSpec `yaml:"qr,omitempty"`

	// Shift holds the daily capture windows, "HH:MM-HH:MM" per action.
	// Empty means no shift restriction.
	Shift ShiftSpec `yaml:"shift,omitempty"`

	// Steps is the capture sequence to replay.
	Steps []Step `yaml:"steps"`
}

// SiteSpec declares one registered location.
type SiteSpec struct {
	ID           string  `yaml:"id"`
	Name         string  `yaml:"name"`
	Latitude     float64 `yaml:"latitude"`
	Longitude    float64 `yaml:"longitude"`
	RadiusMeters float64 `yaml:"radius_meters"`
}

// QRSpec configures QR payload validation for the scenario.
type QRSpec struct {
	Prefix        string `yaml:"prefix,omitempty"`
	MaxAgeSeconds int    `yaml:"max_age_seconds,omitempty"`
}

// ShiftSpec holds optional daily capture windows per action.
type ShiftSpec struct {
	CheckIn  string `yaml:"checkin_window,omitempty"`
	CheckOut string `yaml:"checkout_window,omitempty"`
}

// Step is one capture in the scenario flow.
type Step struct {
	Method string `yaml:"method"`
	Action string `yaml:"action"`

	// At is the capture instant. Optional when neither QR expiry nor a
	// shift window depends on it.
	At time.Time `yaml:"at,omitempty"`

	Latitude  *float64 `yaml:"latitude,omitempty"`
	Longitude *float64 `yaml:"longitude,omitempty"`
	QR        string   `yaml:"qr,omitempty"`

	// Expect validates the outcome. Nil means the step just records
	// its outcome without assertions.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect is a subset match on a step's verification result: only the
// fields present are validated.
type Expect struct {
	Valid            *bool  `yaml:"valid,omitempty"`
	WithinLocation   *bool  `yaml:"within_location,omitempty"`
	WithinTimeWindow *bool  `yaml:"within_time_window,omitempty"`
	ErrorContains    string `yaml:"error_contains,omitempty"`
	Location         string `yaml:"location,omitempty"`
}

// LoadScenario reads and validates one scenario file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}

	var s Scenario
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}

	if s.Name == "" {
		return nil, fmt.Errorf("scenario %s: missing name", path)
	}
	if len(s.Steps) == 0 {
		return nil, fmt.Errorf("scenario %s: no steps", path)
	}
	for i, step := range s.Steps {
		if !attendance.Method(step.Method).Valid() {
			return nil, fmt.Errorf("scenario %s: step %d: unknown method %q", path, i+1, step.Method)
		}
		if !attendance.ActionType(step.Action).Valid() {
			return nil, fmt.Errorf("scenario %s: step %d: unknown action %q", path, i+1, step.Action)
		}
	}
	return &s, nil
}

// LoadScenarios reads every *.yaml scenario in a directory, sorted by
// filename for stable ordering.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("glob scenarios in %s: %w", dir, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenario files in %s", dir)
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, path := range paths {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// coordinator builds the verification pipeline the scenario declares.
func (s *Scenario) coordinator() (*verify.Coordinator, error) {
	sites := make([]verify.Site, len(s.Sites))
	for i, ss := range s.Sites {
		sites[i] = verify.Site{
			ID:           ss.ID,
			Name:         ss.Name,
			Latitude:     ss.Latitude,
			Longitude:    ss.Longitude,
			RadiusMeters: ss.RadiusMeters,
		}
	}

	qr := verify.NewQRValidator(s.QR.Prefix, time.Duration(s.QR.MaxAgeSeconds)*time.Second)

	windows := make(map[attendance.ActionType]verify.Window)
	for action, spec := range map[attendance.ActionType]string{
		attendance.ActionCheckIn:  s.Shift.CheckIn,
		attendance.ActionCheckOut: s.Shift.CheckOut,
	} {
		if spec == "" {
			continue
		}
		w, err := verify.ParseWindow(spec)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
		}
		windows[action] = w
	}

	var policy verify.ShiftPolicy = verify.AlwaysAllowed{}
	if len(windows) > 0 {
		policy = &verify.WindowPolicy{Windows: windows}
	}

	return verify.NewCoordinator(sites, qr, policy), nil
}
