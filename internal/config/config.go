package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dotops/presence/internal/attendance"
	"github.com/dotops/presence/internal/verify"
)

// Config is the device agent configuration, loaded from YAML with
// ${ENV} references expanded before parsing.
type Config struct {
	Device DeviceConfig `yaml:"device" validate:"required"`
	Sites  []SiteConfig `yaml:"sites" validate:"dive"`
	QR     QRConfig     `yaml:"qr"`
	Shift  ShiftConfig  `yaml:"shift"`
	Sync   SyncConfig   `yaml:"sync" validate:"required"`
	Queue  QueueConfig  `yaml:"queue"`
}

// DeviceConfig identifies this install.
type DeviceConfig struct {
	UserID string `yaml:"user_id" validate:"required"`
}

// SiteConfig is one registered location with its geofence.
type SiteConfig struct {
	ID           string  `yaml:"id" validate:"required"`
	Name         string  `yaml:"name" validate:"required"`
	Latitude     float64 `yaml:"latitude" validate:"gte=-90,lte=90"`
	Longitude    float64 `yaml:"longitude" validate:"gte=-180,lte=180"`
	RadiusMeters float64 `yaml:"radius_meters" validate:"gt=0"`
}

// QRConfig controls QR payload validation. A MaxAgeSeconds of zero
// disables the expiry check.
type QRConfig struct {
	Prefix        string `yaml:"prefix"`
	MaxAgeSeconds int    `yaml:"max_age_seconds" validate:"gte=0"`
}

// ShiftConfig holds the daily capture windows, "HH:MM-HH:MM" per
// action. An empty window means the action is always permitted.
type ShiftConfig struct {
	CheckIn  string `yaml:"checkin_window"`
	CheckOut string `yaml:"checkout_window"`
}

// SyncConfig tunes the drain loop.
type SyncConfig struct {
	Endpoint       string        `yaml:"endpoint" validate:"required,url"`
	AuthToken      string        `yaml:"auth_token"`
	MaxRetries     int           `yaml:"max_retries" validate:"gte=1"`
	BaseDelay      time.Duration `yaml:"base_delay" validate:"gt=0"`
	MaxDelay       time.Duration `yaml:"max_delay" validate:"gt=0"`
	DrainInterval  time.Duration `yaml:"drain_interval" validate:"gt=0"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
}

// QueueConfig locates and bounds the local queue database.
type QueueConfig struct {
	Path       string        `yaml:"path" validate:"required"`
	PruneAfter time.Duration `yaml:"prune_after" validate:"gt=0"`
}

// Default returns the built-in configuration. Load overlays the YAML
// file on top of it, so a minimal file only needs device, sites and
// the sync endpoint.
func Default() Config {
	return Config{
		QR: QRConfig{
			Prefix:        verify.DefaultQRPrefix,
			MaxAgeSeconds: 300,
		},
		Sync: SyncConfig{
			MaxRetries:     5,
			BaseDelay:      2 * time.Second,
			MaxDelay:       5 * time.Minute,
			DrainInterval:  30 * time.Second,
			RequestTimeout: 10 * time.Second,
		},
		Queue: QueueConfig{
			Path:       "presence.db",
			PruneAfter: 24 * time.Hour,
		},
	}
}

// Load reads, expands and validates the configuration file.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	// ${VAR} references let secrets like the auth token live in the
	// environment instead of the file.
	expanded := os.Expand(string(raw), os.Getenv)
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks structural constraints and the shift window syntax.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if _, err := c.ShiftPolicy(); err != nil {
		return err
	}
	return nil
}

// ShiftPolicy builds the verify.ShiftPolicy from the configured
// windows. Returns AlwaysAllowed when no window is set.
func (c Config) ShiftPolicy() (verify.ShiftPolicy, error) {
	windows := make(map[attendance.ActionType]verify.Window)
	for action, spec := range map[attendance.ActionType]string{
		attendance.ActionCheckIn:  c.Shift.CheckIn,
		attendance.ActionCheckOut: c.Shift.CheckOut,
	} {
		if spec == "" {
			continue
		}
		w, err := verify.ParseWindow(spec)
		if err != nil {
			return nil, fmt.Errorf("shift window for %s: %w", action, err)
		}
		windows[action] = w
	}
	if len(windows) == 0 {
		return verify.AlwaysAllowed{}, nil
	}
	return &verify.WindowPolicy{Windows: windows}, nil
}

// VerifySites converts the configured sites for the coordinator.
func (c Config) VerifySites() []verify.Site {
	sites := make([]verify.Site, len(c.Sites))
	for i, s := range c.Sites {
		sites[i] = verify.Site{
			ID:           s.ID,
			Name:         s.Name,
			Latitude:     s.Latitude,
			Longitude:    s.Longitude,
			RadiusMeters: s.RadiusMeters,
		}
	}
	return sites
}

// QRMaxAge returns the QR expiry window as a duration.
func (c Config) QRMaxAge() time.Duration {
	return time.Duration(c.QR.MaxAgeSeconds) * time.Second
}
