package session

import (
	"os"
	"strconv"
	"time"
)

// Config defines all runtime configuration for the session subsystem.
//
// It controls the inactivity threshold that invalidates persisted session
// state, countdown duration bounds, and the tick interval used for timer
// re-rendering. Values are environment-driven so product tuning does not
// require code changes.
type Config struct {
	// InactivityThreshold is the maximum time the app may stay backgrounded
	// before all persisted session state is considered stale.
	InactivityThreshold time.Duration

	// DefaultCountdownSeconds is used when a countdown is started without an
	// explicit duration.
	DefaultCountdownSeconds int64

	// MaxCountdownSeconds bounds client-supplied countdown durations.
	MaxCountdownSeconds int64

	// TickInterval is the cadence of timer re-render ticks while a countdown
	// or parking session is active.
	TickInterval time.Duration
}

// DefaultConfig returns the product defaults.
func DefaultConfig() Config {
	return Config{
		InactivityThreshold:     10 * time.Minute,
		DefaultCountdownSeconds: 600,
		MaxCountdownSeconds:     4 * 3600,
		TickInterval:            1 * time.Second,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - AUTOSPOT_SESSION_INACTIVITY_THRESHOLD
//   - AUTOSPOT_SESSION_DEFAULT_COUNTDOWN_SECONDS
//   - AUTOSPOT_SESSION_MAX_COUNTDOWN_SECONDS
//   - AUTOSPOT_SESSION_TICK_INTERVAL
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("AUTOSPOT_SESSION_INACTIVITY_THRESHOLD"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.InactivityThreshold = d
	}

	if v := os.Getenv("AUTOSPOT_SESSION_DEFAULT_COUNTDOWN_SECONDS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return Config{}, ErrConfig
		}
		cfg.DefaultCountdownSeconds = n
	}

	if v := os.Getenv("AUTOSPOT_SESSION_MAX_COUNTDOWN_SECONDS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return Config{}, ErrConfig
		}
		cfg.MaxCountdownSeconds = n
	}

	if v := os.Getenv("AUTOSPOT_SESSION_TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.TickInterval = d
	}

	// Invariant: the default countdown must stay within the bound.
	if cfg.DefaultCountdownSeconds > cfg.MaxCountdownSeconds {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
