package sessionapi

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls session API behavior.
type Config struct {
	MaxBodyBytes int64

	// Per-IP sliding window rate limit on mutating routes.
	RateMax    int
	RateWindow time.Duration

	// If true, X-Forwarded-For is trusted for client IP extraction.
	TrustProxy bool
}

// LoadConfigFromEnv loads API config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		MaxBodyBytes: envInt64("AUTOSPOT_API_MAX_BODY_BYTES", 1<<16), // 64 KiB
		RateMax:      envInt("AUTOSPOT_API_RATE_MAX", 30),
		RateWindow:   envDuration("AUTOSPOT_API_RATE_WINDOW", time.Minute),
		TrustProxy:   envBool("AUTOSPOT_API_TRUST_PROXY", false),
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 16
	}
	if cfg.RateMax <= 0 {
		cfg.RateMax = 30
	}

	return cfg
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
