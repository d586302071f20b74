package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("AUTOSPOT_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("AUTOSPOT_LOG_LEVEL", "info"),
		LogFormat: EnvString("AUTOSPOT_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("AUTOSPOT_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("AUTOSPOT_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("AUTOSPOT_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("AUTOSPOT_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("AUTOSPOT_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("AUTOSPOT_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("AUTOSPOT_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("AUTOSPOT_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("AUTOSPOT_READINESS_REQUIRE_DB", false),
	}
}
