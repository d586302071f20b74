package app

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Fatalf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Fatalf("log defaults: level=%q format=%q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.ReadHeaderTimeout != 5*time.Second {
		t.Fatalf("ReadHeaderTimeout=%v", cfg.ReadHeaderTimeout)
	}
	if cfg.DatabaseURL != "" || cfg.ReadinessRequireDB {
		t.Fatalf("db defaults: url=%q require=%v", cfg.DatabaseURL, cfg.ReadinessRequireDB)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("AUTOSPOT_HTTP_ADDR", "127.0.0.1:9090")
	t.Setenv("AUTOSPOT_LOG_LEVEL", "debug")
	t.Setenv("AUTOSPOT_LOG_FORMAT", "pretty")
	t.Setenv("AUTOSPOT_HTTP_READ_TIMEOUT", "30s")
	t.Setenv("AUTOSPOT_DB_MAX_CONNS", "25")
	t.Setenv("AUTOSPOT_READINESS_REQUIRE_DB", "true")

	cfg := LoadConfig()

	if cfg.HTTPAddr != "127.0.0.1:9090" {
		t.Fatalf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "pretty" {
		t.Fatalf("log overrides: level=%q format=%q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.ReadTimeout != 30*time.Second {
		t.Fatalf("ReadTimeout=%v", cfg.ReadTimeout)
	}
	if cfg.DBMaxConns != 25 {
		t.Fatalf("DBMaxConns=%d", cfg.DBMaxConns)
	}
	if !cfg.ReadinessRequireDB {
		t.Fatalf("ReadinessRequireDB should be true")
	}
}

func TestLoadConfig_IgnoresInvalidValues(t *testing.T) {
	t.Setenv("AUTOSPOT_HTTP_READ_TIMEOUT", "soon")
	t.Setenv("AUTOSPOT_DB_MAX_CONNS", "-4")
	t.Setenv("AUTOSPOT_HTTP_MAX_HEADER_BYTES", "0")

	cfg := LoadConfig()

	if cfg.ReadTimeout != 15*time.Second {
		t.Fatalf("ReadTimeout=%v want default", cfg.ReadTimeout)
	}
	if cfg.DBMaxConns != 10 {
		t.Fatalf("DBMaxConns=%d want default", cfg.DBMaxConns)
	}
	if cfg.MaxHeaderBytes != 1<<20 {
		t.Fatalf("MaxHeaderBytes=%d want default", cfg.MaxHeaderBytes)
	}
}
