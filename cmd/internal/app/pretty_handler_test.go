package app

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestPrettyHandler_PlainLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false)
	log := slog.New(h)

	log.Info("server.start", "addr", "0.0.0.0:8080", "db_enabled", false)

	line := buf.String()
	for _, want := range []string{"lvl=[INFO]", "msg=server.start", "addr=0.0.0.0:8080", "db_enabled=false"} {
		if !strings.Contains(line, want) {
			t.Fatalf("line %q missing %q", line, want)
		}
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("color disabled but ANSI present: %q", line)
	}
}

func TestPrettyHandler_FlattensGroups(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newPrettyHandler(&buf, nil, false)
	log := slog.New(h).WithGroup("http").With("route", "/v1/session")

	log.Warn("slow request", slog.Group("timing", slog.Int64("queue_ms", 12)))

	line := buf.String()
	if !strings.Contains(line, "http.route=/v1/session") {
		t.Fatalf("group prefix missing: %q", line)
	}
	if !strings.Contains(line, "http.timing.queue_ms=12") {
		t.Fatalf("nested group key missing: %q", line)
	}
}

func TestPrettyHandler_RespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, false)

	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatalf("info should be disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Fatalf("error should be enabled at warn level")
	}
}

func TestQuoteIfNeeded(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "plain", want: "plain"},
		{in: "", want: `""`},
		{in: "has space", want: `"has space"`},
		{in: `k="v"`, want: `"k=\"v\""`},
	}

	for _, tc := range cases {
		if got := quoteIfNeeded(tc.in); got != tc.want {
			t.Errorf("quoteIfNeeded(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestValueToString(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		in   slog.Value
		want string
	}{
		{in: slog.StringValue("x"), want: "x"},
		{in: slog.Int64Value(-3), want: "-3"},
		{in: slog.BoolValue(true), want: "true"},
		{in: slog.DurationValue(1500 * time.Millisecond), want: "1.5s"},
		{in: slog.TimeValue(at), want: "2026-08-31T12:00:00Z"},
	}

	for _, tc := range cases {
		if got := valueToString(tc.in); got != tc.want {
			t.Errorf("valueToString(%v)=%q want=%q", tc.in, got, tc.want)
		}
	}
}
