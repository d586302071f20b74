package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aripal2k/P92-Parking-sub003/cmd/internal/prefs"
)

func testService(t *testing.T) (*Service, *prefs.MemoryStore) {
	t.Helper()
	store := prefs.NewMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(DefaultConfig(), store, log), store
}

func seed(t *testing.T, store *prefs.MemoryStore, deviceID string, kv map[string]string) {
	t.Helper()
	ctx := context.Background()
	for k, v := range kv {
		if err := store.Set(ctx, deviceID, k, v); err != nil {
			t.Fatalf("seed %s: %v", k, err)
		}
	}
}

func assertRemoved(t *testing.T, store *prefs.MemoryStore, deviceID string, keys ...string) {
	t.Helper()
	ctx := context.Background()
	for _, k := range keys {
		if _, err := store.Get(ctx, deviceID, k); !errors.Is(err, prefs.ErrNotFound) {
			t.Fatalf("expected key %q removed, got err=%v", k, err)
		}
	}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	cfg := DefaultConfig()

	ts := func(t time.Time) *string {
		s := t.Format(time.RFC3339)
		return &s
	}
	str := func(s string) *string { return &s }

	cases := []struct {
		name string
		f    rawFields

		wantState     State
		wantReason    string
		wantRemaining int64
		wantElapsed   time.Duration
		wantRollover  bool
	}{
		{
			name:      "no fields",
			f:         rawFields{},
			wantState: StateCleared, wantReason: ClearLastActiveMissing,
		},
		{
			name:      "malformed last active",
			f:         rawFields{lastActive: str("yesterday-ish")},
			wantState: StateCleared, wantReason: ClearLastActiveInvalid,
		},
		{
			name: "inactive just over threshold",
			f: rawFields{
				lastActive:       ts(now.Add(-10*time.Minute - time.Second)),
				countdownStart:   ts(now.Add(-2 * time.Second)),
				countdownSeconds: str("600"),
			},
			wantState: StateCleared, wantReason: ClearInactive,
		},
		{
			name: "countdown resumed just under threshold",
			f: rawFields{
				lastActive:       ts(now.Add(-10*time.Minute + time.Second)),
				countdownStart:   ts(now.Add(-2 * time.Second)),
				countdownSeconds: str("10"),
			},
			wantState: StateCountdown, wantRemaining: 8,
		},
		{
			name: "countdown expired rolls into parking",
			f: rawFields{
				lastActive:       ts(now.Add(-time.Minute)),
				countdownStart:   ts(now.Add(-11 * time.Second)),
				countdownSeconds: str("10"),
			},
			wantState: StateParking, wantRollover: true,
		},
		{
			name: "countdown exactly at duration rolls into parking",
			f: rawFields{
				lastActive:       ts(now.Add(-time.Minute)),
				countdownStart:   ts(now.Add(-10 * time.Second)),
				countdownSeconds: str("10"),
			},
			wantState: StateParking, wantRollover: true,
		},
		{
			name: "unparsable countdown start falls through to parking",
			f: rawFields{
				lastActive:       ts(now.Add(-time.Minute)),
				countdownStart:   str("ten past"),
				countdownSeconds: str("600"),
				parkingStart:     ts(now.Add(-5 * time.Minute)),
			},
			wantState: StateParking, wantElapsed: 5 * time.Minute,
		},
		{
			name: "non-numeric countdown seconds falls through",
			f: rawFields{
				lastActive:       ts(now.Add(-time.Minute)),
				countdownStart:   ts(now.Add(-2 * time.Second)),
				countdownSeconds: str("soon"),
			},
			wantState: StateCleared, wantReason: ClearNoSession,
		},
		{
			name: "parking resumed",
			f: rawFields{
				lastActive:   ts(now.Add(-time.Minute)),
				parkingStart: ts(now.Add(-42 * time.Minute)),
			},
			wantState: StateParking, wantElapsed: 42 * time.Minute,
		},
		{
			name: "unparsable parking start clears",
			f: rawFields{
				lastActive:   ts(now.Add(-time.Minute)),
				parkingStart: str("noon"),
			},
			wantState: StateCleared, wantReason: ClearParkingInvalid,
		},
		{
			name: "countdown precedes parking when both valid",
			f: rawFields{
				lastActive:       ts(now.Add(-time.Minute)),
				countdownStart:   ts(now.Add(-30 * time.Second)),
				countdownSeconds: str("300"),
				parkingStart:     ts(now.Add(-5 * time.Minute)),
			},
			wantState: StateCountdown, wantRemaining: 270,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ev := evaluate(cfg, now, tc.f)
			o := ev.outcome

			if o.State != tc.wantState {
				t.Fatalf("state=%q want=%q", o.State, tc.wantState)
			}
			if tc.wantReason != "" && o.ClearedReason != tc.wantReason {
				t.Fatalf("reason=%q want=%q", o.ClearedReason, tc.wantReason)
			}
			if o.RemainingSeconds != tc.wantRemaining {
				t.Fatalf("remaining=%d want=%d", o.RemainingSeconds, tc.wantRemaining)
			}
			if o.Elapsed != tc.wantElapsed {
				t.Fatalf("elapsed=%v want=%v", o.Elapsed, tc.wantElapsed)
			}
			if o.CountdownElapsed != tc.wantRollover {
				t.Fatalf("countdown_elapsed=%v want=%v", o.CountdownElapsed, tc.wantRollover)
			}
			if o.State == StateCountdown && o.RemainingSeconds <= 0 {
				t.Fatalf("countdown outcome must have positive remaining, got %d", o.RemainingSeconds)
			}
		})
	}
}

func TestReconcile_MalformedLastActiveClearsAllKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	svc, store := testService(t)

	seed(t, store, "dev-1", map[string]string{
		KeyAppLastActiveTime:  "not-a-timestamp",
		KeyParkingStartTime:   now.Add(-time.Minute).Format(time.RFC3339),
		KeyCountdownStartTime: now.Add(-time.Minute).Format(time.RFC3339),
		KeyCountdownSeconds:   "600",
	})

	out, err := svc.Reconcile(ctx, now, "dev-1")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if out.State != StateCleared {
		t.Fatalf("state=%q want=%q", out.State, StateCleared)
	}
	assertRemoved(t, store, "dev-1", KeyParkingStartTime, KeyCountdownStartTime, KeyCountdownSeconds)
}

func TestReconcile_InactivityBeatsValidTimers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	svc, store := testService(t)

	// lastActive 15 minutes ago, parking started "now": still cleared.
	seed(t, store, "dev-1", map[string]string{
		KeyAppLastActiveTime: now.Add(-15 * time.Minute).Format(time.RFC3339),
		KeyParkingStartTime:  now.Format(time.RFC3339),
	})

	out, err := svc.Reconcile(ctx, now, "dev-1")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if out.State != StateCleared || out.ClearedReason != ClearInactive {
		t.Fatalf("got state=%q reason=%q", out.State, out.ClearedReason)
	}
	assertRemoved(t, store, "dev-1", KeyParkingStartTime)
}

func TestReconcile_CountdownExpiredStartsParking(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	svc, store := testService(t)

	seed(t, store, "dev-1", map[string]string{
		KeyAppLastActiveTime:  now.Add(-time.Minute).Format(time.RFC3339),
		KeyCountdownStartTime: now.Add(-2 * time.Minute).Format(time.RFC3339),
		KeyCountdownSeconds:   "60",
	})

	out, err := svc.Reconcile(ctx, now, "dev-1")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if out.State != StateParking || !out.CountdownElapsed {
		t.Fatalf("got state=%q countdown_elapsed=%v", out.State, out.CountdownElapsed)
	}
	assertRemoved(t, store, "dev-1", KeyCountdownStartTime, KeyCountdownSeconds)

	// The transition persisted a fresh parking session.
	v, err := store.Get(ctx, "dev-1", KeyParkingStartTime)
	if err != nil {
		t.Fatalf("parking start not written: %v", err)
	}
	if v != now.Format(time.RFC3339) {
		t.Fatalf("parking start=%q want=%q", v, now.Format(time.RFC3339))
	}
}

func TestReconcile_ExampleCountdownResumed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	svc, store := testService(t)

	seed(t, store, "dev-1", map[string]string{
		KeyAppLastActiveTime:  now.Add(-2 * time.Second).Format(time.RFC3339),
		KeyCountdownStartTime: now.Add(-2 * time.Second).Format(time.RFC3339),
		KeyCountdownSeconds:   "10",
	})

	out, err := svc.Reconcile(ctx, now, "dev-1")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if out.State != StateCountdown || out.RemainingSeconds != 8 {
		t.Fatalf("got state=%q remaining=%d, want countdown/8", out.State, out.RemainingSeconds)
	}
}

func TestReconcile_SecondRunAfterClearYieldsCleared(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	svc, store := testService(t)

	seed(t, store, "dev-1", map[string]string{
		KeyAppLastActiveTime: now.Add(-20 * time.Minute).Format(time.RFC3339),
		KeyParkingStartTime:  now.Add(-20 * time.Minute).Format(time.RFC3339),
	})

	first, err := svc.Reconcile(ctx, now, "dev-1")
	if err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	if first.State != StateCleared || first.ClearedReason != ClearInactive {
		t.Fatalf("first: state=%q reason=%q", first.State, first.ClearedReason)
	}

	// The first run cleared the timers; the second run sees nothing to resume.
	second, err := svc.Reconcile(ctx, now, "dev-1")
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if second.State != StateCleared {
		t.Fatalf("second: state=%q want=%q", second.State, StateCleared)
	}
}

func TestSnapshot_DoesNotWrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	svc, store := testService(t)

	// Expired countdown: a reconcile would roll this into parking.
	seed(t, store, "dev-1", map[string]string{
		KeyAppLastActiveTime:  now.Add(-time.Minute).Format(time.RFC3339),
		KeyCountdownStartTime: now.Add(-2 * time.Minute).Format(time.RFC3339),
		KeyCountdownSeconds:   "60",
	})

	out, err := svc.Snapshot(ctx, now, "dev-1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if out.State != StateParking || !out.CountdownElapsed {
		t.Fatalf("got state=%q countdown_elapsed=%v", out.State, out.CountdownElapsed)
	}

	// Nothing was persisted: the countdown fields survive and no parking
	// start was written.
	if _, err := store.Get(ctx, "dev-1", KeyCountdownStartTime); err != nil {
		t.Fatalf("countdown start should survive snapshot: %v", err)
	}
	if _, err := store.Get(ctx, "dev-1", KeyParkingStartTime); !errors.Is(err, prefs.ErrNotFound) {
		t.Fatalf("parking start must not be written by snapshot, got err=%v", err)
	}
}

func TestLifecycle_CountdownParkingEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	svc, store := testService(t)

	out, err := svc.StartCountdown(ctx, now, "dev-1", 120)
	if err != nil {
		t.Fatalf("StartCountdown: %v", err)
	}
	if out.State != StateCountdown || out.RemainingSeconds != 120 {
		t.Fatalf("got state=%q remaining=%d", out.State, out.RemainingSeconds)
	}

	// Starting parking replaces the countdown.
	if _, err := svc.StartParking(ctx, now.Add(30*time.Second), "dev-1"); err != nil {
		t.Fatalf("StartParking: %v", err)
	}
	assertRemoved(t, store, "dev-1", KeyCountdownStartTime, KeyCountdownSeconds)

	elapsed, err := svc.EndParking(ctx, now.Add(90*time.Second), "dev-1")
	if err != nil {
		t.Fatalf("EndParking: %v", err)
	}
	if elapsed != time.Minute {
		t.Fatalf("elapsed=%v want=%v", elapsed, time.Minute)
	}

	if _, err := svc.EndParking(ctx, now.Add(2*time.Minute), "dev-1"); !errors.Is(err, ErrNoActiveParking) {
		t.Fatalf("expected ErrNoActiveParking, got %v", err)
	}
}

func TestStartCountdown_Bounds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	svc, _ := testService(t)

	// Zero selects the default.
	out, err := svc.StartCountdown(ctx, now, "dev-1", 0)
	if err != nil {
		t.Fatalf("StartCountdown: %v", err)
	}
	if out.RemainingSeconds != DefaultConfig().DefaultCountdownSeconds {
		t.Fatalf("remaining=%d want default=%d", out.RemainingSeconds, DefaultConfig().DefaultCountdownSeconds)
	}

	// Above the maximum is rejected.
	if _, err := svc.StartCountdown(ctx, now, "dev-1", DefaultConfig().MaxCountdownSeconds+1); !errors.Is(err, ErrInvalidCountdown) {
		t.Fatalf("expected ErrInvalidCountdown, got %v", err)
	}
}
