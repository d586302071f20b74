package session

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aripal2k/P92-Parking-sub003/cmd/internal/prefs"
)

// Service implements the high-level session operations for AutoSpot.
//
// It reconciles persisted state at app-resume, starts and ends countdowns and
// parking sessions, and owns the preference keys those operations read and
// write. The preference store is injected so tests run against the in-memory
// implementation.
type Service struct {
	cfg   Config
	prefs prefs.Store
	log   *slog.Logger
}

// NewService constructs a Service with the provided configuration and store.
func NewService(cfg Config, store prefs.Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{cfg: cfg, prefs: store, log: log}
}

// Config returns the service configuration.
func (s *Service) Config() Config { return s.cfg }

// rawFields are the persisted values as read, nil when absent. Parsing is
// deferred to evaluate so malformed values resolve per the clearing rules
// rather than as read errors.
type rawFields struct {
	lastActive       *string
	parkingStart     *string
	countdownStart   *string
	countdownSeconds *string
}

// evaluation is the pure result of reducing persisted fields at an instant:
// the outcome plus the store mutations that make it durable.
type evaluation struct {
	outcome        Outcome
	clearKeys      []string
	startParkingAt *time.Time
}

// Reconcile performs the one-time recomputation of session state for a device
// returning from background. It applies the clearing decisions to the store,
// rolls an expired countdown into a fresh parking session, and returns the
// resumed state.
//
// Malformed or missing fields never surface as errors; they resolve toward
// StateCleared. Only store backend failures are returned.
func (s *Service) Reconcile(ctx context.Context, now time.Time, deviceID string) (Outcome, error) {
	now = now.UTC()

	f, err := s.readFields(ctx, deviceID)
	if err != nil {
		return Outcome{}, err
	}

	ev := evaluate(s.cfg, now, f)

	for _, key := range ev.clearKeys {
		if err := s.prefs.Remove(ctx, deviceID, key); err != nil {
			return Outcome{}, err
		}
	}

	if ev.startParkingAt != nil {
		at := ev.startParkingAt.UTC()
		if err := s.prefs.Set(ctx, deviceID, KeyParkingStartTime, formatTimestamp(at)); err != nil {
			return Outcome{}, err
		}
		if err := s.prefs.Set(ctx, deviceID, KeyAppLastActiveTime, formatTimestamp(now)); err != nil {
			return Outcome{}, err
		}
	}

	switch ev.outcome.State {
	case StateCleared:
		s.log.Info("reconcile.cleared", "device_id", deviceID, "reason", ev.outcome.ClearedReason)
	case StateCountdown:
		s.log.Info("reconcile.countdown_resumed", "device_id", deviceID, "remaining_s", ev.outcome.RemainingSeconds)
	case StateParking:
		s.log.Info("reconcile.parking_resumed",
			"device_id", deviceID,
			"elapsed_s", int64(ev.outcome.Elapsed/time.Second),
			"countdown_elapsed", ev.outcome.CountdownElapsed,
		)
	}

	return ev.outcome, nil
}

// Snapshot computes the same reduction as Reconcile without writing anything.
// It backs read-only views and the tick gateway, which must never mutate
// session state outside the resume path.
func (s *Service) Snapshot(ctx context.Context, now time.Time, deviceID string) (Outcome, error) {
	f, err := s.readFields(ctx, deviceID)
	if err != nil {
		return Outcome{}, err
	}
	return evaluate(s.cfg, now.UTC(), f).outcome, nil
}

func (s *Service) readFields(ctx context.Context, deviceID string) (rawFields, error) {
	var f rawFields

	read := func(key string, dst **string) error {
		v, err := s.prefs.Get(ctx, deviceID, key)
		if errors.Is(err, prefs.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		*dst = &v
		return nil
	}

	if err := read(KeyAppLastActiveTime, &f.lastActive); err != nil {
		return rawFields{}, err
	}
	if err := read(KeyParkingStartTime, &f.parkingStart); err != nil {
		return rawFields{}, err
	}
	if err := read(KeyCountdownStartTime, &f.countdownStart); err != nil {
		return rawFields{}, err
	}
	if err := read(KeyCountdownSeconds, &f.countdownSeconds); err != nil {
		return rawFields{}, err
	}

	return f, nil
}

// evaluate reduces persisted fields at an instant. Pure: the only inputs are
// the arguments and the only outputs are the returned outcome and mutations.
//
// Precedence: staleness first (missing or unparsable last-active, then the
// inactivity threshold), then countdown, then parking. A countdown that has
// run past its configured duration transitions into a fresh parking session.
func evaluate(cfg Config, now time.Time, f rawFields) evaluation {
	// Stale checks gate everything else.
	if f.lastActive == nil {
		return clearedAll(ClearLastActiveMissing)
	}
	lastActive, err := parseTimestamp(*f.lastActive)
	if err != nil {
		return clearedAll(ClearLastActiveInvalid)
	}
	if now.Sub(lastActive) > cfg.InactivityThreshold {
		return clearedAll(ClearInactive)
	}

	var clear []string

	// Countdown takes precedence over parking.
	if f.countdownStart != nil {
		start, startErr := parseTimestamp(*f.countdownStart)
		seconds, secondsOK := parseSeconds(f.countdownSeconds)

		switch {
		case startErr != nil || !secondsOK:
			// Invalid pair: drop the countdown, fall through to parking.
			clear = append(clear, countdownKeys...)

		default:
			elapsed := int64(now.Sub(start) / time.Second)
			if elapsed >= seconds {
				at := now
				return evaluation{
					outcome: Outcome{
						State:            StateParking,
						CountdownElapsed: true,
						ParkingStart:     now,
					},
					clearKeys:      countdownKeys,
					startParkingAt: &at,
				}
			}
			return evaluation{
				outcome: Outcome{
					State:            StateCountdown,
					RemainingSeconds: seconds - elapsed,
					CountdownStart:   start,
					CountdownSeconds: seconds,
				},
			}
		}
	} else if f.countdownSeconds != nil {
		// Orphaned duration without a start.
		clear = append(clear, KeyCountdownSeconds)
	}

	if f.parkingStart != nil {
		start, err := parseTimestamp(*f.parkingStart)
		if err != nil {
			clear = append(clear, KeyParkingStartTime)
			return evaluation{
				outcome:   Outcome{State: StateCleared, ClearedReason: ClearParkingInvalid},
				clearKeys: clear,
			}
		}
		elapsed := now.Sub(start)
		if elapsed < 0 {
			elapsed = 0
		}
		return evaluation{
			outcome: Outcome{
				State:        StateParking,
				Elapsed:      elapsed,
				ParkingStart: start,
			},
			clearKeys: clear,
		}
	}

	return evaluation{
		outcome:   Outcome{State: StateCleared, ClearedReason: ClearNoSession},
		clearKeys: clear,
	}
}

func clearedAll(reason string) evaluation {
	return evaluation{
		outcome:   Outcome{State: StateCleared, ClearedReason: reason},
		clearKeys: sessionKeys,
	}
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, ErrUnparsableTimestamp
	}
	return t.UTC(), nil
}

func parseSeconds(s *string) (int64, bool) {
	if s == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(*s), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
