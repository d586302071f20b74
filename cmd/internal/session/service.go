package session

import (
	"context"
	"errors"
	"time"

	"github.com/aripal2k/P92-Parking-sub003/cmd/internal/prefs"
)

// StartCountdown begins a countdown-to-parking timer for the device.
// A zero or negative seconds value selects the configured default; values
// above the configured maximum are rejected with ErrInvalidCountdown.
//
// At most one of countdown/parking may be active, so any running parking
// session is dropped when a countdown starts.
func (s *Service) StartCountdown(ctx context.Context, now time.Time, deviceID string, seconds int64) (Outcome, error) {
	now = now.UTC()

	if seconds <= 0 {
		seconds = s.cfg.DefaultCountdownSeconds
	}
	if seconds > s.cfg.MaxCountdownSeconds {
		return Outcome{}, ErrInvalidCountdown
	}

	if err := s.prefs.Remove(ctx, deviceID, KeyParkingStartTime); err != nil {
		return Outcome{}, err
	}
	if err := s.prefs.Set(ctx, deviceID, KeyCountdownStartTime, formatTimestamp(now)); err != nil {
		return Outcome{}, err
	}
	if err := s.prefs.SetInt(ctx, deviceID, KeyCountdownSeconds, seconds); err != nil {
		return Outcome{}, err
	}
	if err := s.prefs.Set(ctx, deviceID, KeyAppLastActiveTime, formatTimestamp(now)); err != nil {
		return Outcome{}, err
	}

	s.log.Info("countdown.start", "device_id", deviceID, "seconds", seconds)

	return Outcome{
		State:            StateCountdown,
		RemainingSeconds: seconds,
		CountdownStart:   now,
		CountdownSeconds: seconds,
	}, nil
}

// StartParking begins a parking session for the device, replacing any running
// countdown.
func (s *Service) StartParking(ctx context.Context, now time.Time, deviceID string) (Outcome, error) {
	now = now.UTC()

	for _, key := range countdownKeys {
		if err := s.prefs.Remove(ctx, deviceID, key); err != nil {
			return Outcome{}, err
		}
	}
	if err := s.prefs.Set(ctx, deviceID, KeyParkingStartTime, formatTimestamp(now)); err != nil {
		return Outcome{}, err
	}
	if err := s.prefs.Set(ctx, deviceID, KeyAppLastActiveTime, formatTimestamp(now)); err != nil {
		return Outcome{}, err
	}

	s.log.Info("parking.start", "device_id", deviceID)

	return Outcome{State: StateParking, ParkingStart: now}, nil
}

// EndParking finishes the active parking session and returns its total
// duration. ErrNoActiveParking is returned when no session is running; a
// malformed start timestamp is cleared and reported the same way.
func (s *Service) EndParking(ctx context.Context, now time.Time, deviceID string) (time.Duration, error) {
	now = now.UTC()

	raw, err := s.prefs.Get(ctx, deviceID, KeyParkingStartTime)
	if errors.Is(err, prefs.ErrNotFound) {
		return 0, ErrNoActiveParking
	}
	if err != nil {
		return 0, err
	}

	start, parseErr := parseTimestamp(raw)

	if err := s.prefs.Remove(ctx, deviceID, KeyParkingStartTime); err != nil {
		return 0, err
	}
	if err := s.prefs.Set(ctx, deviceID, KeyAppLastActiveTime, formatTimestamp(now)); err != nil {
		return 0, err
	}

	if parseErr != nil {
		s.log.Warn("parking.end.unparsable_start", "device_id", deviceID)
		return 0, ErrNoActiveParking
	}

	elapsed := now.Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}

	s.log.Info("parking.end", "device_id", deviceID, "elapsed_s", int64(elapsed/time.Second))
	return elapsed, nil
}

// MarkActive records a foreground touch. The app calls this while in the
// foreground so the next resume's inactivity check measures background time.
func (s *Service) MarkActive(ctx context.Context, now time.Time, deviceID string) error {
	return s.prefs.Set(ctx, deviceID, KeyAppLastActiveTime, formatTimestamp(now.UTC()))
}

// Clear removes all persisted session fields for the device.
func (s *Service) Clear(ctx context.Context, deviceID string) error {
	for _, key := range sessionKeys {
		if err := s.prefs.Remove(ctx, deviceID, key); err != nil {
			return err
		}
	}
	return nil
}
