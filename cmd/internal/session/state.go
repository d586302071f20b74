package session

import "time"

// State is the reconciled session state.
type State string

const (
	// StateCleared means no active timers remain.
	StateCleared State = "cleared"
	// StateCountdown means a countdown-to-parking timer is running.
	StateCountdown State = "countdown"
	// StateParking means a parking session is active.
	StateParking State = "parking"
)

// Cleared reasons, recorded on StateCleared outcomes for logs and metrics.
const (
	ClearNoSession         = "no_session"
	ClearInactive          = "inactive"
	ClearLastActiveMissing = "last_active_missing"
	ClearLastActiveInvalid = "last_active_invalid"
	ClearParkingInvalid    = "parking_invalid"
)

// Outcome is the result of reconciling persisted session state at a point in
// time. Exactly one state is set; the timer anchor fields are populated for
// the active state so callers can re-render elapsed/remaining without touching
// the store again.
type Outcome struct {
	State State

	// ClearedReason explains a StateCleared outcome.
	ClearedReason string

	// RemainingSeconds is set for StateCountdown and is always > 0.
	RemainingSeconds int64

	// Elapsed is set for StateParking.
	Elapsed time.Duration

	// CountdownElapsed signals that an expired countdown was rolled into a
	// fresh parking session during this reconciliation.
	CountdownElapsed bool

	// Timer anchors.
	CountdownStart   time.Time
	CountdownSeconds int64
	ParkingStart     time.Time
}

// Tick is one timer re-render update derived from an Outcome.
type Tick struct {
	State            State
	RemainingSeconds int64
	Elapsed          time.Duration
	At               time.Time

	// Done reports that the timer has nothing further to render: the
	// countdown reached zero or the outcome carries no active timer.
	Done bool
}

// TickAt re-renders the outcome's timer at the given instant. It performs no
// reconciliation and no store access.
func (o Outcome) TickAt(now time.Time) Tick {
	switch o.State {
	case StateCountdown:
		remaining := o.CountdownSeconds - int64(now.Sub(o.CountdownStart)/time.Second)
		if remaining <= 0 {
			return Tick{State: StateCountdown, RemainingSeconds: 0, At: now, Done: true}
		}
		return Tick{State: StateCountdown, RemainingSeconds: remaining, At: now}

	case StateParking:
		elapsed := now.Sub(o.ParkingStart)
		if elapsed < 0 {
			elapsed = 0
		}
		return Tick{State: StateParking, Elapsed: elapsed, At: now}

	default:
		return Tick{State: StateCleared, At: now, Done: true}
	}
}
