package session

import "errors"

var (
	// ErrMissingField is returned when a persisted field required by an
	// operation is absent. Reconciliation recovers from it internally.
	ErrMissingField = errors.New("missing session field")

	// ErrUnparsableTimestamp is returned when a persisted timestamp fails to
	// parse. Reconciliation recovers from it internally by clearing the
	// dependent state.
	ErrUnparsableTimestamp = errors.New("unparsable timestamp")

	// ErrNoActiveParking is returned when ending a parking session that is not
	// running.
	ErrNoActiveParking = errors.New("no active parking session")

	// ErrInvalidCountdown is returned when a countdown duration is outside the
	// configured bounds.
	ErrInvalidCountdown = errors.New("invalid countdown duration")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
