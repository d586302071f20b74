package prefs

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a preference key has no value for the device.
	ErrNotFound = errors.New("preference not found")

	// ErrInvalidKey is returned for empty device IDs or keys.
	ErrInvalidKey = errors.New("invalid preference key")
)

// Store abstracts persistence for device preferences.
//
// Remove of an absent key is a no-op; implementations must not return
// ErrNotFound from Remove.
type Store interface {
	// Get returns the raw string value for (deviceID, key).
	Get(ctx context.Context, deviceID, key string) (string, error)

	// GetInt returns the value parsed as a base-10 integer.
	// A present but non-numeric value is reported as an error distinct from ErrNotFound.
	GetInt(ctx context.Context, deviceID, key string) (int64, error)

	// Set writes the value for (deviceID, key), overwriting any previous value.
	Set(ctx context.Context, deviceID, key, value string) error

	// SetInt writes an integer value for (deviceID, key).
	SetInt(ctx context.Context, deviceID, key string, value int64) error

	// Remove deletes the value for (deviceID, key) if present.
	Remove(ctx context.Context, deviceID, key string) error
}
