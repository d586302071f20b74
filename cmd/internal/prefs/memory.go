package prefs

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// MemoryStore is a dev-only fallback when DB is not configured.
// It is also the deterministic fake used by session tests.
type MemoryStore struct {
	mu      sync.Mutex
	devices map[string]map[string]string
}

// NewMemoryStore constructs an in-memory Store implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices: make(map[string]map[string]string),
	}
}

// Close closes the store (noop for in-memory).
func (s *MemoryStore) Close() error { return nil }

// Get returns the raw string value for (deviceID, key).
func (s *MemoryStore) Get(ctx context.Context, deviceID, key string) (string, error) {
	if err := validateKey(deviceID, key); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kv, ok := s.devices[deviceID]
	if !ok {
		return "", ErrNotFound
	}
	v, ok := kv[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// GetInt returns the value parsed as a base-10 integer.
func (s *MemoryStore) GetInt(ctx context.Context, deviceID, key string) (int64, error) {
	v, err := s.Get(ctx, deviceID, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("preference %q is not an integer: %w", key, err)
	}
	return n, nil
}

// Set writes the value for (deviceID, key).
func (s *MemoryStore) Set(ctx context.Context, deviceID, key, value string) error {
	if err := validateKey(deviceID, key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kv, ok := s.devices[deviceID]
	if !ok {
		kv = make(map[string]string)
		s.devices[deviceID] = kv
	}
	kv[key] = value
	return nil
}

// SetInt writes an integer value for (deviceID, key).
func (s *MemoryStore) SetInt(ctx context.Context, deviceID, key string, value int64) error {
	return s.Set(ctx, deviceID, key, strconv.FormatInt(value, 10))
}

// Remove deletes the value for (deviceID, key). Removing an absent key is a no-op.
func (s *MemoryStore) Remove(ctx context.Context, deviceID, key string) error {
	if err := validateKey(deviceID, key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if kv, ok := s.devices[deviceID]; ok {
		delete(kv, key)
		if len(kv) == 0 {
			delete(s.devices, deviceID)
		}
	}
	return nil
}

func validateKey(deviceID, key string) error {
	if strings.TrimSpace(deviceID) == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	return nil
}
