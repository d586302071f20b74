package prefs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (autospot.preferences).
//
// Expected schema (managed outside this repo):
//
//	CREATE TABLE autospot.preferences (
//	    device_id  text NOT NULL,
//	    key        text NOT NULL,
//	    value      text NOT NULL,
//	    updated_at timestamptz NOT NULL,
//	    PRIMARY KEY (device_id, key)
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed preference store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("prefs: nil db pool")
	}
	return &PostgresStore{pool: pool}, nil
}

// Close closes the store. The pool is owned by the app, so this is a no-op.
func (s *PostgresStore) Close() error { return nil }

// Get returns the raw string value for (deviceID, key).
func (s *PostgresStore) Get(ctx context.Context, deviceID, key string) (string, error) {
	if err := validateKey(deviceID, key); err != nil {
		return "", err
	}

	var value string
	err := s.pool.QueryRow(ctx, `
		SELECT value
		FROM autospot.preferences
		WHERE device_id = $1 AND key = $2
	`, deviceID, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// GetInt returns the value parsed as a base-10 integer.
func (s *PostgresStore) GetInt(ctx context.Context, deviceID, key string) (int64, error) {
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

// Set upserts the value for (deviceID, key).
func (s *PostgresStore) Set(ctx context.Context, deviceID, key, value string) error {
	if err := validateKey(deviceID, key); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO autospot.preferences (device_id, key, value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (device_id, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, deviceID, key, value, time.Now().UTC())
	return err
}

// SetInt upserts an integer value for (deviceID, key).
func (s *PostgresStore) SetInt(ctx context.Context, deviceID, key string, value int64) error {
	return s.Set(ctx, deviceID, key, strconv.FormatInt(value, 10))
}

// Remove deletes the value for (deviceID, key). Removing an absent key is a no-op.
func (s *PostgresStore) Remove(ctx context.Context, deviceID, key string) error {
	if err := validateKey(deviceID, key); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `
		DELETE FROM autospot.preferences
		WHERE device_id = $1 AND key = $2
	`, deviceID, key)
	return err
}
