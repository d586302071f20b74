// Package v1 defines the AutoSpot Tick Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between the server and mobile clients so the wire shape of
// session-state and tick frames stays authoritative in one place.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a device handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the handshake (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeWatch subscribes the device to per-second timer updates (client -> server).
	TypeWatch = "watch"
	// TypeUnwatch cancels an active watch (client -> server).
	TypeUnwatch = "unwatch"

	// TypeSessionState carries the current reconciled session snapshot (server -> client).
	TypeSessionState = "session_state"
	// TypeTick is the periodic remaining/elapsed update while a timer runs (server -> client).
	TypeTick = "tick"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}
	switch e.Type {
	case TypeHello, TypeHelloAck, TypeWatch, TypeUnwatch,
		TypeSessionState, TypeTick, TypeError:
	default:
		return fmt.Errorf("unsupported type: %q", e.Type)
	}
	return nil
}

// HelloPayload identifies the device to the gateway.
type HelloPayload struct {
	DeviceID string `json:"device_id"`
}

// HelloAckPayload confirms the handshake and returns the gateway session id.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
}

// WatchPayload is currently empty; the device from the handshake is watched.
type WatchPayload struct{}

// SessionStatePayload is the reconciled snapshot sent on watch and on
// countdown completion. State is one of "cleared", "countdown", "parking".
type SessionStatePayload struct {
	State            string `json:"state"`
	RemainingSeconds int64  `json:"remaining_seconds,omitempty"`
	ElapsedSeconds   int64  `json:"elapsed_seconds,omitempty"`
	CountdownElapsed bool   `json:"countdown_elapsed,omitempty"`
}

// TickPayload is the per-interval timer update.
type TickPayload struct {
	State            string    `json:"state"`
	RemainingSeconds int64     `json:"remaining_seconds,omitempty"`
	ElapsedSeconds   int64     `json:"elapsed_seconds,omitempty"`
	ServerTS         time.Time `json:"server_ts"`
}

// ErrorPayload carries a machine-readable code and a human-readable message.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
