package realtime

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewSessionID returns a ULID used as the websocket session id handed back
// in hello_ack. ULIDs sort by time, which keeps gateway logs scannable.
func NewSessionID(now time.Time) string {
	return newULID(now)
}

// NewEnvelopeID returns a ULID used as the id of server-sent envelopes.
func NewEnvelopeID(now time.Time) string {
	return newULID(now)
}

func newULID(now time.Time) string {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		// Entropy failure is effectively unreachable; fall back to random hex
		// so callers never see an empty id.
		return NewRandomHex(13)
	}
	return id.String()
}
