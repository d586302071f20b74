package realtime

import (
	"sync"
	"time"
)

// RateLimiter is a per-connection sliding-window limiter over client events.
type RateLimiter struct {
	mu     sync.Mutex
	times  []time.Time
	limit  int
	window time.Duration
}

// NewRateLimiter constructs a RateLimiter, falling back to package defaults
// when inputs are invalid.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		times:  make([]time.Time, 0, limit),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event at time "now" should be permitted.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Events arrive in order, so expired entries sit at the front.
	cut := now.Add(-r.window)
	drop := 0
	for drop < len(r.times) && !r.times[drop].After(cut) {
		drop++
	}
	if drop > 0 {
		r.times = append(r.times[:0], r.times[drop:]...)
	}

	if len(r.times) >= r.limit {
		return false
	}
	r.times = append(r.times, now)
	return true
}
