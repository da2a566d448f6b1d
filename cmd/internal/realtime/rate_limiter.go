package realtime

import "time"

// RateLimiter admits at most limit events per sliding window. It keeps the
// timestamps of the last limit admitted events in a ring, so the oldest of
// them decides whether the next one fits. Not safe for concurrent use: each
// connection's read loop owns one.
type RateLimiter struct {
	stamps []time.Time
	next   int
	filled bool
	window time.Duration
}

// NewRateLimiter constructs a RateLimiter; non-positive inputs take the defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = defaultRateEvents
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	return &RateLimiter{stamps: make([]time.Time, limit), window: window}
}

// Allow reports whether an event at now fits in the window, and records it if so.
func (r *RateLimiter) Allow(now time.Time) bool {
	if r.filled && now.Sub(r.stamps[r.next]) < r.window {
		return false
	}
	r.stamps[r.next] = now
	r.next++
	if r.next == len(r.stamps) {
		r.next = 0
		r.filled = true
	}
	return true
}

// Limit is the number of events admitted per window.
func (r *RateLimiter) Limit() int { return len(r.stamps) }
