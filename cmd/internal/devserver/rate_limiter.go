package devserver

import (
	"sync"
	"time"
)

// RateLimiter is a keyed sliding-window limiter.
type RateLimiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	limit  int
	window time.Duration
}

// NewRateLimiter constructs a RateLimiter with safe defaults when inputs are invalid.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		events: make(map[string][]time.Time),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event for key at time now should be permitted.
// Denied events are not recorded.
func (r *RateLimiter) Allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev := r.pruneLocked(key, now)
	if len(ev) >= r.limit {
		return false
	}
	r.events[key] = append(ev, now)
	return true
}

// RetryAfter returns how long until key may act again. Zero means now.
func (r *RateLimiter) RetryAfter(key string, now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev := r.pruneLocked(key, now)
	if len(ev) < r.limit {
		return 0
	}
	return ev[0].Add(r.window).Sub(now)
}

// Forget drops the history of key.
func (r *RateLimiter) Forget(key string) {
	r.mu.Lock()
	delete(r.events, key)
	r.mu.Unlock()
}

func (r *RateLimiter) pruneLocked(key string, now time.Time) []time.Time {
	cut := now.Add(-r.window)
	ev := r.events[key]
	dst := ev[:0]
	for _, t := range ev {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	if len(dst) == 0 {
		delete(r.events, key)
		return nil
	}
	r.events[key] = dst
	return dst
}
