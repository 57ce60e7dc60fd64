package http

import (
	"sync"
	"time"
)

// rateLimiter allows limit events per window. A zero limit disables it.
type rateLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	counter int
	started time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{limit: limit, window: window}
}

func (r *rateLimiter) allow(now time.Time) bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if now.Sub(r.started) >= r.window {
		r.started = now
		r.counter = 0
	}
	r.counter++
	return r.counter <= r.limit
}
