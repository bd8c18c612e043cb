package client

import (
	"sync"
	"time"
)

// RateLimitState is a snapshot of the limiter window
type RateLimitState struct {
	Requests  int
	ResetTime time.Time
}

// RateLimiter is a fixed window request counter. Rejected callers get an
// immediate false; nothing is queued.
type RateLimiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	state       RateLimitState
	now         func() time.Time
}

// NewRateLimiter allows maxRequests per window
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
	}
}

// CheckLimit counts one request and reports whether it is allowed
func (r *RateLimiter) CheckLimit() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if !now.Before(r.state.ResetTime) {
		r.state = RateLimitState{ResetTime: now.Add(r.window)}
	}
	if r.state.Requests >= r.maxRequests {
		return false
	}
	r.state.Requests++
	return true
}

// State returns a copy of the current window
func (r *RateLimiter) State() RateLimitState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// TimeUntilReset returns how long until the current window ends
func (r *RateLimiter) TimeUntilReset() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.state.ResetTime.Sub(r.now())
	if d < 0 {
		return 0
	}
	return d
}

// Reset starts a fresh window on the next check
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	r.state = RateLimitState{}
	r.mu.Unlock()
}
