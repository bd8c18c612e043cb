package client

import (
	"net/http"
	"slices"
	"time"
)

// MaxRetryDelay caps every computed retry delay
const MaxRetryDelay = 30 * time.Second

// DefaultRetryableStatuses are retried unless a request overrides them
var DefaultRetryableStatuses = []int{
	http.StatusRequestTimeout,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// RetryPolicy is a fully resolved retry configuration
type RetryPolicy struct {
	MaxRetries         int
	RetryDelay         time.Duration
	RetryableStatuses  []int
	ExponentialBackoff bool
}

// RetryConfig overrides parts of a RetryPolicy. Nil fields keep the policy value.
type RetryConfig struct {
	MaxRetries         *int
	RetryDelay         *time.Duration
	RetryableStatuses  []int
	ExponentialBackoff *bool
}

// DefaultRetryPolicy returns the policy for an environment. Development
// retries once with a flat delay.
func DefaultRetryPolicy(development bool) RetryPolicy {
	if development {
		return RetryPolicy{
			MaxRetries:         1,
			RetryDelay:         500 * time.Millisecond,
			RetryableStatuses:  DefaultRetryableStatuses,
			ExponentialBackoff: false,
		}
	}
	return RetryPolicy{
		MaxRetries:         3,
		RetryDelay:         time.Second,
		RetryableStatuses:  DefaultRetryableStatuses,
		ExponentialBackoff: true,
	}
}

// Merge applies non-nil overrides from c
func (p RetryPolicy) Merge(c *RetryConfig) RetryPolicy {
	if c == nil {
		return p
	}
	if c.MaxRetries != nil {
		p.MaxRetries = max(*c.MaxRetries, 0)
	}
	if c.RetryDelay != nil {
		p.RetryDelay = *c.RetryDelay
	}
	if c.RetryableStatuses != nil {
		p.RetryableStatuses = c.RetryableStatuses
	}
	if c.ExponentialBackoff != nil {
		p.ExponentialBackoff = *c.ExponentialBackoff
	}
	return p
}

// Delay returns the wait before the retry following attempt (1-based).
// jitter in [0, 1) adds up to 10% of the exponential term, which keeps
// successive delays non-decreasing.
func (p RetryPolicy) Delay(attempt int, jitter float64) time.Duration {
	if p.RetryDelay <= 0 {
		return 0
	}
	if !p.ExponentialBackoff {
		return min(p.RetryDelay, MaxRetryDelay)
	}
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 30 || p.RetryDelay > MaxRetryDelay>>shift {
		return MaxRetryDelay
	}
	base := p.RetryDelay << shift
	d := base + time.Duration(float64(base)*0.1*jitter)
	return min(d, MaxRetryDelay)
}

// retryable reports whether the policy allows retrying err
func (p RetryPolicy) retryable(err *APIError) bool {
	if err.Retryable {
		return true
	}
	return err.Status != 0 && slices.Contains(p.RetryableStatuses, err.Status)
}

// Int returns a pointer to n, for RetryConfig literals
func Int(n int) *int { return &n }

// Bool returns a pointer to b, for RetryConfig literals
func Bool(b bool) *bool { return &b }

// Duration returns a pointer to d, for RetryConfig literals
func Duration(d time.Duration) *time.Duration { return &d }
