package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultRetryPolicy(t *testing.T) {
	prod := DefaultRetryPolicy(false)
	assert.Equal(t, 3, prod.MaxRetries)
	assert.Equal(t, time.Second, prod.RetryDelay)
	assert.True(t, prod.ExponentialBackoff)
	assert.Equal(t, []int{408, 429, 500, 502, 503, 504}, prod.RetryableStatuses)

	dev := DefaultRetryPolicy(true)
	assert.Equal(t, 1, dev.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, dev.RetryDelay)
	assert.False(t, dev.ExponentialBackoff)
}

func TestRetryPolicyMerge(t *testing.T) {
	p := DefaultRetryPolicy(false).Merge(&RetryConfig{MaxRetries: Int(2)})
	assert.Equal(t, 2, p.MaxRetries)
	assert.Equal(t, time.Second, p.RetryDelay, "unset fields keep defaults")

	p = p.Merge(&RetryConfig{MaxRetries: Int(-4), RetryableStatuses: []int{418}, ExponentialBackoff: Bool(false)})
	assert.Equal(t, 0, p.MaxRetries)
	assert.Equal(t, []int{418}, p.RetryableStatuses)
	assert.False(t, p.ExponentialBackoff)

	assert.Equal(t, p, p.Merge(nil))
}

func TestRetryDelay(t *testing.T) {
	p := RetryPolicy{RetryDelay: time.Second, ExponentialBackoff: true}
	assert.Equal(t, time.Second, p.Delay(1, 0))
	assert.Equal(t, 2*time.Second, p.Delay(2, 0))
	assert.Equal(t, 4*time.Second+400*time.Millisecond, p.Delay(3, 1.0))
	assert.Equal(t, MaxRetryDelay, p.Delay(6, 0))
	assert.Equal(t, MaxRetryDelay, p.Delay(100, 0.5))

	var prev time.Duration
	for attempt := 1; attempt <= 40; attempt++ {
		for _, j := range []float64{0, 0.999} {
			d := p.Delay(attempt, j)
			assert.GreaterOrEqual(t, d, prev)
			assert.LessOrEqual(t, d, MaxRetryDelay)
		}
		prev = p.Delay(attempt, 0.999)
	}

	flat := RetryPolicy{RetryDelay: 500 * time.Millisecond}
	assert.Equal(t, 500*time.Millisecond, flat.Delay(5, 0.9))
}

func TestRetryableDecision(t *testing.T) {
	p := DefaultRetryPolicy(false)
	assert.True(t, p.retryable(&APIError{Kind: KindNetwork, Retryable: true}))
	assert.True(t, p.retryable(&APIError{Kind: KindServer, Status: 503}))
	assert.False(t, p.retryable(&APIError{Kind: KindServer, Status: 501}))
	assert.False(t, p.retryable(&APIError{Kind: KindClient, Status: 404}))
	assert.False(t, p.retryable(&APIError{Kind: KindRateLimit}), "local limiter rejections have no status")
}
