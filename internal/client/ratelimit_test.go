package client

import (
	"testing"
	"time"
)

func TestRateLimiterWindow(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	rl := NewRateLimiter(3, time.Minute)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !rl.CheckLimit() {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.CheckLimit() {
		t.Fatal("request over capacity should be rejected")
	}
	if got := rl.State().Requests; got != 3 {
		t.Errorf("requests = %d, want 3", got)
	}

	now = base.Add(30 * time.Second)
	if rl.CheckLimit() {
		t.Fatal("still inside the window")
	}
	if got := rl.TimeUntilReset(); got != 30*time.Second {
		t.Errorf("TimeUntilReset = %v, want 30s", got)
	}

	now = base.Add(time.Minute)
	if !rl.CheckLimit() {
		t.Fatal("a new window should allow requests")
	}
	if got := rl.State(); got.Requests != 1 || !got.ResetTime.Equal(now.Add(time.Minute)) {
		t.Errorf("state after reset = %+v", got)
	}
}

func TestRateLimiterReset(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	if !rl.CheckLimit() {
		t.Fatal("first request allowed")
	}
	if rl.CheckLimit() {
		t.Fatal("second request rejected")
	}
	rl.Reset()
	if !rl.CheckLimit() {
		t.Fatal("reset should open a new window")
	}
}
