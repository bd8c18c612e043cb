package entities

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTokenInfoExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	info := TokenInfo{Token: "abc", ExpiresAt: now.Add(10 * time.Minute)}

	if info.IsExpired(now) {
		t.Error("token should not be expired yet")
	}
	if !info.IsExpired(now.Add(10 * time.Minute)) {
		t.Error("token should be expired exactly at expires_at")
	}
	if info.ExpiresWithin(now, 5*time.Minute) {
		t.Error("token is outside the 5m buffer")
	}
	if !info.ExpiresWithin(now.Add(6*time.Minute), 5*time.Minute) {
		t.Error("token is inside the 5m buffer")
	}

	var zero TokenInfo
	if zero.IsExpired(now) || zero.ExpiresWithin(now, time.Hour) {
		t.Error("token without expiry never expires")
	}
}

func TestRoleValid(t *testing.T) {
	for _, r := range Roles() {
		if !r.Valid() {
			t.Errorf("role %q should be valid", r)
		}
	}
	if Role("root").Valid() {
		t.Error("unknown role accepted")
	}
}

func TestReportCategoriesSorted(t *testing.T) {
	var r Report
	body := `{"meta":{"host_id":"h1","hostname":"web-1","timestamp":"2026-01-01T00:00:00Z"},
		"data":{"system":{"os":"linux"},"network":{},"disk":[]},
		"errors":[{"collector":"gpu","message":"no device"}]}`
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got := r.Categories()
	want := []string{"disk", "network", "system"}
	if len(got) != len(want) {
		t.Fatalf("categories = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("categories[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if r.Errors[0].Collector != "gpu" {
		t.Errorf("errors not decoded: %+v", r.Errors)
	}
}

func TestAPIKeyExpiry(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	k := APIKey{ExpiresAt: &past}
	if !k.IsExpired(now) {
		t.Error("key should be expired")
	}
	k.ExpiresAt = nil
	if k.IsExpired(now) {
		t.Error("key without expiry never expires")
	}
}
