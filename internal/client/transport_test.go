package client

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sluggisty/dashboard/internal/pkg/metrics"
)

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/hosts", "/hosts"},
		{"/hosts/4f1c-22", "/hosts/:id"},
		{"/users/42/role", "/users/:id/role"},
		{"/api-keys/k_123", "/api-keys/:id"},
		{"/auth/login", "/auth/login"},
		{"", "/"},
	}
	for _, tt := range tests {
		if got := normalizeRoute(tt.path); got != tt.expected {
			t.Errorf("normalizeRoute(%q) = %q, want %q", tt.path, got, tt.expected)
		}
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		err    error
		want   string
	}{
		{0, errors.New("dial tcp: i/o timeout"), "timeout"},
		{0, errors.New("context canceled"), "canceled"},
		{0, errors.New("connection refused"), "connection"},
		{0, errors.New("boom"), "network"},
		{400, nil, "bad_request"},
		{401, nil, "unauthorized"},
		{404, nil, "not_found"},
		{422, nil, "validation"},
		{429, nil, "rate_limited"},
		{502, nil, "server_error"},
		{418, nil, "client_error"},
	}
	for _, tt := range tests {
		if got := classifyStatus(tt.status, tt.err); got != tt.want {
			t.Errorf("classifyStatus(%d, %v) = %q, want %q", tt.status, tt.err, got, tt.want)
		}
	}
}

func TestMetricsTransportRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	hc := &http.Client{Transport: NewMetricsTransport(nil, "/api/v1")}
	counter := metrics.APIRequests.WithLabelValues("GET", "/hosts/:id", "404")
	before := testutil.ToFloat64(counter)

	resp, err := hc.Get(srv.URL + "/api/v1/hosts/abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()

	if got := testutil.ToFloat64(counter); got != before+1 {
		t.Errorf("request counter = %v, want %v", got, before+1)
	}
}
