package client

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sluggisty/dashboard/internal/pkg/metrics"
)

// metricsTransport wraps an http.RoundTripper to collect metrics on API calls
type metricsTransport struct {
	base     http.RoundTripper
	basePath string
}

// NewMetricsTransport returns a transport that records request counts,
// latency and error classes per normalized route. basePath is stripped
// from routes, e.g. "/api/v1".
func NewMetricsTransport(base http.RoundTripper, basePath string) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &metricsTransport{base: base, basePath: strings.TrimSuffix(basePath, "/")}
}

// RoundTrip implements http.RoundTripper
func (t *metricsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)

	route := normalizeRoute(strings.TrimPrefix(req.URL.Path, t.basePath))
	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	}

	metrics.APIRequests.WithLabelValues(req.Method, route, strconv.Itoa(statusCode)).Inc()
	metrics.APIRequestDuration.WithLabelValues(req.Method, route).Observe(float64(duration.Milliseconds()))

	if err != nil || statusCode >= 400 {
		metrics.APIErrors.WithLabelValues(route, classifyStatus(statusCode, err)).Inc()
	}
	return resp, err
}

var routePatterns = []struct {
	regex   *regexp.Regexp
	replace string
}{
	{regexp.MustCompile(`^/hosts/[^/]+`), "/hosts/:id"},
	{regexp.MustCompile(`^/users/[^/]+`), "/users/:id"},
	{regexp.MustCompile(`^/api-keys/[^/]+`), "/api-keys/:id"},
}

// normalizeRoute replaces resource ids with placeholders to bound label cardinality
func normalizeRoute(path string) string {
	if path == "" {
		return "/"
	}
	for _, p := range routePatterns {
		path = p.regex.ReplaceAllString(path, p.replace)
	}
	return path
}

// classifyStatus categorizes API errors for metrics
func classifyStatus(statusCode int, err error) string {
	if err != nil {
		errStr := strings.ToLower(err.Error())
		switch {
		case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
			return "timeout"
		case strings.Contains(errStr, "canceled"):
			return "canceled"
		case strings.Contains(errStr, "connection"):
			return "connection"
		case strings.Contains(errStr, "tls"):
			return "tls"
		default:
			return "network"
		}
	}

	switch {
	case statusCode == 400:
		return "bad_request"
	case statusCode == 401:
		return "unauthorized"
	case statusCode == 403:
		return "forbidden"
	case statusCode == 404:
		return "not_found"
	case statusCode == 408:
		return "timeout"
	case statusCode == 422:
		return "validation"
	case statusCode == 429:
		return "rate_limited"
	case statusCode >= 500:
		return "server_error"
	case statusCode >= 400:
		return "client_error"
	default:
		return "unknown"
	}
}
