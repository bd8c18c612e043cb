package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API client metrics
var (
	// APIRequests tracks outgoing REST calls by route and status class
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluggisty_api_requests_total",
			Help: "Total API requests by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)

	// APIRequestDuration tracks per-attempt latency of REST calls
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "sluggisty_api_request_duration_ms",
			Help:                            "API request duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"method", "route"},
	)

	// APIErrors tracks API failures by error category
	APIErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluggisty_api_errors_total",
			Help: "Total API errors by route and error type",
		},
		[]string{"route", "error_type"},
	)

	// APIRetries counts retry attempts (not counting the first attempt)
	APIRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluggisty_api_retries_total",
			Help: "Total API retry attempts by route and reason",
		},
		[]string{"route", "reason"},
	)

	// RateLimited counts requests rejected locally by the client rate limiter
	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sluggisty_client_rate_limited_total",
			Help: "Requests rejected by the client-side rate limiter",
		},
	)
)

// Session and token metrics
var (
	// TokenRefreshes counts refresh attempts by result
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluggisty_token_refreshes_total",
			Help: "Token refresh attempts by result (success, error, shared)",
		},
		[]string{"result"},
	)

	// SessionTimeouts counts forced logouts by reason
	SessionTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluggisty_session_timeouts_total",
			Help: "Sessions ended by the session monitor, by reason",
		},
		[]string{"reason"},
	)

	// ReportedErrors counts errors passed to the error reporter
	ReportedErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluggisty_reported_errors_total",
			Help: "Errors recorded by the error reporter, by kind",
		},
		[]string{"kind"},
	)
)

// Cache metrics
var (
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluggisty_query_cache_hits_total",
			Help: "Query cache hits by resource",
		},
		[]string{"resource"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluggisty_query_cache_misses_total",
			Help: "Query cache misses by resource",
		},
		[]string{"resource"},
	)
)

// Store metrics
var (
	// StoreOperations tracks key/value store operations
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluggisty_store_operations_total",
			Help: "Total store operations by backend, operation, and status",
		},
		[]string{"backend", "operation", "status"},
	)

	StoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "sluggisty_store_operation_duration_ms",
			Help:                            "Store operation duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"backend", "operation"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluggisty_store_errors_total",
			Help: "Total store errors by backend, operation, and error type",
		},
		[]string{"backend", "operation", "error_type"},
	)
)

// Web dashboard metrics
var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluggisty_web_requests_total",
			Help: "Dashboard HTTP requests by method, route, and status code",
		},
		[]string{"method", "route", "code"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "sluggisty_web_request_duration_ms",
			Help:                            "Dashboard HTTP request duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"method", "route"},
	)

	// BoundaryRecoveries counts page failures caught by the error boundary
	BoundaryRecoveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluggisty_web_boundary_recoveries_total",
			Help: "Errors caught by the page error boundary, by component",
		},
		[]string{"component"},
	)
)
