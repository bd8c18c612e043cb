package metrics

import (
	"errors"
	"strings"
	"time"
)

// RecordStoreOperation records store operation metrics consistently
// backend: store backend name (e.g., "memory", "file", "redis", "postgres")
// operation: operation name ("get", "set", "remove", "clear")
// duration: time taken for the operation
// err: error from the operation (nil if successful); notFound errors count as success
func RecordStoreOperation(backend, operation string, duration time.Duration, err error, notFound error) {
	StoreDuration.WithLabelValues(backend, operation).Observe(float64(duration.Milliseconds()))

	status := "success"
	if err != nil && (notFound == nil || !errors.Is(err, notFound)) {
		status = "error"
		StoreErrors.WithLabelValues(backend, operation, classifyStoreError(err)).Inc()
	}
	StoreOperations.WithLabelValues(backend, operation, status).Inc()
}

// classifyStoreError categorizes store errors for metrics
func classifyStoreError(err error) string {
	if err == nil {
		return "none"
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return "timeout"
	case strings.Contains(errStr, "connection") || strings.Contains(errStr, "connect"):
		return "connection"
	case strings.Contains(errStr, "permission") || strings.Contains(errStr, "denied"):
		return "permission"
	case strings.Contains(errStr, "quota") || strings.Contains(errStr, "too large") || strings.Contains(errStr, "no space"):
		return "quota"
	case strings.Contains(errStr, "syntax") || strings.Contains(errStr, "invalid"):
		return "invalid"
	default:
		return "other"
	}
}
