package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/sluggisty/dashboard/internal/auth"
	"github.com/sluggisty/dashboard/internal/pkg/idgen"
	"github.com/sluggisty/dashboard/internal/pkg/metrics"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// requestInfo is filled in by handlers further down the chain so the
// request log can name the user
type requestInfo struct {
	user *auth.UserContext
}

type requestInfoKey struct{}

// noteUser records the authenticated user for the request log
func noteUser(ctx context.Context, user *auth.UserContext) {
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		info.user = user
	}
}

// Logger logs each request and records it in the dashboard metrics
type Logger struct {
	log *slog.Logger
}

// NewLogger creates the request logging middleware
func NewLogger(logger *slog.Logger) *Logger {
	return &Logger{log: logger.With(slog.String("component", "http"))}
}

// LogRequest logs HTTP requests as structured records. It is installed with
// Router.Use so the matched route template is available.
func (l *Logger) LogRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip logging health checks and static files to reduce noise
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" || isStaticFile(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = idgen.RequestID()
		}
		w.Header().Set("X-Request-ID", requestID)

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK, // default if WriteHeader not called
		}

		info := &requestInfo{}
		next.ServeHTTP(wrapped, r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info)))

		duration := time.Since(start)
		route := routeName(r)
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(float64(duration.Milliseconds()))

		attrs := []any{
			slog.String("request_id", requestID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("route", route),
			slog.Int("status", wrapped.statusCode),
			slog.Int64("duration_ms", duration.Milliseconds()),
			slog.Int64("bytes", wrapped.written),
			slog.String("client_ip", clientIP(r)),
			slog.String("user_agent", r.UserAgent()),
		}
		if info.user != nil {
			attrs = append(attrs, slog.String("user_id", info.user.UserID), slog.String("username", info.user.Username))
		}

		switch {
		case wrapped.statusCode >= 500:
			l.log.Error("request", attrs...)
		case wrapped.statusCode >= 400:
			l.log.Warn("request", attrs...)
		default:
			l.log.Info("request", attrs...)
		}
	})
}

// routeName returns the mux path template so metrics do not carry ids
func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	if isStaticFile(r.URL.Path) {
		return "/static/"
	}
	return "other"
}

// clientIP considers X-Forwarded-For and X-Real-IP when behind a proxy
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}

// isStaticFile checks if the path is a static file request
func isStaticFile(path string) bool {
	return strings.HasPrefix(path, "/static/")
}
