// Package boundary contains page failures. A Boundary turns handler errors
// and panics into a fallback page with a bounded "try again" link.
package boundary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sluggisty/dashboard/internal/client"
	"github.com/sluggisty/dashboard/internal/pkg/metrics"
)

// DefaultMaxRetries is how many times a failed page offers to try again
const DefaultMaxRetries = 3

// RetryParam is the query parameter counting retries of a failed page
const RetryParam = "retry"

// Messages shown on the fallback page
const (
	MessageRetry    = "Something went wrong while loading this page."
	MessageTerminal = "This page keeps failing. Please try again later."
)

// ErrorContext describes a caught failure
type ErrorContext struct {
	Component string    `json:"component"`
	Path      string    `json:"path"`
	ErrorID   string    `json:"error_id"`
	Retries   int       `json:"retries"`
	Timestamp time.Time `json:"timestamp"`

	Status   int    `json:"status"`
	Message  string `json:"message"`
	CanRetry bool   `json:"can_retry"`
	RetryURL string `json:"retry_url,omitempty"`
	Err      error  `json:"-"`
}

// PanicError is returned by Guard when the function panicked
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Guard runs fn and converts a panic into a *PanicError
func Guard(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			if p == http.ErrAbortHandler {
				panic(p)
			}
			err = &PanicError{Value: p, Stack: debug.Stack()}
		}
	}()
	return fn()
}

// HandlerFunc is an http handler that reports failure by returning an error
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Renderer writes the fallback page
type Renderer func(w http.ResponseWriter, r *http.Request, ec ErrorContext)

// Interceptor may take over an error before the fallback is rendered, for
// example to redirect to the login page. It returns true if it responded.
type Interceptor func(w http.ResponseWriter, r *http.Request, err error) bool

// Boundary wraps handlers of one component
type Boundary struct {
	component  string
	maxRetries int
	render     Renderer
	intercept  Interceptor
	reporter   client.ErrorReporter
	log        *slog.Logger
	now        func() time.Time
}

// Option configures a Boundary
type Option func(*Boundary)

// WithMaxRetries sets how many retries the fallback offers
func WithMaxRetries(n int) Option {
	return func(b *Boundary) { b.maxRetries = n }
}

// WithRenderer sets the fallback page renderer
func WithRenderer(r Renderer) Option {
	return func(b *Boundary) { b.render = r }
}

// WithInterceptor sets a hook that may handle errors itself
func WithInterceptor(i Interceptor) Option {
	return func(b *Boundary) { b.intercept = i }
}

// WithReporter sends caught failures to the error log. API errors are
// skipped since the client already reported them.
func WithReporter(r client.ErrorReporter) Option {
	return func(b *Boundary) { b.reporter = r }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(b *Boundary) { b.log = l }
}

// New creates a Boundary for component
func New(component string, opts ...Option) *Boundary {
	b := &Boundary{
		component:  component,
		maxRetries: DefaultMaxRetries,
		render:     PlainRenderer,
		log:        slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With(slog.String("component", "boundary"), slog.String("boundary", component))
	return b
}

// For returns a boundary for another component sharing this one's settings
func (b *Boundary) For(component string) *Boundary {
	cp := *b
	cp.component = component
	cp.log = b.log.With(slog.String("boundary", component))
	return &cp
}

// Wrap adapts h to http.Handler, catching its errors and panics
func (b *Boundary) Wrap(h HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := Guard(func() error { return h(w, r) })
		if err != nil {
			b.Handle(w, r, err)
		}
	})
}

// Middleware catches panics from plain handlers
func (b *Boundary) Middleware(next http.Handler) http.Handler {
	return b.Wrap(func(w http.ResponseWriter, r *http.Request) error {
		next.ServeHTTP(w, r)
		return nil
	})
}

// Handle responds to a failed request
func (b *Boundary) Handle(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		// the browser went away
		return
	}
	if b.intercept != nil && b.intercept(w, r, err) {
		return
	}

	ec := b.contextFor(r, err)
	metrics.BoundaryRecoveries.WithLabelValues(b.component).Inc()

	attrs := []any{
		slog.String("error_id", ec.ErrorID),
		slog.String("path", ec.Path),
		slog.Int("retries", ec.Retries),
		slog.Int("status", ec.Status),
		slog.Any("error", err),
	}
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		attrs = append(attrs, slog.String("stack", string(panicErr.Stack)))
	}
	b.log.Error("page failed", attrs...)

	if _, isAPI := client.AsAPIError(err); !isAPI && b.reporter != nil {
		b.reporter.Report(r.Context(), fmt.Errorf("%s %s [%s]: %w", b.component, ec.Path, ec.ErrorID, err))
	}

	b.render(w, r, ec)
}

func (b *Boundary) contextFor(r *http.Request, err error) ErrorContext {
	retries, _ := strconv.Atoi(r.URL.Query().Get(RetryParam))
	if retries < 0 {
		retries = 0
	}
	ec := ErrorContext{
		Component: b.component,
		Path:      r.URL.Path,
		ErrorID:   uuid.NewString(),
		Retries:   retries,
		Timestamp: b.now().UTC(),
		Status:    http.StatusInternalServerError,
		Message:   MessageRetry,
		Err:       err,
	}

	retryable := r.Method == http.MethodGet
	if apiErr, ok := client.AsAPIError(err); ok {
		ec.Message = apiErr.UserMessage()
		if apiErr.Status == http.StatusNotFound && apiErr.Message != "" {
			ec.Message = apiErr.Message
		}
		if apiErr.Status >= 400 && apiErr.Status < 500 {
			ec.Status = apiErr.Status
			retryable = retryable && apiErr.Kind == client.KindRateLimit
		} else {
			ec.Status = http.StatusBadGateway
		}
	}

	switch {
	case !retryable:
	case retries < b.maxRetries:
		ec.CanRetry = true
		ec.RetryURL = retryURL(r, retries+1)
	default:
		ec.Message = MessageTerminal
	}
	return ec
}

// retryURL is the current GET url with the retry counter set to n
func retryURL(r *http.Request, n int) string {
	u := url.URL{Path: r.URL.Path}
	q := r.URL.Query()
	q.Set(RetryParam, strconv.Itoa(n))
	u.RawQuery = q.Encode()
	return u.String()
}

// PlainRenderer writes the fallback as text/plain
func PlainRenderer(w http.ResponseWriter, _ *http.Request, ec ErrorContext) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(ec.Status)
	fmt.Fprintf(w, "%s\nError ID: %s\n", ec.Message, ec.ErrorID)
	if ec.CanRetry {
		fmt.Fprintf(w, "Try again: %s\n", ec.RetryURL)
	}
}
