package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Kind classifies API failures
type Kind string

const (
	KindNetwork        Kind = "network"
	KindTimeout        Kind = "timeout"
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindRateLimit      Kind = "rate_limit"
	KindServer         Kind = "server"
	KindClient         Kind = "client"
)

// Machine-readable error codes
const (
	CodeNetwork         = "NETWORK_ERROR"
	CodeCanceled        = "REQUEST_CANCELED"
	CodeTimeout         = "TIMEOUT"
	CodeValidation      = "VALIDATION_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeRateLimited     = "RATE_LIMITED"
	CodeServer          = "SERVER_ERROR"
	CodeClient          = "CLIENT_ERROR"
	CodeEmptyResponse   = "EMPTY_RESPONSE"
	CodeInvalidResponse = "INVALID_RESPONSE"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeRefreshFailed   = "TOKEN_REFRESH_FAILED"
)

const redacted = "[REDACTED]"

// ErrorContext describes the request that produced an error
type ErrorContext struct {
	URL       string
	Method    string
	RequestID string
	Attempt   int
	Duration  time.Duration
	UserID    string
	SessionID string
	Headers   map[string]string
}

// APIError is returned for every failed API call
type APIError struct {
	Kind        Kind
	Message     string
	Status      int
	Code        string
	Retryable   bool
	Details     map[string]any
	FieldErrors map[string]string // validation only
	ResetTime   time.Time         // rate limit only
	Context     ErrorContext
	Timestamp   time.Time

	cause error
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.cause
}

// UserMessage returns a fixed message suitable for showing to end users
func (e *APIError) UserMessage() string {
	return e.userMessage(time.Now())
}

func (e *APIError) userMessage(now time.Time) string {
	switch e.Kind {
	case KindNetwork:
		return "Unable to connect to the server. Please check your connection and try again."
	case KindTimeout:
		return "The request timed out. Please try again."
	case KindValidation:
		return "Please check your input and try again."
	case KindAuthentication:
		return "Your session has expired. Please log in again."
	case KindAuthorization:
		return "You do not have permission to perform this action."
	case KindRateLimit:
		if e.ResetTime.IsZero() {
			return "Too many requests. Please wait a moment before trying again."
		}
		secs := int(math.Ceil(e.ResetTime.Sub(now).Seconds()))
		if secs < 1 {
			secs = 1
		}
		return fmt.Sprintf("Too many requests. Please wait %d seconds before trying again.", secs)
	case KindServer:
		return "The server encountered an error. Please try again later."
	}
	if e.Status == http.StatusNotFound {
		return "The requested resource was not found."
	}
	if e.Message != "" {
		return e.Message
	}
	return "Something went wrong. Please try again."
}

// NewValidationError builds a validation error for input rejected before
// it was sent
func NewValidationError(message string, fields map[string]string) *APIError {
	return &APIError{
		Kind:        KindValidation,
		Code:        CodeValidation,
		Status:      http.StatusUnprocessableEntity,
		Message:     message,
		FieldErrors: fields,
		Timestamp:   time.Now(),
	}
}

// FieldError returns the validation message for a field, or "" if none
func (e *APIError) FieldError(field string) string {
	return e.FieldErrors[field]
}

// Fields returns the names of fields with validation errors, sorted
func (e *APIError) Fields() []string {
	names := make([]string, 0, len(e.FieldErrors))
	for name := range e.FieldErrors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type errorJSON struct {
	Kind        Kind              `json:"kind"`
	Message     string            `json:"message"`
	Status      int               `json:"status,omitempty"`
	Code        string            `json:"code"`
	Retryable   bool              `json:"retryable"`
	Details     map[string]any    `json:"details,omitempty"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
	ResetTime   *time.Time        `json:"reset_time,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	Context     contextJSON       `json:"context"`
}

type contextJSON struct {
	URL        string            `json:"url,omitempty"`
	Method     string            `json:"method,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	Attempt    int               `json:"attempt,omitempty"`
	DurationMS int64             `json:"duration_ms"`
	UserID     string            `json:"user_id,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// MarshalJSON serializes the error with credentials redacted
func (e *APIError) MarshalJSON() ([]byte, error) {
	out := errorJSON{
		Kind:        e.Kind,
		Message:     e.Message,
		Status:      e.Status,
		Code:        e.Code,
		Retryable:   e.Retryable,
		Details:     RedactDetails(e.Details),
		FieldErrors: e.FieldErrors,
		Timestamp:   e.Timestamp,
		Context: contextJSON{
			URL:        e.Context.URL,
			Method:     e.Context.Method,
			RequestID:  e.Context.RequestID,
			Attempt:    e.Context.Attempt,
			DurationMS: e.Context.Duration.Milliseconds(),
			UserID:     e.Context.UserID,
			SessionID:  e.Context.SessionID,
			Headers:    RedactHeaders(e.Context.Headers),
		},
	}
	if !e.ResetTime.IsZero() {
		rt := e.ResetTime
		out.ResetTime = &rt
	}
	return json.Marshal(out)
}

// LogValue keeps credentials out of structured logs
func (e *APIError) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("kind", string(e.Kind)),
		slog.String("code", e.Code),
		slog.Int("status", e.Status),
		slog.String("message", e.Message),
		slog.Bool("retryable", e.Retryable),
		slog.String("method", e.Context.Method),
		slog.String("url", e.Context.URL),
		slog.String("request_id", e.Context.RequestID),
		slog.Int("attempt", e.Context.Attempt),
		slog.Int64("duration_ms", e.Context.Duration.Milliseconds()),
	)
}

var sensitiveHeaders = []string{"api-key", "authorization", "csrf", "cookie"}

var sensitiveDetails = []string{"password", "token", "secret", "api_key", "apikey"}

// RedactHeaders returns a copy of headers with credential values replaced
func RedactHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for name, value := range headers {
		if containsAny(strings.ToLower(name), sensitiveHeaders) {
			out[name] = redacted
			continue
		}
		out[name] = value
	}
	return out
}

// RedactDetails returns a copy of details with credential-like keys replaced
func RedactDetails(details map[string]any) map[string]any {
	if len(details) == 0 {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		if containsAny(strings.ToLower(k), sensitiveDetails) {
			out[k] = redacted
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = RedactDetails(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// AsAPIError unwraps err into an *APIError
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsKind reports whether err is an *APIError of the given kind
func IsKind(err error, kind Kind) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Kind == kind
}

// IsNotFound reports whether err is a 404 API error
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// StatusCode returns the HTTP status of an API error, or 0
func StatusCode(err error) int {
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr.Status
	}
	return 0
}

// UserMessage returns the user-facing message for any error
func UserMessage(err error) string {
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr.UserMessage()
	}
	if err == nil {
		return ""
	}
	return "Something went wrong. Please try again."
}
