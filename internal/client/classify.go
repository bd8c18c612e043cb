package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultRateLimitWindow is used for 429 responses without Retry-After
const DefaultRateLimitWindow = 60 * time.Second

// errorFromResponse maps a non-2xx response onto the error taxonomy
func errorFromResponse(status int, header http.Header, body []byte, now time.Time) *APIError {
	message, details := parseErrorBody(status, body)

	e := &APIError{
		Message:   message,
		Status:    status,
		Details:   details,
		Timestamp: now,
	}

	switch {
	case status == http.StatusUnauthorized:
		e.Kind, e.Code = KindAuthentication, CodeUnauthorized
	case status == http.StatusForbidden:
		e.Kind, e.Code = KindAuthorization, CodeForbidden
	case status == http.StatusNotFound:
		e.Kind, e.Code = KindClient, CodeNotFound
	case status == http.StatusRequestTimeout:
		e.Kind, e.Code, e.Retryable = KindTimeout, CodeTimeout, true
	case status == http.StatusUnprocessableEntity:
		e.Kind, e.Code = KindValidation, CodeValidation
		e.FieldErrors = fieldErrors(body)
	case status == http.StatusTooManyRequests:
		e.Kind, e.Code, e.Retryable = KindRateLimit, CodeRateLimited, true
		wait, ok := parseRetryAfter(header.Get("Retry-After"), now)
		if !ok {
			wait = DefaultRateLimitWindow
		}
		e.ResetTime = now.Add(wait)
	case status >= 500:
		e.Kind, e.Code = KindServer, CodeServer
	default:
		e.Kind, e.Code = KindClient, CodeClient
	}

	if code := gjson.GetBytes(body, "code"); code.Type == gjson.String && code.Str != "" {
		e.Code = code.Str
	}
	return e
}

// parseErrorBody extracts {error, details} from a JSON error envelope, falling
// back to the status text
func parseErrorBody(status int, body []byte) (string, map[string]any) {
	fallback := fmt.Sprintf("HTTP %d: %s", status, http.StatusText(status))
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return fallback, nil
	}

	message := gjson.GetBytes(body, "error").String()
	if message == "" {
		message = gjson.GetBytes(body, "message").String()
	}
	if message == "" {
		message = fallback
	}

	var details map[string]any
	if d := gjson.GetBytes(body, "details"); d.IsObject() {
		if err := json.Unmarshal([]byte(d.Raw), &details); err != nil {
			details = nil
		}
	}
	return message, details
}

// fieldErrors reads per-field messages from details. Values may be a string or
// a list of strings.
func fieldErrors(body []byte) map[string]string {
	details := gjson.GetBytes(body, "details")
	if fields := details.Get("fields"); fields.IsObject() {
		details = fields
	}
	if !details.IsObject() {
		return nil
	}

	out := make(map[string]string)
	details.ForEach(func(key, value gjson.Result) bool {
		switch {
		case value.IsArray():
			var msgs []string
			for _, v := range value.Array() {
				msgs = append(msgs, v.String())
			}
			out[key.String()] = strings.Join(msgs, "; ")
		case value.Type == gjson.String:
			out[key.String()] = value.Str
		}
		return true
	})
	if len(out) == 0 {
		return nil
	}
	return out
}

// parseRetryAfter accepts delta-seconds or an HTTP date
func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// transportError classifies a failure to obtain a response. parent is the
// caller's context and attempt the per-attempt timeout context.
func transportError(parent, attempt context.Context, err error, now time.Time) *APIError {
	e := &APIError{Timestamp: now, cause: err}

	switch {
	case errors.Is(parent.Err(), context.Canceled):
		e.Kind, e.Code, e.Message = KindNetwork, CodeCanceled, "request canceled"
	case errors.Is(parent.Err(), context.DeadlineExceeded):
		e.Kind, e.Code, e.Message = KindTimeout, CodeTimeout, "request deadline exceeded"
	case errors.Is(attempt.Err(), context.DeadlineExceeded) || isTimeout(err):
		e.Kind, e.Code, e.Retryable = KindTimeout, CodeTimeout, true
		e.Message = "request timed out"
	default:
		e.Kind, e.Code, e.Retryable = KindNetwork, CodeNetwork, true
		e.Message = "network error: " + err.Error()
	}
	return e
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// localRateLimitError is returned when the client-side limiter rejects a call
func localRateLimitError(reset, now time.Time) *APIError {
	return &APIError{
		Kind:      KindRateLimit,
		Code:      CodeRateLimited,
		Message:   "client rate limit exceeded",
		ResetTime: reset,
		Details:   map[string]any{"source": "client"},
		Timestamp: now,
	}
}
