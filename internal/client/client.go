// Package client is the REST client for the Sluggisty API: request
// orchestration with retries, token lifecycle, rate limiting and error
// classification.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sluggisty/dashboard/internal/domain/entities"
	"github.com/sluggisty/dashboard/internal/pkg/idgen"
)

// Request headers set by the client
const (
	HeaderAPIKey    = "X-API-Key"
	HeaderCSRFToken = "X-CSRF-Token"
	HeaderRequestID = "X-Request-ID"
)

// DefaultBaseURL is used when no base URL is configured
const DefaultBaseURL = "http://localhost:8080/api/v1"

const maxResponseBytes = 10 << 20

// RequestOptions configures a single call
type RequestOptions struct {
	Method  string
	Body    any // marshalled as JSON unless []byte
	Headers map[string]string
	Timeout time.Duration
	// SkipRetry disables retries for this call
	SkipRetry bool
	// SkipAuth sends no token and suppresses the 401 logout handling
	SkipAuth bool
	Retry    *RetryConfig
}

// CSRFSource supplies the CSRF token attached to requests
type CSRFSource interface {
	CSRFToken(ctx context.Context) string
}

// Client sends requests to the API
type Client struct {
	baseURL      string
	httpClient   *http.Client
	tokens       *TokenManager
	limiter      *RateLimiter
	interceptors *InterceptorManager
	reporter     ErrorReporter
	events       *Events
	csrf         CSRFSource
	retry        RetryPolicy
	timeout      time.Duration
	userAgent    string
	log          *slog.Logger

	now    func() time.Time
	jitter func() float64
	sleep  func(ctx context.Context, d time.Duration) error
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTokenManager enables authentication through tm
func WithTokenManager(tm *TokenManager) Option {
	return func(c *Client) { c.tokens = tm }
}

// WithRateLimiter guards outbound calls with rl
func WithRateLimiter(rl *RateLimiter) Option {
	return func(c *Client) { c.limiter = rl }
}

// WithInterceptors installs request/response hooks
func WithInterceptors(im *InterceptorManager) Option {
	return func(c *Client) { c.interceptors = im }
}

// WithReporter sets the hook every final failure is sent to
func WithReporter(r ErrorReporter) Option {
	return func(c *Client) { c.reporter = r }
}

// WithEvents sets where unauthorized events are emitted
func WithEvents(e *Events) Option {
	return func(c *Client) { c.events = e }
}

// WithCSRF overrides where the CSRF token is read from
func WithCSRF(s CSRFSource) Option {
	return func(c *Client) { c.csrf = s }
}

// WithRetryPolicy sets the default retry policy
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithTimeout sets the default per-attempt timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithLogger sets the client logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a client for baseURL. When a TokenManager is supplied without a
// refresher, the client installs one that calls POST /auth/refresh.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		retry:     DefaultRetryPolicy(false),
		timeout:   30 * time.Second,
		userAgent: "sluggisty-client",
		log:       slog.Default(),
		now:       time.Now,
		jitter:    rand.Float64,
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		basePath := ""
		if u, err := url.Parse(c.baseURL); err == nil {
			basePath = u.Path
		}
		c.httpClient = &http.Client{Transport: NewMetricsTransport(http.DefaultTransport, basePath)}
	}
	if c.csrf == nil && c.tokens != nil {
		c.csrf = c.tokens
	}
	if c.tokens != nil && !c.tokens.HasRefresher() {
		c.tokens.SetRefresher(c.refreshTokens)
	}
	c.log = c.log.With("component", "api_client")
	return c
}

// BaseURL returns the configured base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Tokens returns the token manager, which may be nil
func (c *Client) Tokens() *TokenManager {
	return c.tokens
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// resolveURL joins relative endpoints to the base URL
func (c *Client) resolveURL(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return c.baseURL + endpoint
}

// Fetch performs a request and decodes the response into a T
func Fetch[T any](ctx context.Context, c *Client, endpoint string, opts RequestOptions) (T, error) {
	var out T
	err := c.Do(ctx, endpoint, opts, &out)
	return out, err
}

// Do performs a request with retries and decodes a JSON response into out.
// out may be nil. Every returned error is an *APIError.
func (c *Client) Do(ctx context.Context, endpoint string, opts RequestOptions, out any) error {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	target := c.resolveURL(endpoint)

	body, err := encodeBody(opts.Body)
	if err != nil {
		apiErr := &APIError{
			Kind:      KindClient,
			Code:      CodeInvalidRequest,
			Message:   "failed to encode request body: " + err.Error(),
			Timestamp: c.now(),
			Context:   ErrorContext{URL: target, Method: method},
			cause:     err,
		}
		c.report(ctx, apiErr)
		return apiErr
	}

	policy := c.retry.Merge(opts.Retry)
	maxAttempts := 1 + policy.MaxRetries
	if opts.SkipRetry {
		maxAttempts = 1
	}

	var lastErr *APIError
	for attempt := 1; ; attempt++ {
		lastErr = c.attempt(ctx, method, target, body, opts, out, attempt)
		if lastErr == nil {
			return nil
		}
		lastErr.Retryable = policy.retryable(lastErr)
		if attempt >= maxAttempts || !lastErr.Retryable || ctx.Err() != nil {
			break
		}

		delay := policy.Delay(attempt, c.jitter())
		if lastErr.Kind == KindRateLimit && !lastErr.ResetTime.IsZero() {
			if wait := lastErr.ResetTime.Sub(c.now()); wait > delay {
				delay = min(wait, MaxRetryDelay)
			}
		}
		c.log.Debug("retrying request",
			slog.String("method", method),
			slog.String("url", target),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("reason", string(lastErr.Kind)),
		)
		if err := c.sleep(ctx, delay); err != nil {
			lastErr = transportError(ctx, ctx, err, c.now())
			lastErr.Context = ErrorContext{URL: target, Method: method, Attempt: attempt}
			break
		}
	}

	c.report(ctx, lastErr)
	return lastErr
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return json.Marshal(b)
	}
}

// attempt performs one HTTP exchange
func (c *Client) attempt(ctx context.Context, method, target string, body []byte, opts RequestOptions, out any, attempt int) *APIError {
	start := c.now()
	ectx := ErrorContext{
		URL:       target,
		Method:    method,
		RequestID: idgen.RequestID(),
		Attempt:   attempt,
	}
	if c.tokens != nil {
		if s, ok := c.tokens.Session(); ok {
			ectx.UserID, ectx.SessionID = s.UserID, s.SessionID
		}
	}
	fail := func(e *APIError) *APIError {
		ectx.Duration = c.now().Sub(start)
		e.Context = ectx
		return e
	}

	if c.limiter != nil && !c.limiter.CheckLimit() {
		return fail(localRateLimitError(c.limiter.State().ResetTime, start))
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, target, reader)
	if err != nil {
		return fail(&APIError{Kind: KindClient, Code: CodeInvalidRequest, Message: err.Error(), Timestamp: start, cause: err})
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(HeaderRequestID, ectx.RequestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	if !opts.SkipAuth && c.tokens != nil {
		token, err := c.tokens.ValidToken(ctx)
		if err != nil && ctx.Err() != nil {
			// the caller went away; the session itself is still good
			return fail(&APIError{
				Kind:      KindNetwork,
				Code:      CodeCanceled,
				Message:   "request canceled",
				Timestamp: c.now(),
				cause:     err,
			})
		}
		if err != nil {
			c.handleUnauthorized(ctx, "refresh_failed")
			return fail(&APIError{
				Kind:      KindAuthentication,
				Code:      CodeRefreshFailed,
				Status:    http.StatusUnauthorized,
				Message:   err.Error(),
				Timestamp: c.now(),
				cause:     err,
			})
		}
		if token != "" {
			req.Header.Set(HeaderAPIKey, token)
		}
	}
	if c.csrf != nil {
		if csrf := c.csrf.CSRFToken(ctx); csrf != "" {
			req.Header.Set(HeaderCSRFToken, csrf)
		}
	}
	ectx.Headers = flattenHeaders(req.Header)

	if err := c.interceptors.runRequest(req); err != nil {
		return fail(&APIError{Kind: KindClient, Code: CodeInvalidRequest, Message: err.Error(), Timestamp: c.now(), cause: err})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fail(transportError(ctx, attemptCtx, err, c.now()))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fail(transportError(ctx, attemptCtx, err, c.now()))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := errorFromResponse(resp.StatusCode, resp.Header, data, c.now())
		if resp.StatusCode == http.StatusUnauthorized && !opts.SkipAuth {
			c.handleUnauthorized(ctx, "unauthorized")
		}
		return fail(apiErr)
	}

	if err := decodeBody(resp, data, out); err != nil {
		return fail(err)
	}
	if err := c.interceptors.runResponse(resp, data); err != nil {
		return fail(&APIError{Kind: KindClient, Code: CodeInvalidResponse, Status: resp.StatusCode, Message: err.Error(), Timestamp: c.now(), cause: err})
	}
	return nil
}

// decodeBody decodes a successful response by content type. Empty bodies
// leave out untouched; a JSON null is an error.
func decodeBody(resp *http.Response, data []byte, out any) *APIError {
	if resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(data)) == 0 || out == nil {
		return nil
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	isJSON := mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")

	if !isJSON {
		switch o := out.(type) {
		case *string:
			*o = string(data)
			return nil
		case *[]byte:
			*o = append((*o)[:0], data...)
			return nil
		}
	}

	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return &APIError{
			Kind:    KindClient,
			Code:    CodeEmptyResponse,
			Status:  resp.StatusCode,
			Message: "empty response from server",
		}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &APIError{
			Kind:    KindClient,
			Code:    CodeInvalidResponse,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("invalid response body: %v", err),
			cause:   err,
		}
	}
	return nil
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}

// handleUnauthorized clears credentials and asks the UI to go to /login
func (c *Client) handleUnauthorized(ctx context.Context, reason string) {
	if c.tokens != nil {
		if err := c.tokens.ClearTokens(ctx); err != nil {
			c.log.Warn("failed to clear tokens after 401", "error", err)
		}
	}
	c.events.Emit(Event{Type: EventUnauthorized, Reason: reason, Redirect: "/login"})
}

func (c *Client) report(ctx context.Context, err *APIError) {
	if c.reporter == nil || err == nil {
		return
	}
	if err.Timestamp.IsZero() {
		err.Timestamp = c.now()
	}
	c.reporter.Report(ctx, err)
}

// refreshTokens calls POST /auth/refresh
func (c *Client) refreshTokens(ctx context.Context, refreshToken string) (*entities.TokenInfo, error) {
	var resp entities.AuthResponse
	err := c.Do(ctx, "/auth/refresh", RequestOptions{
		Method:    http.MethodPost,
		Body:      entities.RefreshRequest{RefreshToken: refreshToken},
		SkipAuth:  true,
		SkipRetry: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.TokenInfo.Token == "" {
		return nil, errors.New("refresh response missing token")
	}
	return &resp.TokenInfo, nil
}
