// Package auth is the dashboard's authentication façade over the API client:
// login, registration, session validation and logout.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sluggisty/dashboard/internal/cache"
	"github.com/sluggisty/dashboard/internal/client"
	"github.com/sluggisty/dashboard/internal/domain/entities"
	"github.com/sluggisty/dashboard/internal/pkg/validate"
)

// ErrNoTokenManager is returned when the client was built without a TokenManager
var ErrNoTokenManager = errors.New("client has no token manager")

// Service performs authentication calls and keeps the TokenManager in step
type Service struct {
	client *client.Client
	tokens *client.TokenManager
	events *client.Events
	cache  *cache.Scope
	log    *slog.Logger
}

// Option configures a Service
type Option func(*Service)

// WithEvents sets where logout events are emitted
func WithEvents(e *client.Events) Option {
	return func(s *Service) { s.events = e }
}

// WithCache sets the query cache purged on logout
func WithCache(c *cache.Scope) Option {
	return func(s *Service) { s.cache = c }
}

// WithLogger sets the service logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService creates a Service over c
func NewService(c *client.Client, opts ...Option) *Service {
	s := &Service{
		client: c,
		tokens: c.Tokens(),
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "auth")
	return s
}

// Tokens returns the underlying TokenManager
func (s *Service) Tokens() *client.TokenManager {
	return s.tokens
}

// Login exchanges credentials for a token pair and starts a session
func (s *Service) Login(ctx context.Context, username, password string) (*entities.AuthResponse, error) {
	req := entities.LoginRequest{Username: username, Password: password}
	if fields := validate.Struct(req); fields != nil {
		return nil, client.NewValidationError("Username and password are required", fields)
	}
	return s.authenticate(ctx, "/auth/login", req)
}

// Register creates an account. Input is validated locally first; invalid
// input returns a validation error without calling the API.
func (s *Service) Register(ctx context.Context, req entities.RegisterRequest) (*entities.AuthResponse, error) {
	if fields := validate.Struct(req); fields != nil {
		return nil, client.NewValidationError("Please correct the highlighted fields", fields)
	}
	return s.authenticate(ctx, "/auth/register", req)
}

func (s *Service) authenticate(ctx context.Context, endpoint string, body any) (*entities.AuthResponse, error) {
	if s.tokens == nil {
		return nil, ErrNoTokenManager
	}

	var resp entities.AuthResponse
	err := s.client.Do(ctx, endpoint, client.RequestOptions{
		Method:   http.MethodPost,
		Body:     body,
		SkipAuth: true,
	}, &resp)
	if err != nil {
		return nil, err
	}

	// a fresh login always starts a fresh session
	if err := s.tokens.ClearTokens(ctx); err != nil {
		s.log.Warn("failed to clear previous session", "error", err)
	}
	if err := s.tokens.SetTokenInfo(ctx, resp.TokenInfo); err != nil {
		return nil, err
	}
	if resp.User != nil {
		if err := s.tokens.SetUser(ctx, resp.User.ID, resp.User.Username); err != nil {
			s.log.Warn("failed to record session user", "error", err)
		}
		s.log.Info("logged in", "username", resp.User.Username)
	}
	s.fetchCSRF(ctx)
	return &resp, nil
}

// fetchCSRF stores the session CSRF token. Failure is not fatal.
func (s *Service) fetchCSRF(ctx context.Context) {
	resp, err := client.Fetch[entities.CSRFResponse](ctx, s.client, "/auth/csrf-token", client.RequestOptions{SkipRetry: true})
	if err != nil {
		s.log.Warn("failed to fetch CSRF token", "error", err)
		return
	}
	if err := s.tokens.SetCSRFToken(ctx, resp.CSRFToken); err != nil {
		s.log.Warn("failed to store CSRF token", "error", err)
	}
}

// GetMe returns the logged in user
func (s *Service) GetMe(ctx context.Context) (*entities.User, error) {
	u, err := client.Fetch[entities.User](ctx, s.client, "/auth/me", client.RequestOptions{})
	if err != nil {
		return nil, err
	}
	if s.tokens != nil {
		if err := s.tokens.SetUser(ctx, u.ID, u.Username); err != nil {
			s.log.Warn("failed to record session user", "error", err)
		}
	}
	return &u, nil
}

// Logout ends the session locally: tokens and session keys are wiped, cached
// queries dropped and a logout event emitted. The API has no logout call.
func (s *Service) Logout(ctx context.Context) error {
	var err error
	if s.tokens != nil {
		err = s.tokens.ClearTokens(ctx)
	}
	if n := s.cache.Purge(); n > 0 {
		s.log.Debug("purged cached queries", "count", n)
	}
	s.events.Emit(client.Event{
		Type:     client.EventLogout,
		Reason:   "logout",
		Redirect: "/login",
		Time:     time.Now(),
	})
	return err
}

// ValidateSession refreshes the token if needed and confirms it with the
// API. Any failure logs the user out and returns false.
func (s *Service) ValidateSession(ctx context.Context) bool {
	if s.tokens == nil {
		return false
	}
	if _, err := s.tokens.RefreshTokenIfNeeded(ctx); err != nil {
		s.log.Info("session refresh failed", "error", err)
		_ = s.Logout(ctx)
		return false
	}
	if !s.IsAuthenticated(ctx) {
		return false
	}
	if _, err := s.GetMe(ctx); err != nil {
		s.log.Info("session validation failed", "error", err)
		_ = s.Logout(ctx)
		return false
	}
	return true
}

// IsAuthenticated returns true if an unexpired token is stored
func (s *Service) IsAuthenticated(ctx context.Context) bool {
	return s.GetAPIKey(ctx) != ""
}

// GetAPIKey returns the current token, or ""
func (s *Service) GetAPIKey(ctx context.Context) string {
	if s.tokens == nil {
		return ""
	}
	return s.tokens.GetAPIKey(ctx)
}

// ShouldRefresh reports whether the token is inside its refresh window
func (s *Service) ShouldRefresh() bool {
	return s.tokens != nil && s.tokens.ShouldRefresh()
}

// TimeUntilRefresh returns how long until the token should be refreshed
func (s *Service) TimeUntilRefresh() time.Duration {
	if s.tokens == nil {
		return -1
	}
	return s.tokens.TimeUntilRefresh()
}

// CurrentClaims returns the claims of the stored token if it is a JWT
func (s *Service) CurrentClaims() (*Claims, error) {
	if s.tokens == nil {
		return nil, ErrNoTokenManager
	}
	info, ok := s.tokens.TokenInfo()
	if !ok {
		return nil, client.ErrNoToken
	}
	return ParseClaims(info.Token)
}
