package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/sluggisty/dashboard/internal/domain/entities"
	"github.com/sluggisty/dashboard/internal/infrastructure/store"
	"github.com/sluggisty/dashboard/internal/pkg/metrics"
	"github.com/sluggisty/dashboard/internal/pkg/obfuscate"
)

// Store keys for persisted client state
const (
	KeyTokenInfo   = "sluggisty_token_info"
	KeyAuthSession = "sluggisty_auth_session"
	KeySessionID   = "sluggisty_session_id"
	KeyCSRFToken   = "sluggisty_csrf_token"
	KeyErrorLog    = "sluggisty_error_log"
)

var (
	ErrNoToken        = errors.New("no token available")
	ErrTokenExpired   = errors.New("token expired")
	ErrInvalidToken   = errors.New("invalid token info")
	ErrSessionIdle    = errors.New("session idle timeout")
	ErrSessionExpired = errors.New("session max age exceeded")
	ErrNoRefresher    = errors.New("no token refresher configured")
)

const refreshTimeout = 30 * time.Second

// TokenState is the lifecycle state of the stored token
type TokenState string

const (
	StateNoToken      TokenState = "no_token"
	StateValid        TokenState = "valid"
	StateExpiringSoon TokenState = "expiring_soon"
	StateExpired      TokenState = "expired"
)

// Refresher exchanges a refresh token for a new token pair
type Refresher func(ctx context.Context, refreshToken string) (*entities.TokenInfo, error)

// TokenManagerConfig configures a TokenManager. Zero durations use defaults.
type TokenManagerConfig struct {
	RefreshBuffer   time.Duration
	IdleTimeout     time.Duration
	MaxSessionAge   time.Duration
	CheckInterval   time.Duration
	ScheduleRefresh bool
	Codec           obfuscate.Codec
	Events          *Events
	Logger          *slog.Logger

	// Group lets several managers for the same session share in-flight
	// refreshes. FlightKey identifies the session within the group.
	Group     *singleflight.Group
	FlightKey string
}

// TokenManager owns the token pair and session metadata for one login
type TokenManager struct {
	cfg   TokenManagerConfig
	store store.Store
	group *singleflight.Group
	log   *slog.Logger
	now   func() time.Time

	mu           sync.Mutex
	info         *entities.TokenInfo
	session      *entities.AuthSession
	refresher    Refresher
	refreshing   bool
	refreshTimer *time.Timer

	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
}

// NewTokenManager creates a manager persisting into st. Call Load to pick up
// previously persisted state.
func NewTokenManager(st store.Store, cfg TokenManagerConfig) *TokenManager {
	if cfg.RefreshBuffer <= 0 {
		cfg.RefreshBuffer = 5 * time.Minute
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.MaxSessionAge <= 0 {
		cfg.MaxSessionAge = 8 * time.Hour
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.Codec == nil {
		cfg.Codec = obfuscate.NewXOR("sluggisty")
	}
	if cfg.FlightKey == "" {
		cfg.FlightKey = "refresh"
	}
	group := cfg.Group
	if group == nil {
		group = &singleflight.Group{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &TokenManager{
		cfg:   cfg,
		store: st,
		group: group,
		log:   log.With("component", "token_manager"),
		now:   time.Now,
	}
}

// SetRefresher installs the function used to refresh tokens
func (m *TokenManager) SetRefresher(r Refresher) {
	m.mu.Lock()
	m.refresher = r
	m.mu.Unlock()
}

// HasRefresher reports whether a refresher is installed
func (m *TokenManager) HasRefresher() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refresher != nil
}

// Load reads persisted token and session state. Undecodable values are
// discarded.
func (m *TokenManager) Load(ctx context.Context) error {
	var info entities.TokenInfo
	found, err := m.readJSON(ctx, KeyTokenInfo, &info)
	if err != nil {
		return err
	}
	var session entities.AuthSession
	hasSession, err := m.readJSON(ctx, KeyAuthSession, &session)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if found && info.Token != "" {
		m.info = &info
		m.scheduleRefreshLocked()
	}
	if hasSession {
		m.session = &session
	}
	return nil
}

func (m *TokenManager) readJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, err := m.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	plain, err := m.cfg.Codec.Decode(raw)
	if err == nil {
		err = json.Unmarshal([]byte(plain), v)
	}
	if err != nil {
		m.log.Warn("discarding unreadable persisted state", "key", key, "error", err)
		_ = m.store.Remove(ctx, key)
		return false, nil
	}
	return true, nil
}

func (m *TokenManager) writeJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	enc, err := m.cfg.Codec.Encode(string(data))
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := m.store.Set(ctx, key, enc); err != nil {
		return fmt.Errorf("failed to persist %s: %w", key, err)
	}
	return nil
}

// SetTokenInfo stores a new token pair, starts a session if none is active,
// and schedules the next refresh. A missing expiry is read from the JWT exp
// claim when the token is a JWT.
func (m *TokenManager) SetTokenInfo(ctx context.Context, info entities.TokenInfo) error {
	if info.Token == "" {
		return ErrInvalidToken
	}
	now := m.now()
	if info.ExpiresAt.IsZero() {
		if exp, ok := jwtExpiry(info.Token); ok {
			info.ExpiresAt = exp
		}
	}
	if info.IssuedAt.IsZero() {
		info.IssuedAt = now
	}

	if err := m.writeJSON(ctx, KeyTokenInfo, info); err != nil {
		return err
	}

	m.mu.Lock()
	m.info = &info
	session := m.session
	if session == nil {
		session = &entities.AuthSession{
			StartedAt:    now,
			LastActivity: now,
			ExpiresAt:    now.Add(m.cfg.MaxSessionAge),
		}
		m.session = session
	}
	m.scheduleRefreshLocked()
	snapshot := *session
	m.mu.Unlock()

	if snapshot.SessionID == "" {
		snapshot.SessionID = m.SessionID(ctx)
		m.mu.Lock()
		if m.session != nil {
			m.session.SessionID = snapshot.SessionID
		}
		m.mu.Unlock()
	}
	return m.writeJSON(ctx, KeyAuthSession, snapshot)
}

// jwtExpiry reads the exp claim without verifying the signature
func jwtExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// TokenInfo returns a copy of the current token pair
func (m *TokenManager) TokenInfo() (entities.TokenInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.info == nil {
		return entities.TokenInfo{}, false
	}
	return *m.info, true
}

// State reports where the token is in its lifecycle
func (m *TokenManager) State() TokenState {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	switch {
	case m.info == nil:
		return StateNoToken
	case m.info.IsExpired(now):
		return StateExpired
	case m.info.ExpiresWithin(now, m.cfg.RefreshBuffer):
		return StateExpiringSoon
	default:
		return StateValid
	}
}

// ShouldRefresh reports whether the token is inside the refresh buffer
func (m *TokenManager) ShouldRefresh() bool {
	s := m.State()
	return s == StateExpiringSoon || s == StateExpired
}

// TimeUntilRefresh returns how long until the token enters the refresh
// buffer, or 0 if it already has. It is -1 when there is no token expiry.
func (m *TokenManager) TimeUntilRefresh() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.info == nil || m.info.ExpiresAt.IsZero() {
		return -1
	}
	return max(m.info.ExpiresAt.Add(-m.cfg.RefreshBuffer).Sub(m.now()), 0)
}

// IsRefreshing reports whether this manager is running a refresh call
func (m *TokenManager) IsRefreshing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshing
}

// GetAPIKey returns the token if it has not expired. An expired token is
// cleared and "" returned.
func (m *TokenManager) GetAPIKey(ctx context.Context) string {
	m.mu.Lock()
	info := m.info
	expired := info != nil && info.IsExpired(m.now())
	m.mu.Unlock()

	if info == nil {
		return ""
	}
	if expired {
		m.log.Info("stored token expired, clearing")
		if err := m.ClearTokens(ctx); err != nil {
			m.log.Warn("failed to clear expired token", "error", err)
		}
		return ""
	}
	return info.Token
}

// ValidToken refreshes the token if needed and returns it. It returns ""
// with a nil error when no token is stored.
func (m *TokenManager) ValidToken(ctx context.Context) (string, error) {
	if _, err := m.RefreshTokenIfNeeded(ctx); err != nil {
		return "", err
	}
	return m.GetAPIKey(ctx), nil
}

// RefreshTokenIfNeeded refreshes the token when it is within the refresh
// buffer. Concurrent callers share a single refresh call. On refresh failure
// all tokens are cleared.
func (m *TokenManager) RefreshTokenIfNeeded(ctx context.Context) (*entities.TokenInfo, error) {
	m.mu.Lock()
	info := m.info
	needs := info != nil && info.ExpiresWithin(m.now(), m.cfg.RefreshBuffer)
	m.mu.Unlock()

	if info == nil {
		return nil, nil
	}
	if !needs {
		cp := *info
		return &cp, nil
	}

	// the flight outlives any single caller; each caller still stops waiting
	// when its own ctx is done
	ch := m.group.DoChan(m.cfg.FlightKey, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return m.refresh(flightCtx)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	shared := res.Shared
	if shared {
		metrics.TokenRefreshes.WithLabelValues("shared").Inc()
	}
	if err := res.Err; err != nil {
		if shared && !errors.Is(err, context.Canceled) {
			// the manager that ran the refresh cleared its own copy
			_ = m.ClearTokens(ctx)
		}
		return nil, err
	}

	fresh := res.Val.(*entities.TokenInfo)
	if shared {
		if err := m.adopt(ctx, fresh); err != nil {
			return nil, err
		}
	}
	cp := *fresh
	return &cp, nil
}

// adopt stores a token produced by another manager's refresh
func (m *TokenManager) adopt(ctx context.Context, fresh *entities.TokenInfo) error {
	m.mu.Lock()
	same := m.info != nil && m.info.Token == fresh.Token
	m.mu.Unlock()
	if same {
		return nil
	}
	return m.SetTokenInfo(ctx, *fresh)
}

func (m *TokenManager) refresh(ctx context.Context) (*entities.TokenInfo, error) {
	m.mu.Lock()
	info := m.info
	now := m.now()
	if info == nil {
		m.mu.Unlock()
		return nil, ErrNoToken
	}
	// another flight may have refreshed while this caller waited
	if !info.ExpiresWithin(now, m.cfg.RefreshBuffer) {
		cp := *info
		m.mu.Unlock()
		return &cp, nil
	}
	refresher := m.refresher
	if info.RefreshToken == "" || refresher == nil {
		cp := *info
		expired := info.IsExpired(now)
		m.mu.Unlock()
		if !expired {
			return &cp, nil
		}
		_ = m.ClearTokens(ctx)
		if refresher == nil {
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, ErrNoRefresher)
		}
		return nil, ErrTokenExpired
	}
	m.refreshing = true
	refreshToken := info.RefreshToken
	m.mu.Unlock()

	m.log.Debug("refreshing access token")
	fresh, err := refresher(ctx, refreshToken)

	m.mu.Lock()
	m.refreshing = false
	m.mu.Unlock()

	if err == nil && (fresh == nil || fresh.Token == "") {
		err = ErrInvalidToken
	}
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		if errors.Is(err, context.Canceled) {
			m.log.Debug("token refresh canceled", "error", err)
			return nil, fmt.Errorf("token refresh failed: %w", err)
		}
		m.log.Warn("token refresh failed, clearing session", "error", err)
		if clearErr := m.ClearTokens(ctx); clearErr != nil {
			m.log.Warn("failed to clear tokens", "error", clearErr)
		}
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}

	if fresh.RefreshToken == "" {
		fresh.RefreshToken = refreshToken
	}
	if err := m.SetTokenInfo(ctx, *fresh); err != nil {
		return nil, err
	}
	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	m.cfg.Events.Emit(Event{Type: EventTokenRefreshed})

	stored, _ := m.TokenInfo()
	return &stored, nil
}

// scheduleRefreshLocked arms a timer for expires_at - buffer. m.mu must be held.
func (m *TokenManager) scheduleRefreshLocked() {
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
	if !m.cfg.ScheduleRefresh || m.info == nil || m.info.ExpiresAt.IsZero() || m.info.RefreshToken == "" {
		return
	}
	delay := max(m.info.ExpiresAt.Add(-m.cfg.RefreshBuffer).Sub(m.now()), 0)
	m.refreshTimer = time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		if _, err := m.RefreshTokenIfNeeded(ctx); err != nil {
			m.log.Warn("scheduled token refresh failed", "error", err)
		}
	})
}

// ClearTokens stops timers and wipes in-memory and persisted session state
func (m *TokenManager) ClearTokens(ctx context.Context) error {
	m.mu.Lock()
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
	m.info = nil
	m.session = nil
	m.mu.Unlock()

	var errs []error
	for _, key := range []string{KeyTokenInfo, KeyAuthSession, KeySessionID, KeyCSRFToken} {
		if err := m.store.Remove(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SessionID returns the correlation id for the current session, creating
// one on first use
func (m *TokenManager) SessionID(ctx context.Context) string {
	id, err := m.store.Get(ctx, KeySessionID)
	if err == nil && id != "" {
		return id
	}
	id = uuid.NewString()
	if err := m.store.Set(ctx, KeySessionID, id); err != nil {
		m.log.Warn("failed to persist session id", "error", err)
	}
	return id
}

// SetCSRFToken stores the session-scoped CSRF token
func (m *TokenManager) SetCSRFToken(ctx context.Context, token string) error {
	if token == "" {
		return m.store.Remove(ctx, KeyCSRFToken)
	}
	return m.store.Set(ctx, KeyCSRFToken, token)
}

// CSRFToken returns the stored CSRF token, or ""
func (m *TokenManager) CSRFToken(ctx context.Context) string {
	v, err := m.store.Get(ctx, KeyCSRFToken)
	if err != nil {
		return ""
	}
	return v
}
