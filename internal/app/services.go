// Package app builds the dashboard's client stack from configuration and
// tears it down again. Both UIs go through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/sluggisty/dashboard/internal/api"
	"github.com/sluggisty/dashboard/internal/auth"
	"github.com/sluggisty/dashboard/internal/cache"
	"github.com/sluggisty/dashboard/internal/client"
	"github.com/sluggisty/dashboard/internal/config"
	"github.com/sluggisty/dashboard/internal/infrastructure/store"
	"github.com/sluggisty/dashboard/internal/pkg/obfuscate"
)

// DefaultSessionID names the session used by single-user consumers like the CLI
const DefaultSessionID = "default"

// Services holds the components shared by every session
type Services struct {
	Config       *config.ClientConfig
	Store        store.Store
	Codec        obfuscate.Codec
	Reporter     *client.Reporter
	Interceptors *client.InterceptorManager
	Cache        *cache.QueryCache

	httpClient *http.Client
	retry      client.RetryPolicy
	group      singleflight.Group
	backend    *backend
	log        *slog.Logger

	limitersMu sync.Mutex
	limiters   map[string]*client.RateLimiter

	defaultOnce sync.Once
	defaultSess *Session
	defaultErr  error
}

// Session is the per-login view of the services
type Session struct {
	ID     string
	Tokens *client.TokenManager
	Events *client.Events
	Client *client.Client
	Auth   *auth.Service
	API    *api.API
	Cache  *cache.Scope
}

type options struct {
	store      store.Store
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures New
type Option func(*options)

// WithStore replaces the configured storage backend
func WithStore(st store.Store) Option {
	return func(o *options) { o.store = st }
}

// WithHTTPClient replaces the instrumented default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithLogger sets the logger every component derives from
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New opens the storage backend and builds the shared components
func New(ctx context.Context, cfg *config.ClientConfig, opts ...Option) (*Services, error) {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	log := o.logger.With("component", "app")

	var secret []byte
	if cfg.Storage.Key != "" {
		secret = []byte(cfg.Storage.Key)
	}
	codec, err := obfuscate.New(cfg.AppName, secret)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage codec: %w", err)
	}

	var b *backend
	if o.store != nil {
		b = &backend{name: "custom", store: o.store, close: func() error { return nil }}
	} else {
		b, err = openBackend(ctx, cfg, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Backend, err)
		}
	}

	qc, err := cache.New(cache.WithMaxCost(cfg.Cache.MaxCost), cache.WithStaleTime(cfg.Cache.StaleTime))
	if err != nil {
		_ = b.close()
		return nil, err
	}

	hc := o.httpClient
	if hc == nil {
		basePath := ""
		if u, err := url.Parse(cfg.APIURL); err == nil {
			basePath = u.Path
		}
		hc = &http.Client{Transport: client.NewMetricsTransport(http.DefaultTransport, basePath)}
	}

	interceptors := client.NewInterceptorManager()
	if cfg.IsDevelopment() {
		interceptors.DebugLogging(o.logger)
	}

	s := &Services{
		Config:       cfg,
		Store:        b.store,
		Codec:        codec,
		Interceptors: interceptors,
		Cache:        qc,
		Reporter: client.NewReporter(client.ReporterConfig{
			Store:      b.store,
			MaxEntries: cfg.ErrorReporting.MaxEntries,
			Retention:  cfg.ErrorReporting.Retention,
			Endpoint:   cfg.ErrorReporting.Endpoint,
			Logger:     o.logger,
		}),
		httpClient: hc,
		retry:      retryPolicy(cfg),
		backend:    b,
		log:        log,
		limiters:   make(map[string]*client.RateLimiter),
	}
	log.Info("client services ready",
		"api_url", cfg.APIURL,
		"environment", cfg.Environment,
		"storage", b.name,
		"encrypted", cfg.Storage.Key != "")
	return s, nil
}

func retryPolicy(cfg *config.ClientConfig) client.RetryPolicy {
	return client.DefaultRetryPolicy(cfg.IsDevelopment()).Merge(&client.RetryConfig{
		MaxRetries:         cfg.Retry.MaxRetries,
		RetryDelay:         cfg.Retry.RetryDelay,
		RetryableStatuses:  cfg.Retry.RetryableStatuses,
		ExponentialBackoff: cfg.Retry.ExponentialBackoff,
	})
}

// SessionStore returns the store for session id on the configured backend.
// Backends that cannot be shared between sessions return false.
func (s *Services) SessionStore(id string) (store.Store, bool) {
	return s.backend.namespaced(id)
}

// limiter returns the rate limiter for a session. Limiters whose window has
// long passed are dropped so abandoned sessions do not accumulate.
func (s *Services) limiter(id string) *client.RateLimiter {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()

	if rl, ok := s.limiters[id]; ok {
		return rl
	}
	for key, rl := range s.limiters {
		if rl.TimeUntilReset() == 0 && rl.State().Requests > 0 {
			delete(s.limiters, key)
		}
	}
	rl := client.NewRateLimiter(s.Config.RateLimit.MaxRequests, s.Config.RateLimit.Window)
	s.limiters[id] = rl
	return rl
}

// NewSession builds the client stack for one session persisted in st and
// loads any previously stored tokens. Sessions created by the same Services
// share token refreshes by id.
func (s *Services) NewSession(ctx context.Context, st store.Store, id string) (*Session, error) {
	cfg := s.Config
	events := client.NewEvents()
	tokens := client.NewTokenManager(st, client.TokenManagerConfig{
		RefreshBuffer:   cfg.Session.RefreshBuffer,
		IdleTimeout:     cfg.Session.IdleTimeout,
		MaxSessionAge:   cfg.Session.MaxAge,
		CheckInterval:   cfg.Session.CheckInterval,
		ScheduleRefresh: cfg.Session.ScheduleRefresh,
		Codec:           s.Codec,
		Events:          events,
		Logger:          s.log,
		Group:           &s.group,
		FlightKey:       id,
	})
	if err := tokens.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load session state: %w", err)
	}

	c := client.New(cfg.APIURL,
		client.WithHTTPClient(s.httpClient),
		client.WithTokenManager(tokens),
		client.WithRateLimiter(s.limiter(id)),
		client.WithInterceptors(s.Interceptors),
		client.WithReporter(s.Reporter),
		client.WithEvents(events),
		client.WithRetryPolicy(s.retry),
		client.WithTimeout(cfg.RequestTimeout),
		client.WithUserAgent(cfg.AppName+"-dashboard"),
	)
	scope := s.Cache.Scope(id)
	return &Session{
		ID:     id,
		Tokens: tokens,
		Events: events,
		Client: c,
		Auth:   auth.NewService(c, auth.WithEvents(events), auth.WithCache(scope)),
		API:    api.New(c, scope),
		Cache:  scope,
	}, nil
}

// Default returns the session persisted in the main store
func (s *Services) Default(ctx context.Context) (*Session, error) {
	s.defaultOnce.Do(func() {
		s.defaultSess, s.defaultErr = s.NewSession(ctx, s.Store, DefaultSessionID)
	})
	return s.defaultSess, s.defaultErr
}

// Close stops background work and releases the storage backend
func (s *Services) Close() error {
	if s.defaultSess != nil {
		s.defaultSess.Tokens.Stop()
	}
	s.Cache.Close()
	var errs []error
	if err := s.backend.close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close %s storage: %w", s.backend.name, err))
	}
	s.log.Debug("client services closed")
	return errors.Join(errs...)
}
