package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sluggisty/dashboard/internal/auth"
	"github.com/sluggisty/dashboard/internal/cache"
	"github.com/sluggisty/dashboard/internal/client"
	"github.com/sluggisty/dashboard/internal/domain/entities"
	"github.com/sluggisty/dashboard/internal/fakeapi"
	"github.com/sluggisty/dashboard/internal/infrastructure/store"
)

type testEnv struct {
	api    *fakeapi.Server
	svc    *auth.Service
	tokens *client.TokenManager
	scope  *cache.Scope

	mu     sync.Mutex
	events []client.Event
}

func (e *testEnv) seen() []client.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]client.Event(nil), e.events...)
}

func newEnv(t *testing.T, setup func(*fakeapi.Server)) *testEnv {
	t.Helper()
	api := fakeapi.New()
	if setup != nil {
		setup(api)
	}
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	env := &testEnv{api: api}
	events := client.NewEvents()
	events.Subscribe(func(ev client.Event) {
		env.mu.Lock()
		env.events = append(env.events, ev)
		env.mu.Unlock()
	})

	qc, err := cache.New()
	require.NoError(t, err)
	t.Cleanup(qc.Close)
	env.scope = qc.Scope("test")

	env.tokens = client.NewTokenManager(store.NewMemory(), client.TokenManagerConfig{Events: events})
	t.Cleanup(env.tokens.Stop)
	c := client.New(srv.URL+fakeapi.BasePath,
		client.WithTokenManager(env.tokens),
		client.WithEvents(events),
		client.WithRetryPolicy(client.RetryPolicy{MaxRetries: 0}),
	)
	env.svc = auth.NewService(c, auth.WithEvents(events), auth.WithCache(env.scope))
	return env
}

func TestLoginStoresToken(t *testing.T) {
	env := newEnv(t, func(api *fakeapi.Server) {
		api.NewToken = func() string { return "abc" }
		api.AddUser("testuser", "testpass", entities.RoleAdmin)
	})
	ctx := context.Background()

	resp, err := env.svc.Login(ctx, "testuser", "testpass")
	require.NoError(t, err)
	require.NotNil(t, resp.User)
	assert.Equal(t, "testuser", resp.User.Username)

	assert.Equal(t, "abc", env.svc.GetAPIKey(ctx))
	assert.True(t, env.svc.IsAuthenticated(ctx))
	assert.Equal(t, env.api.CSRF(), env.tokens.CSRFToken(ctx))

	session, ok := env.tokens.Session()
	require.True(t, ok)
	assert.Equal(t, "testuser", session.Username)
	assert.NotEmpty(t, session.SessionID)
	assert.Equal(t, 1, env.api.Calls("GET", "/auth/csrf-token"))
}

func TestLoginInvalidCredentials(t *testing.T) {
	env := newEnv(t, func(api *fakeapi.Server) {
		api.AddUser("testuser", "testpass", entities.RoleAdmin)
	})
	ctx := context.Background()

	_, err := env.svc.Login(ctx, "testuser", "nope")
	require.Error(t, err)
	assert.True(t, client.IsKind(err, client.KindAuthentication))
	assert.False(t, env.svc.IsAuthenticated(ctx))
	assert.Empty(t, env.seen(), "a failed login must not trigger the unauthorized redirect")
}

func TestLoginRequiresCredentials(t *testing.T) {
	env := newEnv(t, nil)

	_, err := env.svc.Login(context.Background(), "", "")
	require.Error(t, err)
	assert.True(t, client.IsKind(err, client.KindValidation))
	assert.Equal(t, 0, env.api.Calls("POST", "/auth/login"))
}

func TestRegisterValidatesLocally(t *testing.T) {
	env := newEnv(t, nil)

	_, err := env.svc.Register(context.Background(), entities.RegisterRequest{
		Username: "newuser",
		Email:    "not-an-email",
		Password: "longpassword",
	})
	require.Error(t, err)
	apiErr, ok := client.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, client.KindValidation, apiErr.Kind)
	assert.NotEmpty(t, apiErr.FieldError("email"))
	assert.Empty(t, apiErr.FieldError("username"))
	assert.Equal(t, 0, env.api.Calls("POST", "/auth/register"))
}

func TestRegisterCreatesSession(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()

	resp, err := env.svc.Register(ctx, entities.RegisterRequest{
		Username: "newuser",
		Email:    "new@example.com",
		Password: "longpassword",
		OrgName:  "Acme",
	})
	require.NoError(t, err)
	assert.Equal(t, "newuser", resp.User.Username)
	assert.True(t, env.svc.IsAuthenticated(ctx))

	me, err := env.svc.GetMe(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", me.Email)
}

func TestRegisterConflict(t *testing.T) {
	env := newEnv(t, func(api *fakeapi.Server) {
		api.AddUser("taken", "password1", entities.RoleViewer)
	})
	_, err := env.svc.Register(context.Background(), entities.RegisterRequest{
		Username: "taken",
		Email:    "taken@example.com",
		Password: "longpassword",
	})
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, client.StatusCode(err))
	assert.Equal(t, "Username already taken", client.UserMessage(err))
}

func TestCSRFFailureIsNotFatal(t *testing.T) {
	env := newEnv(t, func(api *fakeapi.Server) {
		api.AddUser("testuser", "testpass", entities.RoleAdmin)
		api.Fail("GET", "/auth/csrf-token", http.StatusInternalServerError, 5)
	})
	ctx := context.Background()

	_, err := env.svc.Login(ctx, "testuser", "testpass")
	require.NoError(t, err)
	assert.True(t, env.svc.IsAuthenticated(ctx))
	assert.Empty(t, env.tokens.CSRFToken(ctx))
}

func TestLogoutClearsEverything(t *testing.T) {
	env := newEnv(t, func(api *fakeapi.Server) {
		api.AddUser("testuser", "testpass", entities.RoleAdmin)
	})
	ctx := context.Background()

	_, err := env.svc.Login(ctx, "testuser", "testpass")
	require.NoError(t, err)
	env.scope.Set("/hosts", "cached")

	require.NoError(t, env.svc.Logout(ctx))

	assert.False(t, env.svc.IsAuthenticated(ctx))
	assert.Empty(t, env.tokens.CSRFToken(ctx))
	_, ok := env.tokens.Session()
	assert.False(t, ok)
	_, ok = env.scope.Get("/hosts")
	assert.False(t, ok)

	events := env.seen()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, client.EventLogout, last.Type)
	assert.Equal(t, "/login", last.Redirect)
}

func TestValidateSessionRefreshes(t *testing.T) {
	env := newEnv(t, func(api *fakeapi.Server) {
		api.AddUser("testuser", "testpass", entities.RoleViewer)
	})
	ctx := context.Background()

	issued := env.api.IssueToken("testuser")
	issued.ExpiresAt = time.Now().Add(time.Minute)
	require.NoError(t, env.tokens.SetTokenInfo(ctx, issued))
	assert.True(t, env.svc.ShouldRefresh())

	assert.True(t, env.svc.ValidateSession(ctx))
	assert.Equal(t, 1, env.api.Calls("POST", "/auth/refresh"))
	assert.NotEqual(t, issued.Token, env.svc.GetAPIKey(ctx))
	assert.False(t, env.svc.ShouldRefresh())
	assert.Greater(t, env.svc.TimeUntilRefresh(), time.Duration(0))
}

func TestValidateSessionRevoked(t *testing.T) {
	env := newEnv(t, func(api *fakeapi.Server) {
		api.AddUser("testuser", "testpass", entities.RoleViewer)
	})
	ctx := context.Background()

	_, err := env.svc.Login(ctx, "testuser", "testpass")
	require.NoError(t, err)
	env.api.RevokeTokens()

	assert.False(t, env.svc.ValidateSession(ctx))
	assert.False(t, env.svc.IsAuthenticated(ctx))

	var types []client.EventType
	for _, ev := range env.seen() {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, client.EventUnauthorized)
}

func TestValidateSessionWithoutToken(t *testing.T) {
	env := newEnv(t, nil)
	assert.False(t, env.svc.ValidateSession(context.Background()))
	assert.Equal(t, 0, env.api.Calls("GET", "/auth/me"))
}

func TestCurrentClaims(t *testing.T) {
	env := newEnv(t, func(api *fakeapi.Server) {
		api.Signer = auth.NewJWTManager("secret", time.Hour)
		api.AddUser("testuser", "testpass", entities.RoleEditor)
	})
	ctx := context.Background()

	_, err := env.svc.CurrentClaims()
	require.ErrorIs(t, err, client.ErrNoToken)

	_, err = env.svc.Login(ctx, "testuser", "testpass")
	require.NoError(t, err)

	claims, err := env.svc.CurrentClaims()
	require.NoError(t, err)
	assert.Equal(t, "testuser", claims.Username)
	assert.Equal(t, entities.RoleEditor, claims.Role)

	info, ok := env.tokens.TokenInfo()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Hour), info.ExpiresAt, 5*time.Second)
}
