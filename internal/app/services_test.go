package app

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sluggisty/dashboard/internal/client"
	"github.com/sluggisty/dashboard/internal/config"
	"github.com/sluggisty/dashboard/internal/domain/entities"
	"github.com/sluggisty/dashboard/internal/fakeapi"
	"github.com/sluggisty/dashboard/internal/pkg/obfuscate"
)

func newFake(t *testing.T) (*fakeapi.Server, string) {
	t.Helper()
	fake := fakeapi.New()
	fake.AddUser("testuser", "testpass", entities.RoleAdmin)
	srv := httptest.NewServer(fake.Handler())
	t.Cleanup(srv.Close)
	return fake, srv.URL + fakeapi.BasePath
}

func testConfig(apiURL string) *config.ClientConfig {
	cfg := config.Defaults()
	cfg.APIURL = apiURL
	cfg.Environment = config.EnvDevelopment
	cfg.Session.ScheduleRefresh = false
	return &cfg
}

func newServices(t *testing.T, cfg *config.ClientConfig) *Services {
	t.Helper()
	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDefaultSessionEndToEnd(t *testing.T) {
	fake, apiURL := newFake(t)
	s := newServices(t, testConfig(apiURL))
	ctx := context.Background()

	sess, err := s.Default(ctx)
	require.NoError(t, err)
	same, err := s.Default(ctx)
	require.NoError(t, err)
	assert.Same(t, sess, same)

	_, err = sess.Auth.Login(ctx, "testuser", "testpass")
	require.NoError(t, err)

	list, err := sess.API.Hosts.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, list.Total)
	assert.Equal(t, 1, fake.Calls("GET", "/hosts"))
}

func TestSessionsSharePersistedTokens(t *testing.T) {
	_, apiURL := newFake(t)
	s := newServices(t, testConfig(apiURL))
	ctx := context.Background()

	first, err := s.NewSession(ctx, s.Store, "abc")
	require.NoError(t, err)
	_, err = first.Auth.Login(ctx, "testuser", "testpass")
	require.NoError(t, err)

	second, err := s.NewSession(ctx, s.Store, "abc")
	require.NoError(t, err)
	assert.True(t, second.Auth.IsAuthenticated(ctx))
	assert.Equal(t, first.Auth.GetAPIKey(ctx), second.Auth.GetAPIKey(ctx))

	raw, err := s.Store.Get(ctx, client.KeyTokenInfo)
	require.NoError(t, err)
	assert.NotContains(t, raw, first.Auth.GetAPIKey(ctx), "tokens must not be stored in the clear")
}

func TestFailuresAreReported(t *testing.T) {
	_, apiURL := newFake(t)
	s := newServices(t, testConfig(apiURL))
	ctx := context.Background()

	sess, err := s.Default(ctx)
	require.NoError(t, err)
	_, err = sess.Auth.Login(ctx, "testuser", "testpass")
	require.NoError(t, err)

	_, err = sess.API.Hosts.Get(ctx, "missing")
	require.Error(t, err)

	entries, err := s.Reporter.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, client.CodeNotFound, entries[0].Code)
}

func TestSecretBoxWhenKeyConfigured(t *testing.T) {
	_, apiURL := newFake(t)
	cfg := testConfig(apiURL)
	cfg.Storage.Key = "0123456789abcdef0123"
	s := newServices(t, cfg)

	_, ok := s.Codec.(*obfuscate.SecretBox)
	assert.True(t, ok)
}

func TestFileBackendPersists(t *testing.T) {
	_, apiURL := newFake(t)
	cfg := testConfig(apiURL)
	cfg.Storage.Backend = "file"
	cfg.Storage.FilePath = filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	s1, err := New(ctx, cfg)
	require.NoError(t, err)
	sess, err := s1.Default(ctx)
	require.NoError(t, err)
	_, err = sess.Auth.Login(ctx, "testuser", "testpass")
	require.NoError(t, err)
	token := sess.Auth.GetAPIKey(ctx)
	require.NoError(t, s1.Close())

	s2 := newServices(t, cfg)
	sess2, err := s2.Default(ctx)
	require.NoError(t, err)
	assert.Equal(t, token, sess2.Auth.GetAPIKey(ctx))

	_, shared := s2.SessionStore("x")
	assert.False(t, shared)
}

func TestRedisBackendNamespacesSessions(t *testing.T) {
	_, apiURL := newFake(t)
	mr := miniredis.RunT(t)
	cfg := testConfig(apiURL)
	cfg.Storage.Backend = "redis"
	cfg.Storage.Redis.Addr = mr.Addr()
	s := newServices(t, cfg)
	ctx := context.Background()

	a, ok := s.SessionStore("a")
	require.True(t, ok)
	b, ok := s.SessionStore("b")
	require.True(t, ok)

	require.NoError(t, a.Set(ctx, "k", "1"))
	_, err := b.Get(ctx, "k")
	assert.Error(t, err)
	assert.True(t, mr.Exists("sluggisty:a:k"))
}

func TestUnsupportedBackend(t *testing.T) {
	cfg := testConfig("http://localhost:1/api/v1")
	cfg.Storage.Backend = "etcd"
	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, "unsupported storage backend")
}

func TestRetryPolicyFromConfig(t *testing.T) {
	cfg := testConfig("http://localhost:1/api/v1")
	p := retryPolicy(cfg)
	assert.Equal(t, 1, p.MaxRetries)
	assert.False(t, p.ExponentialBackoff)

	cfg.Environment = config.EnvProduction
	n := 5
	cfg.Retry.MaxRetries = &n
	p = retryPolicy(cfg)
	assert.Equal(t, 5, p.MaxRetries)
	assert.True(t, p.ExponentialBackoff)
}

func TestLimiterPerSession(t *testing.T) {
	s := newServices(t, testConfig("http://localhost:1/api/v1"))
	assert.Same(t, s.limiter("a"), s.limiter("a"))
	assert.NotSame(t, s.limiter("a"), s.limiter("b"))
}
