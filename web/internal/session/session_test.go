package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sluggisty/dashboard/internal/app"
	"github.com/sluggisty/dashboard/internal/client"
	"github.com/sluggisty/dashboard/internal/config"
	"github.com/sluggisty/dashboard/internal/domain/entities"
	"github.com/sluggisty/dashboard/internal/fakeapi"
	"github.com/sluggisty/dashboard/internal/infrastructure/store"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

// nextRequest carries the latest session cookie from rec into a new request
func nextRequest(t *testing.T, rec *httptest.ResponseRecorder) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	var last *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionName {
			last = c
		}
	}
	require.NotNil(t, last, "response set no session cookie")
	req.AddCookie(last)
	return req
}

func TestCookieStoreRoundTrip(t *testing.T) {
	m := NewManager(testSecret, false, time.Hour)
	ctx := context.Background()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	cs := NewCookieStore(m, req, rec)

	_, err := cs.Get(ctx, "k")
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, cs.Set(ctx, "k", "v"))
	require.NoError(t, cs.Set(ctx, "other", "x"))
	require.NoError(t, cs.Remove(ctx, "other"))

	rec2 := httptest.NewRecorder()
	cs2 := NewCookieStore(m, nextRequest(t, rec), rec2)
	v, err := cs2.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	_, err = cs2.Get(ctx, "other")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCookieStoreClearKeepsSessionID(t *testing.T) {
	m := NewManager(testSecret, false, time.Hour)
	ctx := context.Background()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	id, created := m.ID(req)
	assert.True(t, created)
	cs := NewCookieStore(m, req, rec)
	require.NoError(t, cs.Set(ctx, "k", "v"))
	require.NoError(t, cs.Clear(ctx))

	next := nextRequest(t, rec)
	again, created := m.ID(next)
	assert.False(t, created)
	assert.Equal(t, id, again)
	_, err := NewCookieStore(m, next, httptest.NewRecorder()).Get(ctx, "k")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUserAndFlashes(t *testing.T) {
	m := NewManager(testSecret, false, time.Hour)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := m.User(req)
	assert.False(t, ok)

	require.NoError(t, m.SetUser(req, rec, User{ID: "u1", Username: "ann", Role: entities.RoleEditor}))
	require.NoError(t, m.AddFlash(req, rec, "Host deleted"))

	next := nextRequest(t, rec)
	u, ok := m.User(next)
	require.True(t, ok)
	assert.Equal(t, "ann", u.Username)
	assert.True(t, u.Context("sid").CanEdit())
	assert.False(t, u.Context("sid").IsAdmin())

	assert.Equal(t, []string{"Host deleted"}, m.Flashes(next, httptest.NewRecorder()))
}

func TestClearExpiresCookie(t *testing.T) {
	m := NewManager(testSecret, false, time.Hour)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, m.SetUser(req, rec, User{ID: "u1", Username: "ann", Role: entities.RoleViewer}))

	next := nextRequest(t, rec)
	rec2 := httptest.NewRecorder()
	require.NoError(t, m.Clear(next, rec2))
	var cleared bool
	for _, c := range rec2.Result().Cookies() {
		if c.Name == SessionName && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared)
}

func TestOpenKeepsTokensInCookie(t *testing.T) {
	fake := fakeapi.New()
	fake.AddUser("testuser", "testpass", entities.RoleAdmin)
	srv := httptest.NewServer(fake.Handler())
	defer srv.Close()

	cfg := config.Defaults()
	cfg.APIURL = srv.URL + fakeapi.BasePath
	cfg.Session.ScheduleRefresh = false
	svc, err := app.New(context.Background(), &cfg)
	require.NoError(t, err)
	defer svc.Close()

	m := NewManager(testSecret, false, time.Hour)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := m.Open(rec, req, svc)
	require.NoError(t, err)
	_, err = sess.Auth.Login(req.Context(), "testuser", "testpass")
	require.NoError(t, err)

	// Nothing reached the shared store
	_, err = svc.Store.Get(context.Background(), client.KeyTokenInfo)
	assert.ErrorIs(t, err, store.ErrNotFound)

	next := nextRequest(t, rec)
	again, err := m.Open(httptest.NewRecorder(), next, svc)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, again.ID)
	assert.True(t, again.Auth.IsAuthenticated(next.Context()))
}
