package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sluggisty/dashboard/internal/app"
	"github.com/sluggisty/dashboard/internal/config"
	"github.com/sluggisty/dashboard/internal/domain/entities"
	"github.com/sluggisty/dashboard/internal/fakeapi"
	"github.com/sluggisty/dashboard/web/internal/middleware"
	"github.com/sluggisty/dashboard/web/internal/render"
	"github.com/sluggisty/dashboard/web/internal/session"
)

type testEnv struct {
	fake *fakeapi.Server
	web  *httptest.Server
	http *http.Client
}

type response struct {
	status   int
	body     string
	location string
}

func newEnv(t *testing.T, tweak func(*config.ClientConfig)) *testEnv {
	t.Helper()
	fake := fakeapi.New()
	fake.AddUser("admin", "adminpass", entities.RoleAdmin)
	fake.AddUser("viewer", "viewerpass", entities.RoleViewer)
	fake.AddUser("editor", "editorpass", entities.RoleEditor)
	apiSrv := httptest.NewServer(fake.Handler())
	t.Cleanup(apiSrv.Close)

	cfg := config.Defaults()
	cfg.APIURL = apiSrv.URL + fakeapi.BasePath
	cfg.Session.ScheduleRefresh = false
	zero := 0
	cfg.Retry.MaxRetries = &zero
	if tweak != nil {
		tweak(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := app.New(context.Background(), &cfg, app.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	templates, err := render.LoadTemplates("")
	require.NoError(t, err)

	sessions := session.NewManager([]byte("0123456789abcdef0123456789abcdef"), false, time.Hour)
	h := New(svc, sessions, templates, logger)
	router := h.Routes(middleware.NewAuthMiddleware(sessions, svc, logger), middleware.NewLogger(logger))
	web := httptest.NewServer(router)
	t.Cleanup(web.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testEnv{
		fake: fake,
		web:  web,
		http: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (e *testEnv) do(t *testing.T, req *http.Request) response {
	t.Helper()
	resp, err := e.http.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return response{status: resp.StatusCode, body: string(body), location: resp.Header.Get("Location")}
}

func (e *testEnv) get(t *testing.T, path string) response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.web.URL+path, nil)
	require.NoError(t, err)
	return e.do(t, req)
}

func (e *testEnv) post(t *testing.T, path string, form url.Values) response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.web.URL+path, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(t, req)
}

func (e *testEnv) login(t *testing.T, username, password string) {
	t.Helper()
	resp := e.post(t, "/login", url.Values{"username": {username}, "password": {password}})
	require.Equal(t, http.StatusSeeOther, resp.status, resp.body)
	require.Equal(t, "/", resp.location)
}

func addHost(fake *fakeapi.Server, id, hostname string, lastSeen time.Time) {
	fake.AddHost(entities.Host{
		HostID:       id,
		Hostname:     hostname,
		OSName:       "Fedora",
		OSVersion:    "40",
		AgentVersion: "1.2.3",
		LastSeen:     lastSeen,
		ReportCount:  3,
	}, entities.Report{
		Meta: entities.ReportMeta{HostID: id, Hostname: hostname, Timestamp: lastSeen, AgentVersion: "1.2.3"},
		Data: map[string]json.RawMessage{
			"os": json.RawMessage(`{"name":"Fedora","version":"40"}`),
		},
		Errors: []entities.ReportError{{Collector: "gpu", Message: "no device"}},
	})
}

func TestProtectedPagesRedirectToLogin(t *testing.T) {
	env := newEnv(t, nil)

	resp := env.get(t, "/hosts")
	assert.Equal(t, http.StatusSeeOther, resp.status)
	assert.Equal(t, "/login?next=%2Fhosts", resp.location)

	resp = env.get(t, "/")
	assert.Equal(t, http.StatusSeeOther, resp.status)
	assert.Equal(t, "/login", resp.location)
}

func TestLoginPage(t *testing.T) {
	env := newEnv(t, nil)

	resp := env.get(t, "/login?reason=idle&next=/hosts")
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Contains(t, resp.body, "period of inactivity")
	assert.Contains(t, resp.body, `value="/hosts"`)
}

func TestLoginRedirectsToNext(t *testing.T) {
	env := newEnv(t, nil)

	resp := env.post(t, "/login", url.Values{
		"username": {"admin"},
		"password": {"adminpass"},
		"next":     {"/hosts?token=leak"},
	})
	assert.Equal(t, http.StatusSeeOther, resp.status)
	assert.Equal(t, "/hosts", resp.location)

	// already signed in
	resp = env.get(t, "/login")
	assert.Equal(t, http.StatusSeeOther, resp.status)
	assert.Equal(t, "/", resp.location)
}

func TestLoginInvalidCredentials(t *testing.T) {
	env := newEnv(t, nil)

	resp := env.post(t, "/login", url.Values{"username": {"admin"}, "password": {"nope"}})
	assert.Equal(t, http.StatusUnauthorized, resp.status)
	assert.Contains(t, resp.body, "Invalid username or password")
	assert.Contains(t, resp.body, `value="admin"`)
}

func TestLoginValidatesLocally(t *testing.T) {
	env := newEnv(t, nil)

	resp := env.post(t, "/login", url.Values{"username": {"admin"}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.status)
	assert.Contains(t, resp.body, "Password is required")
	assert.Equal(t, 0, env.fake.Calls("POST", "/auth/login"))
}

func TestHostsEmptyState(t *testing.T) {
	env := newEnv(t, nil)
	env.login(t, "viewer", "viewerpass")

	resp := env.get(t, "/hosts")
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Contains(t, resp.body, "No hosts have reported yet")
}

func TestDashboard(t *testing.T) {
	env := newEnv(t, nil)
	now := time.Now()
	addHost(env.fake, "h1", "web-1", now.Add(-time.Hour))
	addHost(env.fake, "h2", "db-1", now.Add(-72*time.Hour))
	env.login(t, "viewer", "viewerpass")

	resp := env.get(t, "/")
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Contains(t, resp.body, "Healthy")
	assert.Contains(t, resp.body, "web-1")
	assert.Contains(t, resp.body, "db-1")
	assert.Less(t, strings.Index(resp.body, "web-1"), strings.Index(resp.body, "db-1"), "most recent first")
	assert.Contains(t, resp.body, `<span class="value">2</span>`)
	assert.Contains(t, resp.body, `<span class="value">1</span>`)
}

func TestDashboardSurvivesHealthFailure(t *testing.T) {
	env := newEnv(t, nil)
	env.fake.Fail("GET", "/health", http.StatusServiceUnavailable, 5)
	env.login(t, "viewer", "viewerpass")

	resp := env.get(t, "/")
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Contains(t, resp.body, "Unavailable")
}

func TestHostDetail(t *testing.T) {
	env := newEnv(t, nil)
	addHost(env.fake, "h1", "web-1", time.Now().Add(-time.Hour))
	env.login(t, "viewer", "viewerpass")

	resp := env.get(t, "/hosts/h1")
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Contains(t, resp.body, "<h2>os</h2>")
	assert.Contains(t, resp.body, "Collection errors (1)")
	assert.NotContains(t, resp.body, "Delete host")
}

func TestHostNotFound(t *testing.T) {
	env := newEnv(t, nil)
	env.login(t, "viewer", "viewerpass")

	resp := env.get(t, "/hosts/missing")
	assert.Equal(t, http.StatusNotFound, resp.status)
	assert.Contains(t, resp.body, "Host not found")
	assert.NotContains(t, resp.body, "Try again")
}

func TestServerErrorOffersRetry(t *testing.T) {
	env := newEnv(t, nil)
	env.fake.Fail("GET", "/hosts", http.StatusInternalServerError, 10)
	env.login(t, "viewer", "viewerpass")

	resp := env.get(t, "/hosts")
	assert.Equal(t, http.StatusBadGateway, resp.status)
	assert.Contains(t, resp.body, "Try again")
	assert.Contains(t, resp.body, "/hosts?retry=1")

	resp = env.get(t, "/hosts?retry=3")
	assert.NotContains(t, resp.body, "Try again")
	assert.Contains(t, resp.body, "keeps failing")
}

func TestViewerCannotDeleteHost(t *testing.T) {
	env := newEnv(t, nil)
	addHost(env.fake, "h1", "web-1", time.Now())
	env.login(t, "viewer", "viewerpass")

	resp := env.post(t, "/hosts/h1/delete", nil)
	assert.Equal(t, http.StatusSeeOther, resp.status)
	assert.Equal(t, "/hosts/h1", resp.location)
	assert.Equal(t, 0, env.fake.Calls("DELETE", "/hosts/h1"))

	resp = env.get(t, "/hosts/h1")
	assert.Contains(t, resp.body, "Editor access required")
}

func TestEditorDeletesHost(t *testing.T) {
	env := newEnv(t, nil)
	addHost(env.fake, "h1", "web-1", time.Now())
	env.login(t, "editor", "editorpass")

	// cached list, then delete invalidates it
	assert.Contains(t, env.get(t, "/hosts").body, "web-1")

	resp := env.post(t, "/hosts/h1/delete", nil)
	assert.Equal(t, http.StatusSeeOther, resp.status)
	assert.Equal(t, "/hosts", resp.location)

	resp = env.get(t, "/hosts")
	assert.Contains(t, resp.body, "Host deleted")
	assert.Contains(t, resp.body, "No hosts have reported yet")
}

func TestRevokedSessionRedirectsToLogin(t *testing.T) {
	env := newEnv(t, nil)
	env.login(t, "viewer", "viewerpass")
	env.fake.RevokeTokens()

	resp := env.get(t, "/hosts")
	assert.Equal(t, http.StatusSeeOther, resp.status)
	assert.Equal(t, "/login?next=%2Fhosts&reason=unauthorized", resp.location)

	// the cookie was cleared
	resp = env.get(t, "/")
	assert.Equal(t, http.StatusSeeOther, resp.status)
	assert.Equal(t, "/login", resp.location)
}

func TestIdleSessionTimesOut(t *testing.T) {
	env := newEnv(t, func(cfg *config.ClientConfig) {
		cfg.Session.IdleTimeout = 50 * time.Millisecond
	})
	env.login(t, "viewer", "viewerpass")
	time.Sleep(100 * time.Millisecond)

	resp := env.get(t, "/hosts")
	assert.Equal(t, http.StatusSeeOther, resp.status)
	assert.Equal(t, "/login?next=%2Fhosts&reason=idle", resp.location)
}

func TestLogout(t *testing.T) {
	env := newEnv(t, nil)
	env.login(t, "viewer", "viewerpass")

	resp := env.post(t, "/logout", nil)
	assert.Equal(t, http.StatusSeeOther, resp.status)
	assert.Equal(t, "/login?reason=logout", resp.location)

	resp = env.get(t, "/hosts")
	assert.Equal(t, http.StatusSeeOther, resp.status)
}

func TestLogoutRequiresPost(t *testing.T) {
	env := newEnv(t, nil)
	env.login(t, "viewer", "viewerpass")

	resp := env.get(t, "/logout")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.status)

	resp = env.get(t, "/hosts")
	assert.Equal(t, http.StatusOK, resp.status, "a cross-site GET must not end the session")
}

func TestRegister(t *testing.T) {
	env := newEnv(t, nil)

	resp := env.post(t, "/register", url.Values{"username": {"ab"}, "email": {"bad"}, "password": {"short"}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.status)
	assert.Contains(t, resp.body, "must be a valid email address")
	assert.Equal(t, 0, env.fake.Calls("POST", "/auth/register"))

	resp = env.post(t, "/register", url.Values{
		"username": {"newbie"},
		"email":    {"newbie@example.com"},
		"password": {"longenough"},
	})
	assert.Equal(t, http.StatusSeeOther, resp.status)
	assert.Equal(t, "/", resp.location)

	resp = env.get(t, "/")
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Contains(t, resp.body, "Welcome to Sluggisty, newbie!")

	resp = env.post(t, "/logout", nil)
	require.Equal(t, http.StatusSeeOther, resp.status)
	resp = env.post(t, "/register", url.Values{
		"username": {"newbie"},
		"email":    {"other@example.com"},
		"password": {"longenough"},
	})
	assert.Equal(t, http.StatusConflict, resp.status)
	assert.Contains(t, resp.body, "Username already taken")
}

func TestAccessUsersAndKeys(t *testing.T) {
	env := newEnv(t, nil)
	env.login(t, "admin", "adminpass")

	resp := env.get(t, "/access")
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Contains(t, resp.body, "viewer")
	assert.Contains(t, resp.body, "No API keys yet")

	resp = env.post(t, "/access/users", url.Values{
		"username": {"carol"},
		"email":    {"carol@example.com"},
		"password": {"password1"},
		"role":     {"editor"},
	})
	assert.Equal(t, http.StatusSeeOther, resp.status)
	resp = env.get(t, "/access")
	assert.Contains(t, resp.body, "Created carol")
	assert.Contains(t, resp.body, "carol@example.com")

	resp = env.post(t, "/access/users", url.Values{"username": {"x"}, "role": {"owner"}})
	assert.Equal(t, http.StatusSeeOther, resp.status)
	resp = env.get(t, "/access")
	assert.Contains(t, resp.body, "Please correct the highlighted fields")
	assert.Equal(t, 1, env.fake.Calls("POST", "/users"))

	resp = env.post(t, "/access/keys", url.Values{"name": {"ci"}, "expires_in_days": {"30"}})
	assert.Equal(t, http.StatusCreated, resp.status)
	assert.Contains(t, resp.body, "sk_")
	assert.Contains(t, resp.body, "It will not be shown again")

	resp = env.get(t, "/access")
	assert.NotContains(t, resp.body, "It will not be shown again")
	assert.Contains(t, resp.body, "ci")
}

func TestViewerCannotManageUsers(t *testing.T) {
	env := newEnv(t, nil)
	env.login(t, "viewer", "viewerpass")

	resp := env.get(t, "/access")
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Contains(t, resp.body, "Only admins can manage users")
	assert.Equal(t, 0, env.fake.Calls("GET", "/users"))

	resp = env.post(t, "/access/users", url.Values{"username": {"mallory"}})
	assert.Equal(t, http.StatusSeeOther, resp.status)
	assert.Contains(t, env.get(t, "/access").body, "Admin access required")
	assert.Equal(t, 0, env.fake.Calls("POST", "/users"))
}

func TestServiceEndpoints(t *testing.T) {
	env := newEnv(t, nil)

	resp := env.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "ok", resp.body)

	resp = env.get(t, "/version")
	assert.JSONEq(t, `{"version":"dev"}`, resp.body)

	env.get(t, "/login")
	resp = env.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Contains(t, resp.body, "sluggisty_web_requests_total")

	resp = env.get(t, "/static/dev/app.css")
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Contains(t, resp.body, ".container")
}
