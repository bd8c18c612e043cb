package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sluggisty/dashboard/internal/cache"
	"github.com/sluggisty/dashboard/internal/client"
	"github.com/sluggisty/dashboard/internal/domain/entities"
	"github.com/sluggisty/dashboard/internal/fakeapi"
	"github.com/sluggisty/dashboard/internal/infrastructure/store"
)

func newAPI(t *testing.T, role entities.Role, setup func(*fakeapi.Server)) (*API, *fakeapi.Server) {
	t.Helper()
	fake := fakeapi.New()
	fake.AddUser("tester", "password1", role)
	if setup != nil {
		setup(fake)
	}
	srv := httptest.NewServer(fake.Handler())
	t.Cleanup(srv.Close)

	tm := client.NewTokenManager(store.NewMemory(), client.TokenManagerConfig{})
	require.NoError(t, tm.SetTokenInfo(context.Background(), fake.IssueToken("tester")))

	c := client.New(srv.URL+fakeapi.BasePath,
		client.WithTokenManager(tm),
		client.WithRetryPolicy(client.RetryPolicy{
			MaxRetries:        2,
			RetryDelay:        time.Millisecond,
			RetryableStatuses: client.DefaultRetryableStatuses,
		}),
	)
	qc, err := cache.New()
	require.NoError(t, err)
	t.Cleanup(qc.Close)
	return New(c, qc.Scope("tester")), fake
}

func sampleHost(id string) (entities.Host, entities.Report) {
	h := entities.Host{HostID: id, Hostname: "web-" + id, OSName: "Fedora", LastSeen: time.Now(), ReportCount: 3}
	r := entities.Report{
		Meta: entities.ReportMeta{HostID: id, Hostname: h.Hostname, Timestamp: time.Now()},
		Data: map[string]json.RawMessage{"system": json.RawMessage(`{"cpu":4}`)},
	}
	return h, r
}

func TestHostsEmpty(t *testing.T) {
	a, _ := newAPI(t, entities.RoleViewer, nil)
	list, err := a.Hosts.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, list.Total)
	assert.Empty(t, list.Hosts)
}

func TestHostsListIsCachedUntilDelete(t *testing.T) {
	a, fake := newAPI(t, entities.RoleEditor, func(s *fakeapi.Server) {
		s.AddHost(sampleHost("h1"))
		s.AddHost(sampleHost("h2"))
	})
	ctx := context.Background()

	list, err := a.Hosts.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, list.Total)
	_, err = a.Hosts.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.Calls("GET", "/hosts"))

	require.NoError(t, a.Hosts.Delete(ctx, "h1"))
	list, err = a.Hosts.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, 2, fake.Calls("GET", "/hosts"))
}

func TestHostGet(t *testing.T) {
	a, _ := newAPI(t, entities.RoleViewer, func(s *fakeapi.Server) {
		s.AddHost(sampleHost("h1"))
	})
	report, err := a.Hosts.Get(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, "web-h1", report.Meta.Hostname)
	assert.Equal(t, []string{"system"}, report.Categories())
}

func TestHostGetNotFound(t *testing.T) {
	a, _ := newAPI(t, entities.RoleViewer, nil)
	_, err := a.Hosts.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, client.IsNotFound(err))
	assert.Equal(t, "Host not found", err.Error())
}

func TestHostsServerErrorAfterRetries(t *testing.T) {
	a, fake := newAPI(t, entities.RoleViewer, func(s *fakeapi.Server) {
		s.Fail("GET", "/hosts", http.StatusInternalServerError, 10)
	})
	_, err := a.Hosts.List(context.Background())
	require.Error(t, err)
	assert.True(t, client.IsKind(err, client.KindServer))
	assert.Equal(t, 3, fake.Calls("GET", "/hosts"))
}

func TestViewerCannotDeleteHost(t *testing.T) {
	a, _ := newAPI(t, entities.RoleViewer, func(s *fakeapi.Server) {
		s.AddHost(sampleHost("h1"))
	})
	err := a.Hosts.Delete(context.Background(), "h1")
	require.Error(t, err)
	assert.True(t, client.IsKind(err, client.KindAuthorization))
}

func TestUsersLifecycle(t *testing.T) {
	a, _ := newAPI(t, entities.RoleAdmin, nil)
	ctx := context.Background()

	created, err := a.Users.Create(ctx, entities.CreateUserRequest{
		Username: "bob",
		Email:    "bob@example.com",
		Password: "password1",
		Role:     entities.RoleViewer,
	})
	require.NoError(t, err)

	list, err := a.Users.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, list.Total)

	updated, err := a.Users.UpdateRole(ctx, created.ID, entities.RoleEditor)
	require.NoError(t, err)
	assert.Equal(t, entities.RoleEditor, updated.Role)

	require.NoError(t, a.Users.Delete(ctx, created.ID))
	list, err = a.Users.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)
}

func TestUsersValidatedLocally(t *testing.T) {
	a, fake := newAPI(t, entities.RoleAdmin, nil)
	ctx := context.Background()

	_, err := a.Users.Create(ctx, entities.CreateUserRequest{Username: "bob", Email: "bob", Password: "x", Role: "root"})
	require.Error(t, err)
	apiErr, ok := client.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, client.KindValidation, apiErr.Kind)
	assert.ElementsMatch(t, []string{"email", "password", "role"}, apiErr.Fields())

	_, err = a.Users.UpdateRole(ctx, "someone", "superuser")
	assert.True(t, client.IsKind(err, client.KindValidation))
	assert.Equal(t, 0, fake.Calls("POST", "/users"))
}

func TestUsersForbiddenForViewer(t *testing.T) {
	a, _ := newAPI(t, entities.RoleViewer, nil)
	_, err := a.Users.List(context.Background())
	require.Error(t, err)
	assert.True(t, client.IsKind(err, client.KindAuthorization))
}

func TestAPIKeys(t *testing.T) {
	a, _ := newAPI(t, entities.RoleViewer, nil)
	ctx := context.Background()

	created, err := a.APIKeys.Create(ctx, entities.CreateAPIKeyRequest{Name: "ci", ExpiresInDays: 30})
	require.NoError(t, err)
	assert.NotEmpty(t, created.Key)
	require.NotNil(t, created.APIKey.ExpiresAt)

	list, err := a.APIKeys.List(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "ci", list.APIKeys[0].Name)

	require.NoError(t, a.APIKeys.Delete(ctx, created.APIKey.ID))
	list, err = a.APIKeys.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, list.Total)

	err = a.APIKeys.Delete(ctx, created.APIKey.ID)
	assert.True(t, client.IsNotFound(err))
}

func TestHealthCheck(t *testing.T) {
	a, _ := newAPI(t, entities.RoleViewer, nil)
	h, err := a.Health.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, h.IsHealthy())
	assert.Equal(t, "fake", h.Version)
}

func TestPathEscapesIDs(t *testing.T) {
	assert.Equal(t, "/hosts/a%2Fb", path(keyHosts, "a/b"))
	assert.Equal(t, "/users/42/role", path(keyUsers, "42", "role"))
}
