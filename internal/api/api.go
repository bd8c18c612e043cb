// Package api wraps the Sluggisty REST endpoints with typed calls. Reads go
// through the query cache; mutations invalidate what they change.
package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/sluggisty/dashboard/internal/cache"
	"github.com/sluggisty/dashboard/internal/client"
	"github.com/sluggisty/dashboard/internal/domain/entities"
	"github.com/sluggisty/dashboard/internal/pkg/validate"
)

// Cache key prefixes
const (
	keyHosts   = "/hosts"
	keyUsers   = "/users"
	keyAPIKeys = "/api-keys"
)

// API groups the endpoint wrappers
type API struct {
	Hosts   *Hosts
	Users   *Users
	APIKeys *APIKeys
	Health  *Health
}

// New creates wrappers over c. scope may be nil to disable caching.
func New(c *client.Client, scope *cache.Scope) *API {
	b := base{client: c, cache: scope}
	return &API{
		Hosts:   &Hosts{b},
		Users:   &Users{b},
		APIKeys: &APIKeys{b},
		Health:  &Health{b},
	}
}

type base struct {
	client *client.Client
	cache  *cache.Scope
}

func (b base) get(ctx context.Context, key string, out any) error {
	return b.client.Do(ctx, key, client.RequestOptions{}, out)
}

func (b base) send(ctx context.Context, method, endpoint string, body, out any) error {
	return b.client.Do(ctx, endpoint, client.RequestOptions{Method: method, Body: body}, out)
}

func cached[T any](ctx context.Context, b base, key string) (*T, error) {
	v, err := cache.Query(ctx, b.cache, key, func(ctx context.Context) (T, error) {
		var out T
		err := b.get(ctx, key, &out)
		return out, err
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func invalid(msg string, obj any) error {
	if fields := validate.Struct(obj); fields != nil {
		return client.NewValidationError(msg, fields)
	}
	return nil
}

func path(prefix, id string, rest ...string) string {
	p := prefix + "/" + url.PathEscape(id)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

// Hosts wraps /hosts
type Hosts struct{ base }

// List returns every reporting host
func (h *Hosts) List(ctx context.Context) (*entities.HostList, error) {
	return cached[entities.HostList](ctx, h.base, keyHosts)
}

// Get returns the latest report for a host
func (h *Hosts) Get(ctx context.Context, id string) (*entities.Report, error) {
	return cached[entities.Report](ctx, h.base, path(keyHosts, id))
}

// Delete removes a host and its reports
func (h *Hosts) Delete(ctx context.Context, id string) error {
	if err := h.send(ctx, http.MethodDelete, path(keyHosts, id), nil, nil); err != nil {
		return err
	}
	h.cache.Invalidate(keyHosts)
	return nil
}

// Users wraps /users. All calls require an admin.
type Users struct{ base }

// List returns every user
func (u *Users) List(ctx context.Context) (*entities.UserList, error) {
	return cached[entities.UserList](ctx, u.base, keyUsers)
}

// Create adds a user
func (u *Users) Create(ctx context.Context, req entities.CreateUserRequest) (*entities.User, error) {
	if err := invalid("Please correct the highlighted fields", req); err != nil {
		return nil, err
	}
	var created entities.User
	if err := u.send(ctx, http.MethodPost, keyUsers, req, &created); err != nil {
		return nil, err
	}
	u.cache.Invalidate(keyUsers)
	return &created, nil
}

// UpdateRole changes a user's role
func (u *Users) UpdateRole(ctx context.Context, id string, role entities.Role) (*entities.User, error) {
	req := entities.UpdateRoleRequest{Role: role}
	if err := invalid("Invalid role", req); err != nil {
		return nil, err
	}
	var updated entities.User
	if err := u.send(ctx, http.MethodPut, path(keyUsers, id, "role"), req, &updated); err != nil {
		return nil, err
	}
	u.cache.Invalidate(keyUsers)
	return &updated, nil
}

// Delete removes a user
func (u *Users) Delete(ctx context.Context, id string) error {
	if err := u.send(ctx, http.MethodDelete, path(keyUsers, id), nil, nil); err != nil {
		return err
	}
	u.cache.Invalidate(keyUsers)
	return nil
}

// APIKeys wraps /api-keys for the current user
type APIKeys struct{ base }

// List returns the caller's keys
func (k *APIKeys) List(ctx context.Context) (*entities.APIKeyList, error) {
	return cached[entities.APIKeyList](ctx, k.base, keyAPIKeys)
}

// Create issues a key. The response carries the only copy of the secret.
func (k *APIKeys) Create(ctx context.Context, req entities.CreateAPIKeyRequest) (*entities.CreateAPIKeyResponse, error) {
	if err := invalid("Please correct the highlighted fields", req); err != nil {
		return nil, err
	}
	var created entities.CreateAPIKeyResponse
	if err := k.send(ctx, http.MethodPost, keyAPIKeys, req, &created); err != nil {
		return nil, err
	}
	k.cache.Invalidate(keyAPIKeys)
	return &created, nil
}

// Delete revokes a key
func (k *APIKeys) Delete(ctx context.Context, id string) error {
	if err := k.send(ctx, http.MethodDelete, path(keyAPIKeys, id), nil, nil); err != nil {
		return err
	}
	k.cache.Invalidate(keyAPIKeys)
	return nil
}

// Health wraps /health
type Health struct{ base }

// Check returns the API health. It needs no credentials and is never cached.
func (h *Health) Check(ctx context.Context) (*entities.Health, error) {
	out, err := client.Fetch[entities.Health](ctx, h.client, "/health", client.RequestOptions{SkipAuth: true})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
