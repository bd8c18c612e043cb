package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T, opts ...Option) *QueryCache {
	t.Helper()
	c, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestQueryCachesResult(t *testing.T) {
	s := newCache(t).Scope("user-1")
	ctx := context.Background()
	calls := 0
	fetch := func(context.Context) (int, error) {
		calls++
		return 42, nil
	}

	v, err := Query(ctx, s, "/hosts", fetch)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = Query(ctx, s, "/hosts", fetch)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, calls)
}

func TestQueryDoesNotCacheErrors(t *testing.T) {
	s := newCache(t).Scope("user-1")
	calls := 0
	fetch := func(context.Context) (string, error) {
		calls++
		return "", errors.New("boom")
	}
	_, err := Query(context.Background(), s, "/hosts", fetch)
	require.Error(t, err)
	_, err = Query(context.Background(), s, "/hosts", fetch)
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestScopesAreIsolated(t *testing.T) {
	c := newCache(t)
	a, b := c.Scope("user-a"), c.Scope("user-b")

	a.Set("/hosts", "a-hosts")
	_, ok := b.Get("/hosts")
	assert.False(t, ok)

	b.Set("/hosts", "b-hosts")
	assert.Equal(t, 1, a.Purge())

	_, ok = a.Get("/hosts")
	assert.False(t, ok)
	v, ok := b.Get("/hosts")
	require.True(t, ok)
	assert.Equal(t, "b-hosts", v)
}

func TestInvalidatePrefix(t *testing.T) {
	s := newCache(t).Scope("user-1")
	s.Set("/hosts", 1)
	s.Set("/hosts/abc", 2)
	s.Set("/users", 3)

	assert.Equal(t, 2, s.Invalidate("/hosts"))
	_, ok := s.Get("/hosts/abc")
	assert.False(t, ok)
	_, ok = s.Get("/users")
	assert.True(t, ok)
}

func TestStaleTimeExpires(t *testing.T) {
	s := newCache(t, WithStaleTime(20*time.Millisecond)).Scope("user-1")
	s.Set("/hosts", 1)
	require.Eventually(t, func() bool {
		_, ok := s.Get("/hosts")
		return !ok
	}, 3*time.Second, 10*time.Millisecond)
}

func TestNilScope(t *testing.T) {
	var s *Scope
	s.Set("/x", 1)
	_, ok := s.Get("/x")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Purge())

	v, err := Query(context.Background(), s, "/x", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestResourceLabel(t *testing.T) {
	assert.Equal(t, "hosts", resource("/hosts/abc"))
	assert.Equal(t, "users", resource("/users?page=2"))
	assert.Equal(t, "root", resource("/"))
}
