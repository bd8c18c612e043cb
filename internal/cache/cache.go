// Package cache holds API query results for a short stale time so repeated
// page loads do not refetch. Keys are scoped per user session and can be
// invalidated by prefix after mutations.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/sluggisty/dashboard/internal/pkg/metrics"
)

type options struct {
	numCounters int64
	maxCost     int64
	bufferItems int64
	staleTime   time.Duration
}

func defaultOptions() *options {
	return &options{
		numCounters: 1e5,
		maxCost:     1 << 20,
		bufferItems: 64,
		staleTime:   30 * time.Second,
	}
}

// Option configures a QueryCache
type Option func(*options)

// WithMaxCost sets the maximum number of cached entries
func WithMaxCost(maxCost int64) Option {
	return func(o *options) {
		o.maxCost = maxCost
		o.numCounters = maxCost * 10
	}
}

// WithStaleTime sets how long entries are served before refetching
func WithStaleTime(d time.Duration) Option {
	return func(o *options) {
		o.staleTime = d
	}
}

// QueryCache is a ristretto cache with a key index for prefix invalidation
type QueryCache struct {
	client    *ristretto.Cache
	staleTime time.Duration

	mu   sync.Mutex
	keys map[string]time.Time
}

// New creates a QueryCache
func New(opts ...Option) (*QueryCache, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	client, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: o.numCounters,
		MaxCost:     o.maxCost,
		BufferItems: o.bufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}
	return &QueryCache{
		client:    client,
		staleTime: o.staleTime,
		keys:      make(map[string]time.Time),
	}, nil
}

// Close releases the cache
func (q *QueryCache) Close() {
	q.client.Close()
}

// Scope returns a view of the cache whose keys are prefixed with scope,
// typically a session or user id
func (q *QueryCache) Scope(scope string) *Scope {
	return &Scope{cache: q, prefix: scope + "|"}
}

func (q *QueryCache) get(key string) (any, bool) {
	return q.client.Get(key)
}

func (q *QueryCache) set(key string, value any) {
	q.client.SetWithTTL(key, value, 1, q.staleTime)
	q.client.Wait()

	q.mu.Lock()
	q.keys[key] = time.Now().Add(q.staleTime)
	q.mu.Unlock()
}

// deletePrefix removes every indexed key starting with prefix
func (q *QueryCache) deletePrefix(prefix string) int {
	q.mu.Lock()
	var doomed []string
	now := time.Now()
	for k, exp := range q.keys {
		if strings.HasPrefix(k, prefix) {
			doomed = append(doomed, k)
			continue
		}
		if now.After(exp) {
			delete(q.keys, k)
		}
	}
	for _, k := range doomed {
		delete(q.keys, k)
	}
	q.mu.Unlock()

	for _, k := range doomed {
		q.client.Del(k)
	}
	return len(doomed)
}

// Scope is a prefixed view of a QueryCache. A nil *Scope caches nothing.
type Scope struct {
	cache  *QueryCache
	prefix string
}

// Get returns the cached value for key
func (s *Scope) Get(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.cache.get(s.prefix + key)
	if ok {
		metrics.CacheHits.WithLabelValues(resource(key)).Inc()
	} else {
		metrics.CacheMisses.WithLabelValues(resource(key)).Inc()
	}
	return v, ok
}

// Set stores value under key for the stale time
func (s *Scope) Set(key string, value any) {
	if s == nil {
		return
	}
	s.cache.set(s.prefix+key, value)
}

// Invalidate drops every key in this scope starting with prefix
func (s *Scope) Invalidate(prefix string) int {
	if s == nil {
		return 0
	}
	return s.cache.deletePrefix(s.prefix + prefix)
}

// Purge drops every key in this scope
func (s *Scope) Purge() int {
	return s.Invalidate("")
}

// resource is the first path segment of key, used as a metrics label
func resource(key string) string {
	key = strings.TrimPrefix(key, "/")
	if i := strings.IndexAny(key, "/?"); i >= 0 {
		key = key[:i]
	}
	if key == "" {
		return "root"
	}
	return key
}

// Query returns the cached value for key, or calls fetch and caches the result.
// Errors are never cached.
func Query[T any](ctx context.Context, s *Scope, key string, fetch func(context.Context) (T, error)) (T, error) {
	if v, ok := s.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}
	v, err := fetch(ctx)
	if err != nil {
		return v, err
	}
	s.Set(key, v)
	return v, nil
}
