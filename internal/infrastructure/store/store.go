// Package store provides the key/value persistence used for client-side
// session state: token info, session metadata, CSRF token and the error log.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sluggisty/dashboard/internal/pkg/metrics"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("store: key not found")

// Store is a string key/value store. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	// Clear removes every key owned by this store.
	Clear(ctx context.Context) error
}

// Instrument wraps a Store so every operation is recorded in the store
// metrics under the given backend name.
func Instrument(backend string, s Store) Store {
	return &instrumented{backend: backend, next: s}
}

type instrumented struct {
	backend string
	next    Store
}

func (i *instrumented) Get(ctx context.Context, key string) (string, error) {
	start := time.Now()
	v, err := i.next.Get(ctx, key)
	metrics.RecordStoreOperation(i.backend, "get", time.Since(start), err, ErrNotFound)
	return v, err
}

func (i *instrumented) Set(ctx context.Context, key, value string) error {
	start := time.Now()
	err := i.next.Set(ctx, key, value)
	metrics.RecordStoreOperation(i.backend, "set", time.Since(start), err, ErrNotFound)
	return err
}

func (i *instrumented) Remove(ctx context.Context, key string) error {
	start := time.Now()
	err := i.next.Remove(ctx, key)
	metrics.RecordStoreOperation(i.backend, "remove", time.Since(start), err, ErrNotFound)
	return err
}

func (i *instrumented) Clear(ctx context.Context) error {
	start := time.Now()
	err := i.next.Clear(ctx)
	metrics.RecordStoreOperation(i.backend, "clear", time.Since(start), err, ErrNotFound)
	return err
}
