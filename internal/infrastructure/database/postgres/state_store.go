package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sluggisty/dashboard/internal/infrastructure/store"
)

// StateStore implements store.Store on the client_state table. Each store
// owns one namespace, typically a dashboard session id.
type StateStore struct {
	db        *sqlx.DB
	namespace string
}

// NewStateStore creates a store scoped to namespace
func NewStateStore(db *sqlx.DB, namespace string) *StateStore {
	return &StateStore{db: db, namespace: namespace}
}

// Namespace returns a store sharing the connection under another namespace
func (s *StateStore) Namespace(namespace string) *StateStore {
	return &StateStore{db: s.db, namespace: namespace}
}

// NamespaceName returns the namespace this store reads and writes
func (s *StateStore) NamespaceName() string {
	return s.namespace
}

func (s *StateStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value,
		`SELECT value FROM client_state WHERE namespace = $1 AND key = $2`,
		s.namespace, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get state %s: %w", key, err)
	}
	return value, nil
}

func (s *StateStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO client_state (namespace, key, value, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		s.namespace, key, value)
	if err != nil {
		return fmt.Errorf("failed to set state %s: %w", key, err)
	}
	return nil
}

func (s *StateStore) Remove(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM client_state WHERE namespace = $1 AND key = $2`,
		s.namespace, key)
	if err != nil {
		return fmt.Errorf("failed to remove state %s: %w", key, err)
	}
	return nil
}

func (s *StateStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM client_state WHERE namespace = $1`, s.namespace)
	if err != nil {
		return fmt.Errorf("failed to clear state namespace: %w", err)
	}
	return nil
}

// PurgeOlderThan deletes rows in every namespace not updated within maxAge.
// It returns the number of rows removed.
func (s *StateStore) PurgeOlderThan(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM client_state WHERE updated_at < $1`, time.Now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to purge stale state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged rows: %w", err)
	}
	return n, nil
}
