package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sluggisty/dashboard/internal/config"
	"github.com/sluggisty/dashboard/internal/infrastructure/database/postgres"
	"github.com/sluggisty/dashboard/internal/infrastructure/store"
	"github.com/sluggisty/dashboard/migrations"
)

// backend is an opened storage backend
type backend struct {
	name  string
	store store.Store
	close func() error

	redis    *store.Redis
	postgres *postgres.StateStore
}

// namespaced returns a store for ns when the backend can share one
// connection between sessions
func (b *backend) namespaced(ns string) (store.Store, bool) {
	switch {
	case b.redis != nil:
		return store.Instrument(b.name, b.redis.WithPrefix(b.redis.Prefix()+ns+":")), true
	case b.postgres != nil:
		return store.Instrument(b.name, b.postgres.Namespace(b.postgres.NamespaceName()+":"+ns)), true
	}
	return nil, false
}

// DefaultStatePath is where the file backend keeps state when no path is configured
func DefaultStatePath(appName string) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, appName, "state.json")
}

func openBackend(ctx context.Context, cfg *config.ClientConfig, log *slog.Logger) (*backend, error) {
	sc := cfg.Storage
	b := &backend{name: sc.Backend, close: func() error { return nil }}

	switch sc.Backend {
	case "", "memory":
		b.name = "memory"
		b.store = store.NewMemory()

	case "file":
		path := sc.FilePath
		if path == "" {
			path = DefaultStatePath(cfg.AppName)
		}
		b.store = store.NewFile(path)

	case "redis":
		ttl := sc.Redis.TTL
		if ttl == 0 {
			ttl = cfg.Session.MaxAge
		}
		r, err := store.NewRedis(ctx, store.RedisOptions{
			Addr:     sc.Redis.Addr,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
			Prefix:   sc.Redis.Prefix,
			TTL:      ttl,
		})
		if err != nil {
			return nil, err
		}
		b.redis = r
		b.store = r
		b.close = r.Close

	case "postgres":
		conn, err := connectPostgres(sc.Postgres.ConnectionString(), log)
		if err != nil {
			return nil, err
		}
		if err := conn.RunMigrations(migrations.FS); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to run PostgreSQL migrations: %w", err)
		}
		st := postgres.NewStateStore(conn.DB, cfg.AppName)
		if n, err := st.PurgeOlderThan(ctx, cfg.Session.MaxAge); err != nil {
			log.Warn("failed to purge stale client state", "error", err)
		} else if n > 0 {
			log.Info("purged stale client state", "rows", n)
		}
		b.postgres = st
		b.store = st
		b.close = conn.Close

	default:
		return nil, fmt.Errorf("unsupported storage backend %q", sc.Backend)
	}

	b.store = store.Instrument(b.name, b.store)
	return b, nil
}

// connectPostgres retries the initial connection with exponential backoff
func connectPostgres(connString string, log *slog.Logger) (*postgres.Connection, error) {
	const maxRetries = 5
	retryDelay := time.Second

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		conn, err := postgres.NewConnection(connString)
		if err == nil {
			log.Info("connected to PostgreSQL")
			return conn, nil
		}
		lastErr = err
		if i < maxRetries-1 {
			log.Warn("failed to connect to PostgreSQL",
				"attempt", i+1,
				"max_retries", maxRetries,
				"error", err,
				"retry_delay", retryDelay)
			time.Sleep(retryDelay)
			retryDelay = min(retryDelay*2, 30*time.Second)
		}
	}
	return nil, fmt.Errorf("failed to connect to PostgreSQL after %d attempts: %w", maxRetries, lastErr)
}
