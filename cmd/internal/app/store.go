package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"pulse/cmd/internal/kv"
)

// openStore selects the credential backend named by cfg.Store.
// The returned store owns any pool it opened; closing it releases the pool.
func openStore(ctx context.Context, cfg Config, log Logger) (kv.Store, error) {
	switch cfg.Store {
	case StoreMemory:
		log.Info("store.memory")
		return kv.NewMemoryStore(), nil

	case StorePostgres:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		st, err := kv.NewPostgresStore(pool, kv.WithSchema(cfg.DBSchema))
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("store.postgres", "schema", cfg.DBSchema)
		return dbStore{PostgresStore: st, pool: pool}, nil

	default:
		path := cfg.StorePath
		if path == "" {
			p, err := kv.DefaultFilePath()
			if err != nil {
				return nil, fmt.Errorf("resolve store path: %w", err)
			}
			path = p
		}
		st, err := kv.NewFileStore(path)
		if err != nil {
			return nil, err
		}
		log.Debug("store.file", "path", st.Path())
		return st, nil
	}
}

// dbStore ties the pool lifecycle to the store. PostgresStore.Close is a
// no-op because it never owns its pool.
type dbStore struct {
	*kv.PostgresStore
	pool *pgxpool.Pool
}

func (s dbStore) Close() error {
	_ = s.PostgresStore.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
