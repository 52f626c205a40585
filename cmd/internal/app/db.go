package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Credential reads and writes are a few short statements per command, so the
// pool stays small and lets idle connections go quickly.
const (
	dbConnectTimeout  = 3 * time.Second
	dbMaxConnIdleTime = 30 * time.Second
	dbMaxConnLifetime = 10 * time.Minute
	dbApplicationName = "pulse-credentials"
)

// dbPoolConfig parses cfg.DatabaseURL and applies the credential store's pool
// limits. Pool settings given in the URL are overridden
// only by explicit PULSE_DB_* settings.
func dbPoolConfig(cfg Config) (*pgxpool.Config, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: PULSE_DATABASE_URL: %v", ErrConfig, err)
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns > 0 {
		pcfg.MinConns = min(cfg.DBMinConns, pcfg.MaxConns)
	}
	pcfg.MaxConnIdleTime = dbMaxConnIdleTime
	pcfg.MaxConnLifetime = dbMaxConnLifetime
	if pcfg.ConnConfig.ConnectTimeout == 0 {
		pcfg.ConnConfig.ConnectTimeout = dbConnectTimeout
	}
	if _, ok := pcfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		pcfg.ConnConfig.RuntimeParams["application_name"] = dbApplicationName
	}
	return pcfg, nil
}

// NewDBPool opens the pool for the postgres credential store and checks that
// it can reach the server. The caller owns the pool.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := dbPoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, dbConnectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}
