// Package postgres implements the chunk registry on PostgreSQL using a
// pgx connection pool.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool sizing defaults. The registry is written once at startup and
// read rarely, so the pool stays small.
const (
	defaultMaxConns     = 8
	defaultMinConns     = 2
	defaultConnLifetime = 30 * time.Minute
)

// PoolConfig sizes the connection pool. Zero values fall back to the
// defaults above.
type PoolConfig struct {
	URL          string
	MaxConns     int32
	MinConns     int32
	ConnLifetime time.Duration
}

// DB wraps a PostgreSQL connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// New opens a connection pool against cfg.URL and verifies it with a
// ping before returning.
func New(ctx context.Context, cfg PoolConfig) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	sizePool(poolCfg, cfg)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// sizePool applies the PoolConfig knobs onto the parsed pgx config,
// falling back to defaults for unset values.
func sizePool(poolCfg *pgxpool.Config, cfg PoolConfig) {
	poolCfg.MaxConns = cfg.MaxConns
	if poolCfg.MaxConns <= 0 {
		poolCfg.MaxConns = defaultMaxConns
	}
	poolCfg.MinConns = cfg.MinConns
	if poolCfg.MinConns <= 0 {
		poolCfg.MinConns = defaultMinConns
	}
	poolCfg.MaxConnLifetime = cfg.ConnLifetime
	if poolCfg.MaxConnLifetime <= 0 {
		poolCfg.MaxConnLifetime = defaultConnLifetime
	}
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
