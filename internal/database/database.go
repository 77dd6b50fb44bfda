package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the dataset queue and applied vote tables if needed.
// seq records insertion order; the queue is always listed by it.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS pending_datasets (
	seq BIGSERIAL NOT NULL,
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	records INTEGER NOT NULL,
	upload_date TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('pending', 'verified', 'error')),
	raw_data JSONB NOT NULL,
	issues JSONB,
	version BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_pending_datasets_seq ON pending_datasets(seq);
CREATE TABLE IF NOT EXISTS applied_votes (
	seq BIGSERIAL PRIMARY KEY,
	dni TEXT NOT NULL,
	categoria TEXT NOT NULL,
	partido TEXT NOT NULL,
	region TEXT NOT NULL,
	mesa INTEGER NOT NULL,
	candidato TEXT NOT NULL,
	source_dataset_id TEXT,
	applied_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_applied_votes_categoria ON applied_votes(categoria);`
	_, err := pool.Exec(ctx, stmt)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
