// Package postgres persists thread records and scheduled tasks in
// PostgreSQL via pgx. Stores take a narrow db interface so tests can swap
// in pgxmock without a running server.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// db is the slice of pgxpool.Pool the stores use. pgxmock's pool interface
// satisfies it too.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Connect opens a pgx pool and verifies it with a ping.
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS magnet_links (
	tid           TEXT PRIMARY KEY,
	title         TEXT NOT NULL,
	content       TEXT NOT NULL DEFAULT '',
	url           TEXT NOT NULL,
	code          TEXT NOT NULL DEFAULT '',
	author        TEXT NOT NULL DEFAULT '',
	size          TEXT NOT NULL DEFAULT '',
	is_uncensored BOOLEAN NOT NULL DEFAULT FALSE,
	forum_id      TEXT NOT NULL,
	forum_name    TEXT NOT NULL DEFAULT '',
	magnets       JSONB NOT NULL DEFAULT '[]',
	cover_images  JSONB NOT NULL DEFAULT '[]',
	all_images    JSONB NOT NULL DEFAULT '[]',
	cover_url     TEXT NOT NULL DEFAULT '',
	crawled_at    TIMESTAMPTZ NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS magnet_links_forum_idx ON magnet_links (forum_id, crawled_at DESC);

CREATE TABLE IF NOT EXISTS scheduled_tasks (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	cron_expr     TEXT NOT NULL,
	timezone      TEXT NOT NULL DEFAULT '',
	forum_id      TEXT NOT NULL,
	start_page    INTEGER NOT NULL,
	end_page      INTEGER NOT NULL,
	keywords      JSONB NOT NULL DEFAULT '[]',
	enabled       BOOLEAN NOT NULL DEFAULT TRUE,
	last_run      TIMESTAMPTZ,
	next_run      TIMESTAMPTZ,
	run_count     INTEGER NOT NULL DEFAULT 0,
	success_count INTEGER NOT NULL DEFAULT 0,
	error_count   INTEGER NOT NULL DEFAULT 0,
	last_result   TEXT NOT NULL DEFAULT '',
	last_error    TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Migrate creates the tables when they do not exist yet.
func Migrate(ctx context.Context, conn db) error {
	if _, err := conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
