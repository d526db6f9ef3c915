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
	return pgxpool.NewWithConfig(ctx, cfg)
}

// EnsureSchema creates the notes table and its indexes if they do not exist.
// Both binaries call this on startup; the statement is idempotent.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS notes (
	id TEXT PRIMARY KEY,
	uploader_id TEXT NOT NULL,
	usn TEXT NOT NULL,
	department TEXT NOT NULL,
	academic_year INT NOT NULL,
	subject TEXT NOT NULL,
	original_name TEXT NOT NULL,
	storage_name TEXT NOT NULL,
	object_key TEXT NOT NULL,
	size_bytes BIGINT NOT NULL,
	detected_type TEXT NOT NULL,
	scan_backend TEXT NOT NULL,
	all_years BOOLEAN NOT NULL DEFAULT FALSE,
	flagged BOOLEAN NOT NULL DEFAULT FALSE,
	flag_reason TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notes_department ON notes(department);
CREATE INDEX IF NOT EXISTS idx_notes_dup ON notes(uploader_id, department, original_name);`
	_, err := pool.Exec(ctx, stmt)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
