// Package postgres provides a PostgreSQL-backed implementation of
// [lecture.Store] using a [pgxpool.Pool].
//
// Transcript increments are stored as a TEXT[] column and notes as JSONB, so
// a lecture is always read and written as one row.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	l, _ := store.Create(ctx, "Thermodynamics", userID)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlLectures = `
CREATE TABLE IF NOT EXISTS lectures (
    id          TEXT         PRIMARY KEY,
    user_id     TEXT         NOT NULL DEFAULT '',
    title       TEXT         NOT NULL,
    transcript  TEXT[]       NOT NULL DEFAULT '{}',
    notes       JSONB        NOT NULL DEFAULT '[]',
    summary     TEXT,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_lectures_user_created
    ON lectures (user_id, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_lectures_created
    ON lectures (created_at DESC);
`

// Migrate creates the lectures table and its indexes. It is idempotent and
// safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlLectures); err != nil {
		return fmt.Errorf("lecture postgres: migrate: %w", err)
	}
	return nil
}
