package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/ocepa/internal/lecture"
)

// Compile-time interface check.
var _ lecture.Store = (*Store)(nil)

const lectureColumns = `id, user_id, title, transcript, notes, summary, created_at, updated_at`

// Store is a [lecture.Store] backed by PostgreSQL. All operations are safe
// for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a connection pool for dsn, verifies connectivity, and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("lecture postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("lecture postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("lecture postgres: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// NewFromPool wraps an existing pool. The caller is responsible for running
// [Migrate] and for closing the pool.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases all pooled connections.
func (s *Store) Close() { s.pool.Close() }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("lecture postgres: ping: %w", err)
	}
	return nil
}

// Create implements [lecture.Store].
func (s *Store) Create(ctx context.Context, title, userID string) (lecture.Lecture, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return lecture.Lecture{}, lecture.ErrEmptyTitle
	}

	q := `
		INSERT INTO lectures (id, user_id, title)
		VALUES ($1, $2, $3)
		RETURNING ` + lectureColumns

	rows, err := s.pool.Query(ctx, q, uuid.NewString(), userID, title)
	if err != nil {
		return lecture.Lecture{}, persistence("create", err)
	}
	l, err := pgx.CollectExactlyOneRow(rows, scanLecture)
	if err != nil {
		return lecture.Lecture{}, persistence("create", err)
	}
	return l, nil
}

// Get implements [lecture.Store].
func (s *Store) Get(ctx context.Context, id string) (lecture.Lecture, error) {
	q := `SELECT ` + lectureColumns + ` FROM lectures WHERE id = $1`
	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return lecture.Lecture{}, persistence("get", err)
	}
	l, err := pgx.CollectExactlyOneRow(rows, scanLecture)
	if errors.Is(err, pgx.ErrNoRows) {
		return lecture.Lecture{}, lecture.ErrNotFound
	}
	if err != nil {
		return lecture.Lecture{}, persistence("get", err)
	}
	return l, nil
}

// List implements [lecture.Store].
func (s *Store) List(ctx context.Context, opts lecture.ListOptions) ([]lecture.Lecture, error) {
	args := []any{}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	q := "SELECT " + lectureColumns + "\nFROM   lectures"
	if opts.UserID != "" {
		q += "\nWHERE  user_id = " + next(opts.UserID)
	}
	q += "\nORDER  BY created_at DESC, id"
	if opts.Limit > 0 {
		q += "\nLIMIT  " + next(opts.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, persistence("list", err)
	}
	lectures, err := pgx.CollectRows(rows, scanLecture)
	if err != nil {
		return nil, persistence("list", err)
	}
	if lectures == nil {
		lectures = []lecture.Lecture{}
	}
	return lectures, nil
}

// Update implements [lecture.Store]. Nil fields of u keep their stored value.
func (s *Store) Update(ctx context.Context, id string, u lecture.Update) (lecture.Lecture, error) {
	if u.Title != nil && strings.TrimSpace(*u.Title) == "" {
		return lecture.Lecture{}, lecture.ErrEmptyTitle
	}

	var transcript []string
	if u.Transcript != nil {
		transcript = *u.Transcript
		if transcript == nil {
			transcript = []string{}
		}
	}
	var notes any
	if u.Notes != nil {
		n := *u.Notes
		if n == nil {
			n = []lecture.Note{}
		}
		notes = n
	}

	q := `
		UPDATE lectures
		SET    title      = COALESCE($2, title),
		       transcript = COALESCE($3, transcript),
		       notes      = COALESCE($4::jsonb, notes),
		       summary    = COALESCE($5, summary),
		       updated_at = now()
		WHERE  id = $1
		RETURNING ` + lectureColumns

	rows, err := s.pool.Query(ctx, q, id, u.Title, nullableArray(u.Transcript != nil, transcript), notes, u.Summary)
	if err != nil {
		return lecture.Lecture{}, persistence("update", err)
	}
	l, err := pgx.CollectExactlyOneRow(rows, scanLecture)
	if errors.Is(err, pgx.ErrNoRows) {
		return lecture.Lecture{}, lecture.ErrNotFound
	}
	if err != nil {
		return lecture.Lecture{}, persistence("update", err)
	}
	return l, nil
}

// Delete implements [lecture.Store].
func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM lectures WHERE id = $1`, id)
	if err != nil {
		return persistence("delete", err)
	}
	if tag.RowsAffected() == 0 {
		return lecture.ErrNotFound
	}
	return nil
}

// scanLecture scans one row selected with lectureColumns.
func scanLecture(row pgx.CollectableRow) (lecture.Lecture, error) {
	var l lecture.Lecture
	if err := row.Scan(
		&l.ID,
		&l.UserID,
		&l.Title,
		&l.Transcript,
		&l.Notes,
		&l.Summary,
		&l.CreatedAt,
		&l.UpdatedAt,
	); err != nil {
		return lecture.Lecture{}, err
	}
	if l.Transcript == nil {
		l.Transcript = []string{}
	}
	if l.Notes == nil {
		l.Notes = []lecture.Note{}
	}
	return l, nil
}

// nullableArray returns nil (SQL NULL) unless set, so COALESCE keeps the
// stored value.
func nullableArray(set bool, v []string) any {
	if !set {
		return nil
	}
	return v
}

func persistence(op string, err error) error {
	return fmt.Errorf("lecture postgres: %s: %w: %w", op, lecture.ErrPersistence, err)
}
