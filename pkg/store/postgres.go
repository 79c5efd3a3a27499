package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	name TEXT PRIMARY KEY,
	payload BYTEA NOT NULL,
	etag TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL
);`

// Postgres stores entries in PostgreSQL.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres connects with the lib/pq driver and creates the table.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s := NewPostgres(db)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Init creates the table if it does not exist.
func (s *Postgres) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, pgSchema); err != nil {
		return fmt.Errorf("failed to create cache_entries: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, name string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT payload, etag, updated_at FROM cache_entries WHERE name = $1", name)

	var e Entry
	err := row.Scan(&e.Payload, &e.ETag, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return &e, nil
}

func (s *Postgres) Put(ctx context.Context, name string, e Entry) error {
	query := `
		INSERT INTO cache_entries (name, payload, etag, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET
			payload = EXCLUDED.payload,
			etag = EXCLUDED.etag,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, name, e.Payload, e.ETag, e.UpdatedAt); err != nil {
		return fmt.Errorf("failed to persist cache entry: %w", err)
	}
	return nil
}

func (s *Postgres) Close() error {
	return s.db.Close()
}
