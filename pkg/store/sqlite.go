package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite stores entries in a SQLite database opened with the "sqlite" driver.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)
	s, err := NewSQLite(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func NewSQLite(db *sql.DB) (*SQLite, error) {
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS cache_entries (
        name TEXT PRIMARY KEY,
        payload BLOB NOT NULL,
        etag TEXT NOT NULL DEFAULT '',
        updated_at INTEGER NOT NULL
    );`
	if _, err := s.db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("migrate cache_entries: %w", err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, name string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload, etag, updated_at FROM cache_entries WHERE name = ?`, name)

	var e Entry
	var updated int64
	if err := row.Scan(&e.Payload, &e.ETag, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	e.UpdatedAt = time.UnixMilli(updated).UTC()
	return &e, nil
}

func (s *SQLite) Put(ctx context.Context, name string, e Entry) error {
	query := `
        INSERT INTO cache_entries (name, payload, etag, updated_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(name) DO UPDATE SET
            payload = excluded.payload,
            etag = excluded.etag,
            updated_at = excluded.updated_at
    `
	if _, err := s.db.ExecContext(ctx, query, name, e.Payload, e.ETag, e.UpdatedAt.UnixMilli()); err != nil {
		return fmt.Errorf("failed to persist cache entry: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
