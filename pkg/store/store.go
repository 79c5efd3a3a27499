// Package store persists cache entries keyed by logical cache name.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned by Get when no entry exists for the name.
var ErrNotFound = errors.New("store: entry not found")

// Entry is the persisted form of a cache: the signed, compressed package as
// received and the ETag it was served with.
type Entry struct {
	Payload   []byte
	ETag      string
	UpdatedAt time.Time
}

// Store persists entries. Put replaces the entry atomically.
type Store interface {
	Get(ctx context.Context, name string) (*Entry, error)
	Put(ctx context.Context, name string, e Entry) error
}

// Memory is an in-process Store.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

func (m *Memory) Get(_ context.Context, name string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[name]
	if !ok {
		return nil, ErrNotFound
	}
	e.Payload = append([]byte(nil), e.Payload...)
	return &e, nil
}

func (m *Memory) Put(_ context.Context, name string, e Entry) error {
	e.Payload = append([]byte(nil), e.Payload...)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[name] = e
	return nil
}

// Open builds a Store from a backend name and DSN: "memory", "sqlite"
// (DSN is a file path), "postgres" (lib/pq DSN) or "redis" (redis:// URL).
func Open(ctx context.Context, backend, dsn string) (Store, error) {
	switch backend {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		if dsn == "" {
			dsn = ":memory:"
		}
		return OpenSQLite(dsn)
	case "postgres":
		return OpenPostgres(ctx, dsn)
	case "redis":
		return OpenRedis(ctx, dsn)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", backend)
	}
}
