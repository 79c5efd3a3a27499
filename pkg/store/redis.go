package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores each entry as a hash under Prefix+name.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "hcert:cache:"
	}
	return &Redis{client: client, prefix: prefix}
}

// OpenRedis connects using a redis:// URL.
func OpenRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedis(client, ""), nil
}

func (s *Redis) Get(ctx context.Context, name string) (*Entry, error) {
	vals, err := s.client.HGetAll(ctx, s.prefix+name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	payload, ok := vals["payload"]
	if !ok {
		return nil, ErrNotFound
	}
	updated, _ := strconv.ParseInt(vals["updated_at"], 10, 64)
	return &Entry{
		Payload:   []byte(payload),
		ETag:      vals["etag"],
		UpdatedAt: time.UnixMilli(updated).UTC(),
	}, nil
}

// Put writes all fields in one MULTI/EXEC so readers never see a mixed entry.
func (s *Redis) Put(ctx context.Context, name string, e Entry) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.prefix+name,
			"payload", e.Payload,
			"etag", e.ETag,
			"updated_at", e.UpdatedAt.UnixMilli(),
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to persist cache entry: %w", err)
	}
	return nil
}

func (s *Redis) Close() error {
	return s.client.Close()
}
