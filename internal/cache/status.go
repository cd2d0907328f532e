// Package cache holds short-lived copies of job records for status polling.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"photoenhance/internal/domain"
)

// StatusCache stores photo records keyed by id.
type StatusCache interface {
	Get(ctx context.Context, id string) (*domain.Photo, bool, error)
	Set(ctx context.Context, photo *domain.Photo) error
	Invalidate(ctx context.Context, id string) error
}

const keyPrefix = "photoenhance:status:"

// RedisStatusCache keeps JSON-encoded photos in Redis with a TTL.
type RedisStatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStatusCache wraps client. A non-positive ttl falls back to two seconds.
func NewRedisStatusCache(client *redis.Client, ttl time.Duration) *RedisStatusCache {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &RedisStatusCache{client: client, ttl: ttl}
}

func (c *RedisStatusCache) Get(ctx context.Context, id string) (*domain.Photo, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("status cache get: %w", err)
	}
	var p domain.Photo
	if err := json.Unmarshal(raw, &p); err != nil {
		// drop entries we cannot read
		_ = c.client.Del(ctx, keyPrefix+id).Err()
		return nil, false, nil
	}
	return &p, true, nil
}

func (c *RedisStatusCache) Set(ctx context.Context, photo *domain.Photo) error {
	if photo == nil || photo.ID == "" {
		return nil
	}
	raw, err := json.Marshal(photo)
	if err != nil {
		return fmt.Errorf("status cache encode: %w", err)
	}
	return c.client.Set(ctx, keyPrefix+photo.ID, raw, c.ttl).Err()
}

func (c *RedisStatusCache) Invalidate(ctx context.Context, id string) error {
	return c.client.Del(ctx, keyPrefix+id).Err()
}

// Noop never holds anything.
type Noop struct{}

func (Noop) Get(context.Context, string) (*domain.Photo, bool, error) { return nil, false, nil }
func (Noop) Set(context.Context, *domain.Photo) error                 { return nil }
func (Noop) Invalidate(context.Context, string) error                 { return nil }

var (
	_ StatusCache = (*RedisStatusCache)(nil)
	_ StatusCache = Noop{}
)
