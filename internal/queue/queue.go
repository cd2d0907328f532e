// Package queue carries enhancement triggers between the API and workers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Trigger asks a worker to run enhancement for one photo.
type Trigger struct {
	PhotoID    string    `json:"photoId"`
	Service    string    `json:"service"`
	OnBehalfOf string    `json:"onBehalfOf,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// ErrEmpty is returned by Pop when nothing arrived before the timeout.
var ErrEmpty = errors.New("queue: empty")

// DefaultKey is the Redis list used for triggers.
const DefaultKey = "photoenhance:triggers"

// RedisQueue is a FIFO list in Redis: LPUSH to enqueue, BRPOP to consume.
type RedisQueue struct {
	client *redis.Client
	key    string
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	return &RedisQueue{client: client, key: key}
}

// Push appends a trigger.
func (q *RedisQueue) Push(ctx context.Context, t Trigger) error {
	if t.PhotoID == "" {
		return fmt.Errorf("queue: photo id is required")
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("queue encode: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, raw).Err(); err != nil {
		return fmt.Errorf("queue push: %w", err)
	}
	return nil
}

// Pop blocks up to timeout for the oldest trigger.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (*Trigger, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("queue pop: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("queue pop: unexpected reply of %d items", len(res))
	}
	var t Trigger
	if err := json.Unmarshal([]byte(res[1]), &t); err != nil {
		return nil, fmt.Errorf("queue decode: %w", err)
	}
	return &t, nil
}

// Len reports the number of waiting triggers.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
