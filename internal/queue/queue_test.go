package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisQueue(client, "")
}

func TestQueueIsFIFO(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t)
	require.NoError(t, q.Push(ctx, Trigger{PhotoID: "a", Service: "api"}))
	require.NoError(t, q.Push(ctx, Trigger{PhotoID: "b", Service: "api"}))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	first, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "a", first.PhotoID)
	assert.False(t, first.EnqueuedAt.IsZero())

	second, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "b", second.PhotoID)
}

func TestQueuePopTimesOutWhenEmpty(t *testing.T) {
	_, err := newQueue(t).Pop(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestQueueRejectsEmptyTrigger(t *testing.T) {
	assert.Error(t, newQueue(t).Push(context.Background(), Trigger{}))
}
