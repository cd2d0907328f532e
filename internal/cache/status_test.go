package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photoenhance/internal/domain"
)

func newCache(t *testing.T) (*RedisStatusCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStatusCache(client, 2*time.Second), mr
}

func TestStatusCacheRoundTripAndInvalidate(t *testing.T) {
	ctx := context.Background()
	c, _ := newCache(t)

	_, ok, err := c.Get(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, &domain.Photo{ID: "p1", OwnerID: "u1", Status: domain.StatusProcessing, Attempts: 1}))
	got, ok, err := c.Get(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.StatusProcessing, got.Status)
	assert.Equal(t, "u1", got.OwnerID)

	require.NoError(t, c.Invalidate(ctx, "p1"))
	_, ok, err = c.Get(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStatusCacheExpires(t *testing.T) {
	ctx := context.Background()
	c, mr := newCache(t)
	require.NoError(t, c.Set(ctx, &domain.Photo{ID: "p1", Status: domain.StatusPending}))
	mr.FastForward(3 * time.Second)
	_, ok, err := c.Get(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStatusCacheDropsCorruptEntries(t *testing.T) {
	ctx := context.Background()
	c, mr := newCache(t)
	require.NoError(t, mr.Set(keyPrefix+"p1", "{not json"))
	_, ok, err := c.Get(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists(keyPrefix+"p1"))
}
