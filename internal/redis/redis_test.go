package redis

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sf7293/task-assigner/internal/errval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client, err := NewClient("redis://"+server.Addr()+"/0", time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, server
}

func TestClient_GetSetDel(t *testing.T) {
	client, server := newTestClient(t)
	ctx := context.Background()

	_, err := client.Get(ctx, "missing")
	assert.ErrorIs(t, err, errval.ErrNotFound)

	require.NoError(t, client.SetEX(ctx, "user:1:active_count", "3", 30*time.Second))
	val, err := client.Get(ctx, "user:1:active_count")
	require.NoError(t, err)
	assert.Equal(t, "3", val)

	server.FastForward(31 * time.Second)
	_, err = client.Get(ctx, "user:1:active_count")
	assert.ErrorIs(t, err, errval.ErrNotFound)

	require.NoError(t, client.SetEX(ctx, "a", "1", time.Minute))
	require.NoError(t, client.Del(ctx, "a", "b"))
	assert.False(t, server.Exists("a"))
	assert.NoError(t, client.Del(ctx))
}

func TestClient_DelPattern(t *testing.T) {
	client, server := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 250; i++ {
		require.NoError(t, server.Set("task:"+strconv.Itoa(i)+":detail", "x"))
	}
	require.NoError(t, server.Set("user:1:my_tasks", "[]"))

	deleted, err := client.DelPattern(ctx, "task:*")
	require.NoError(t, err)
	assert.Equal(t, 250, deleted)
	assert.True(t, server.Exists("user:1:my_tasks"))
}

func TestClient_Lock(t *testing.T) {
	client, server := newTestClient(t)
	ctx := context.Background()

	locked, err := client.Lock(ctx, "lock:sweep", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, locked)

	locked, err = client.Lock(ctx, "lock:sweep", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, locked)

	require.NoError(t, client.Unlock(ctx, "lock:sweep"))
	locked, err = client.Lock(ctx, "lock:sweep", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, locked)

	server.FastForward(11 * time.Second)
	assert.False(t, server.Exists("lock:sweep"))
}

func TestClient_FailsWhenRedisIsDown(t *testing.T) {
	client, server := newTestClient(t)
	server.Close()

	_, err := client.Get(context.Background(), "any")
	require.Error(t, err)
	assert.NotErrorIs(t, err, errval.ErrNotFound)
	assert.Error(t, client.Ping(context.Background()))
}

func TestFixedWindowLimiter(t *testing.T) {
	client, _ := newTestClient(t)
	limiter := NewFixedWindowLimiter(client, 3, time.Minute)
	base := time.Date(2024, 5, 1, 10, 0, 15, 0, time.UTC)
	limiter.now = func() time.Time { return base }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := limiter.Allow(ctx, "bulk_recompute")
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, retryAfter, err := limiter.Allow(ctx, "bulk_recompute")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 45*time.Second, retryAfter)

	limiter.now = func() time.Time { return base.Add(time.Minute) }
	allowed, _, err = limiter.Allow(ctx, "bulk_recompute")
	require.NoError(t, err)
	assert.True(t, allowed)
}
