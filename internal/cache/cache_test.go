package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sf7293/task-assigner/internal/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenBackend struct{}

var errBackendDown = errors.New("dial tcp: connection refused")

func (brokenBackend) Get(ctx context.Context, key string) (string, error) {
	return "", errBackendDown
}

func (brokenBackend) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	return errBackendDown
}

func (brokenBackend) Del(ctx context.Context, keys ...string) error {
	return errBackendDown
}

func (brokenBackend) DelPattern(ctx context.Context, pattern string) (int, error) {
	return 0, errBackendDown
}

func newRedisCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client, err := redis.NewClient("redis://"+server.Addr()+"/0", time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return New(client, DefaultTTLConfig()), server
}

func TestCache_BackendFailuresAreMissesAndNoOps(t *testing.T) {
	c := New(brokenBackend{}, DefaultTTLConfig())
	ctx := context.Background()

	var count int
	assert.False(t, c.Get(ctx, KeyActiveCount(1), &count))
	assert.NotPanics(t, func() {
		c.SetWithTTL(ctx, KeyActiveCount(1), 3, time.Minute)
		c.Delete(ctx, KeyActiveCount(1))
		c.DeletePattern(ctx, "user:*")
		c.InvalidateAssignment(ctx, nil, nil, 1)
	})
}

func TestCache_NilBackendDisablesCaching(t *testing.T) {
	c := New(nil, DefaultTTLConfig())
	var v string
	c.SetWithTTL(context.Background(), "k", "v", time.Minute)
	assert.False(t, c.Get(context.Background(), "k", &v))
}

func TestCache_RoundTripAndTTL(t *testing.T) {
	c, server := newRedisCache(t)
	ctx := context.Background()

	c.SetWithTTL(ctx, KeyActiveCount(7), 4, c.TTL().ActiveCount)
	var count int
	require.True(t, c.Get(ctx, KeyActiveCount(7), &count))
	assert.Equal(t, 4, count)

	server.FastForward(31 * time.Second)
	assert.False(t, c.Get(ctx, KeyActiveCount(7), &count))
}

func TestCache_UndecodableValueIsAMiss(t *testing.T) {
	c, server := newRedisCache(t)
	require.NoError(t, server.Set(KeyPendingTasks(1), "not json"))

	var tasks []int
	assert.False(t, c.Get(context.Background(), KeyPendingTasks(1), &tasks))
}

func TestCache_InvalidationHelpers(t *testing.T) {
	c, server := newRedisCache(t)
	ctx := context.Background()
	seed := func(keys ...string) {
		for _, k := range keys {
			require.NoError(t, server.Set(k, "1"))
		}
	}

	seed(UserKeys(1)...)
	seed(UserKeys(2)...)
	seed(TaskKeys(10)...)

	c.InvalidateUser(ctx, 1)
	assert.False(t, server.Exists(KeyPendingTasks(1)))
	assert.False(t, server.Exists(KeyActiveCount(1)))
	assert.True(t, server.Exists(KeyPendingTasks(2)))

	c.InvalidateTask(ctx, 10)
	assert.False(t, server.Exists(KeyTaskDetail(10)))
	assert.False(t, server.Exists(KeyEligibleCandidates(10)))

	seed(UserKeys(1)...)
	seed(TaskKeys(10)...)
	oldAssignee, newAssignee := int32(1), int32(2)
	c.InvalidateAssignment(ctx, &oldAssignee, &newAssignee, 10)
	for _, k := range append(UserKeys(1), append(UserKeys(2), TaskKeys(10)...)...) {
		assert.False(t, server.Exists(k), k)
	}
}

func TestCache_DeletePattern(t *testing.T) {
	c, server := newRedisCache(t)
	require.NoError(t, server.Set(KeyTaskDetail(1), "1"))
	require.NoError(t, server.Set(KeyTaskDetail(2), "1"))
	require.NoError(t, server.Set(KeyActiveCount(1), "1"))

	c.DeletePattern(context.Background(), "task:*")
	assert.False(t, server.Exists(KeyTaskDetail(1)))
	assert.False(t, server.Exists(KeyTaskDetail(2)))
	assert.True(t, server.Exists(KeyActiveCount(1)))
}

func TestAssignmentKeys(t *testing.T) {
	one, two := int32(1), int32(2)

	assert.Equal(t, []string{"task:5:detail", "task:5:eligible_users"}, AssignmentKeys(nil, nil, 5))
	assert.Equal(t, []string{"task:5:detail", "task:5:eligible_users", "user:2:my_tasks", "user:2:active_count"}, AssignmentKeys(nil, &two, 5))
	assert.Equal(t, []string{"task:5:detail", "task:5:eligible_users", "user:1:my_tasks", "user:1:active_count"}, AssignmentKeys(&one, &one, 5))
	assert.Len(t, AssignmentKeys(&one, &two, 5), 6)
}
