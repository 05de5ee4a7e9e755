package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sf7293/task-assigner/internal/assignment"
	"github.com/sf7293/task-assigner/internal/cache"
	"github.com/sf7293/task-assigner/internal/domain"
	"github.com/sf7293/task-assigner/internal/errval"
	"github.com/sf7293/task-assigner/internal/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLimiter struct {
	allowed    bool
	retryAfter time.Duration
	err        error
	calls      int
}

func (l *stubLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	l.calls++
	return l.allowed, l.retryAfter, l.err
}

func bulkFixture(tasks int) (*memstore.Store, *BulkRecomputer) {
	store := memstore.New()
	for id := int32(1); id <= 3; id++ {
		store.AddCandidate(domain.Candidate{ID: id, Department: "Finance", IsActive: true})
	}
	for i := 0; i < tasks; i++ {
		store.AddTask(domain.Task{AssignmentRules: domain.AssignmentRules{"department": "Finance"}, IsActive: true})
	}
	o := assignment.NewOrchestrator(store, nil, cache.New(nil, cache.DefaultTTLConfig()))
	return store, NewBulkRecomputer(store, o, &stubLimiter{allowed: true}, DefaultChunkSize)
}

func TestBulkRun_ProcessesUnassignedTasksInChunks(t *testing.T) {
	ctx := context.Background()
	store, bulk := bulkFixture(120)

	summary, err := bulk.Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{50, 50, 20}, summary.Chunks)
	assert.Equal(t, 120, summary.Total)
	assert.Equal(t, 120, summary.Assigned)
	assert.Equal(t, 0, summary.StillUnassigned)
	assert.Equal(t, 0, summary.Skipped)

	for id := int32(1); id <= 3; id++ {
		count, err := store.CountActiveTasks(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 40, count, "candidate %d", id)
	}
}

func TestBulkRun_ExplicitTaskIDs(t *testing.T) {
	ctx := context.Background()
	store, _ := bulkFixture(7)
	o := assignment.NewOrchestrator(store, nil, cache.New(nil, cache.DefaultTTLConfig()))
	bulk := NewBulkRecomputer(store, o, nil, 3)
	require.NoError(t, store.SoftDeleteTask(ctx, 2))

	summary, err := bulk.Run(ctx, []int32{1, 2, 3, 4, 5, 999})
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, []int{2, 2}, summary.Chunks)

	untouched, _ := store.Task(6)
	assert.Nil(t, untouched.AssignedTo)
}

func TestBulkRun_RateLimited(t *testing.T) {
	store, _ := bulkFixture(5)
	o := assignment.NewOrchestrator(store, nil, cache.New(nil, cache.DefaultTTLConfig()))
	bulk := NewBulkRecomputer(store, o, &stubLimiter{allowed: false, retryAfter: 45 * time.Second}, DefaultChunkSize)

	summary, err := bulk.Run(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errval.ErrRateLimited)
	var retryAfter *RetryAfterError
	require.ErrorAs(t, err, &retryAfter)
	assert.Equal(t, 45*time.Second, retryAfter.After)
	assert.Equal(t, 0, summary.Total)

	task, _ := store.Task(1)
	assert.Nil(t, task.AssignedTo)
}

func TestBulkRun_ProceedsWhenLimiterIsUnavailable(t *testing.T) {
	store, _ := bulkFixture(5)
	o := assignment.NewOrchestrator(store, nil, cache.New(nil, cache.DefaultTTLConfig()))
	limiter := &stubLimiter{err: errors.New("redis: connection refused")}
	bulk := NewBulkRecomputer(store, o, limiter, DefaultChunkSize)

	summary, err := bulk.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, limiter.calls)
	assert.Equal(t, 5, summary.Assigned)
}

func TestBulkRun_StopsAtFailingChunk(t *testing.T) {
	store, bulk := bulkFixture(10)
	store.ApplyErr = errors.New("deadlock detected")

	summary, err := bulk.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Empty(t, summary.Chunks)
}
