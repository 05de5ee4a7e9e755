package process

import (
	"context"
	"errors"
	"testing"

	"github.com/sf7293/task-assigner/internal/assignment"
	"github.com/sf7293/task-assigner/internal/domain"
	"github.com/sf7293/task-assigner/internal/errval"
	"github.com/sf7293/task-assigner/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	assigned   []int32
	recomputed []int32
	bulk       [][]int32
	err        error
}

func (f *fakeBackend) Assign(ctx context.Context, taskID int32) (*int32, error) {
	f.assigned = append(f.assigned, taskID)
	return nil, f.err
}

func (f *fakeBackend) RecomputeForCandidateChange(ctx context.Context, candidateID int32) (assignment.RecomputeSummary, error) {
	f.recomputed = append(f.recomputed, candidateID)
	return assignment.RecomputeSummary{CandidateID: candidateID}, f.err
}

func (f *fakeBackend) Run(ctx context.Context, taskIDs []int32) (scheduler.BulkSummary, error) {
	f.bulk = append(f.bulk, taskIDs)
	return scheduler.BulkSummary{}, f.err
}

func deps(f *fakeBackend) Dependencies {
	return Dependencies{Assigner: f, Recomputer: f, Bulk: f}
}

// TestRunner_RoutesEveryKind: each job kind reaches its own process
func TestRunner_RoutesEveryKind(t *testing.T) {
	backend := &fakeBackend{}
	runner := NewRunner(deps(backend))
	ctx := context.Background()

	require.NoError(t, runner.Execute(ctx, domain.NewJob(domain.AssignTaskJob, 4, domain.CriticalQueue)))
	require.NoError(t, runner.Execute(ctx, domain.NewJob(domain.RecomputeForUserJob, 9, domain.DefaultQueue)))
	bulk := domain.NewJob(domain.BulkRecomputeJob, 0, domain.BulkQueue)
	bulk.TaskIDs = []int32{1, 2}
	require.NoError(t, runner.Execute(ctx, bulk))

	assert.Equal(t, []int32{4}, backend.assigned)
	assert.Equal(t, []int32{9}, backend.recomputed)
	assert.Equal(t, [][]int32{{1, 2}}, backend.bulk)
}

// TestRunner_PropagatesProcessError: a failing process is reported so it can be retried
func TestRunner_PropagatesProcessError(t *testing.T) {
	backend := &fakeBackend{err: errors.New("database is unavailable")}
	err := NewRunner(deps(backend)).Execute(context.Background(), domain.NewJob(domain.AssignTaskJob, 4, domain.CriticalQueue))
	assert.EqualError(t, err, "database is unavailable")
}

// TestNewProcess_UnknownKind: unknown kinds are rejected with ErrInvalidJobKind
func TestNewProcess_UnknownKind(t *testing.T) {
	_, err := NewProcess("send_email", deps(&fakeBackend{}))
	assert.ErrorIs(t, err, errval.ErrInvalidJobKind)

	_, err = NewProcess(domain.BulkRecomputeJob, Dependencies{Assigner: &fakeBackend{}})
	assert.ErrorIs(t, err, errval.ErrInvalidJobKind)
}
