// Package process maps a job kind to the work it performs. The same processes back the queue
// workers and the synchronous fallback of the dispatch coordinator.
package process

import (
	"context"
	"fmt"

	"github.com/sf7293/task-assigner/internal/assignment"
	"github.com/sf7293/task-assigner/internal/domain"
	"github.com/sf7293/task-assigner/internal/errval"
	"github.com/sf7293/task-assigner/internal/scheduler"
)

type Process interface {
	Execute(ctx context.Context, job domain.Job) error
}

type Assigner interface {
	Assign(ctx context.Context, taskID int32) (*int32, error)
}

type CandidateRecomputer interface {
	RecomputeForCandidateChange(ctx context.Context, candidateID int32) (assignment.RecomputeSummary, error)
}

type BulkRunner interface {
	Run(ctx context.Context, taskIDs []int32) (scheduler.BulkSummary, error)
}

type Dependencies struct {
	Assigner   Assigner
	Recomputer CandidateRecomputer
	Bulk       BulkRunner
}

func NewProcess(kind domain.JobKind, deps Dependencies) (Process, error) {
	switch kind {
	case domain.AssignTaskJob:
		return NewAssignTaskProcess(deps.Assigner), nil
	case domain.RecomputeForUserJob:
		return NewRecomputeForUserProcess(deps.Recomputer), nil
	case domain.BulkRecomputeJob:
		if deps.Bulk == nil {
			return nil, fmt.Errorf("%w: %s is not served here", errval.ErrInvalidJobKind, kind)
		}
		return NewBulkRecomputeProcess(deps.Bulk), nil
	default:
		return nil, fmt.Errorf("%w: %q", errval.ErrInvalidJobKind, kind)
	}
}

// Runner executes any job by building the process of its kind.
type Runner struct {
	deps Dependencies
}

func NewRunner(deps Dependencies) *Runner {
	return &Runner{deps: deps}
}

func (r *Runner) Execute(ctx context.Context, job domain.Job) error {
	p, err := NewProcess(job.Kind, r.deps)
	if err != nil {
		return err
	}

	return p.Execute(ctx, job)
}
