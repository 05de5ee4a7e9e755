package process

import (
	"context"

	"github.com/sf7293/task-assigner/internal/domain"
)

type RecomputeForUserProcess struct {
	recomputer CandidateRecomputer
}

func NewRecomputeForUserProcess(recomputer CandidateRecomputer) RecomputeForUserProcess {
	return RecomputeForUserProcess{recomputer: recomputer}
}

func (p RecomputeForUserProcess) Execute(ctx context.Context, job domain.Job) error {
	_, err := p.recomputer.RecomputeForCandidateChange(ctx, job.TargetID)
	return err
}

type BulkRecomputeProcess struct {
	bulk BulkRunner
}

func NewBulkRecomputeProcess(bulk BulkRunner) BulkRecomputeProcess {
	return BulkRecomputeProcess{bulk: bulk}
}

func (p BulkRecomputeProcess) Execute(ctx context.Context, job domain.Job) error {
	_, err := p.bulk.Run(ctx, job.TaskIDs)
	return err
}
