package process

import (
	"context"
	"log/slog"

	"github.com/sf7293/task-assigner/internal/domain"
)

type AssignTaskProcess struct {
	assigner Assigner
}

func NewAssignTaskProcess(assigner Assigner) AssignTaskProcess {
	return AssignTaskProcess{assigner: assigner}
}

func (p AssignTaskProcess) Execute(ctx context.Context, job domain.Job) error {
	winner, err := p.assigner.Assign(ctx, job.TargetID)
	if err != nil {
		return err
	}

	if winner == nil {
		slog.InfoContext(ctx, "Task left unassigned", "task_id", job.TargetID)
	}
	return nil
}
