package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sf7293/task-assigner/internal/domain"
	"github.com/sf7293/task-assigner/internal/errval"
	"github.com/sf7293/task-assigner/internal/rules"
)

const unassignedPageSize = 50

type RecomputeSummary struct {
	CandidateID             int32 `json:"user_id"`
	Evaluated               int   `json:"tasks_evaluated"`
	AssignedToThisCandidate int   `json:"assigned_to_this_user"`
	AssignedToOthers        int   `json:"assigned_to_others"`
	StillUnassigned         int   `json:"still_unassigned"`
}

// RecomputeForCandidateChange re-assigns every active unassigned task after a candidate's profile
// changed. A missing candidate is a no-op.
func (o *Orchestrator) RecomputeForCandidateChange(ctx context.Context, candidateID int32) (RecomputeSummary, error) {
	summary := RecomputeSummary{CandidateID: candidateID}

	if _, err := o.candidates.GetCandidateByID(ctx, candidateID); err != nil {
		if errors.Is(err, errval.ErrNotFound) {
			slog.WarnContext(ctx, "Candidate not found, skipping recompute", "candidate_id", candidateID)
			return summary, nil
		}

		return summary, fmt.Errorf("get candidate %d: %w", candidateID, err)
	}

	o.cache.InvalidateUser(ctx, candidateID)

	var afterID int32
	for {
		tasks, err := o.tasks.GetUnassignedTasks(ctx, afterID, unassignedPageSize)
		if err != nil {
			return summary, fmt.Errorf("get unassigned tasks: %w", err)
		}
		if len(tasks) == 0 {
			break
		}

		for _, task := range tasks {
			winner, err := o.AssignTask(ctx, task)
			if err != nil {
				return summary, err
			}

			summary.Evaluated++
			switch {
			case winner == nil:
				summary.StillUnassigned++
			case *winner == candidateID:
				summary.AssignedToThisCandidate++
			default:
				summary.AssignedToOthers++
			}
		}

		afterID = tasks[len(tasks)-1].ID
	}

	slog.InfoContext(ctx, "Candidate profile recompute finished",
		"candidate_id", candidateID,
		"tasks_evaluated", summary.Evaluated,
		"assigned_to_this_user", summary.AssignedToThisCandidate,
		"assigned_to_others", summary.AssignedToOthers,
		"still_unassigned", summary.StillUnassigned,
	)
	return summary, nil
}

type ChunkResult struct {
	Assigned        int
	StillUnassigned int
	Skipped         int
}

// AssignChunk recomputes a batch of tasks and commits the resulting changes in one transaction.
// Tasks planned earlier in the chunk count toward the load seen by later ones. Rows that changed
// concurrently are skipped and reported in Skipped.
func (o *Orchestrator) AssignChunk(ctx context.Context, tasks []*domain.Task) (ChunkResult, error) {
	result := ChunkResult{}
	base := rules.Memoize(o.ActiveTaskCount)
	overlay := map[int32]int{}
	withOverlay := func(ctx context.Context, candidateID int32) (int, error) {
		count, err := base(ctx, candidateID)
		if err != nil {
			return 0, err
		}
		return count + overlay[candidateID], nil
	}

	winners := make(map[int32]*int32, len(tasks))
	changes := []domain.AssignmentChange{}
	for _, task := range tasks {
		ranked, err := o.rank(ctx, task, o.counterFor(task, withOverlay))
		if err != nil {
			return result, fmt.Errorf("rank candidates for task %d: %w", task.ID, err)
		}
		winner := rules.Winner(ranked)
		winners[task.ID] = winner

		if domain.SameAssignee(task.AssignedTo, winner) {
			continue
		}

		changes = append(changes, domain.AssignmentChange{
			TaskID:      task.ID,
			Version:     task.Version,
			OldAssignee: task.AssignedTo,
			NewAssignee: winner,
		})
		if task.CountsTowardLoad() {
			if task.AssignedTo != nil {
				overlay[*task.AssignedTo]--
			}
			if winner != nil {
				overlay[*winner]++
			}
		}
	}

	applied := []domain.AssignmentChange{}
	if len(changes) > 0 {
		var err error
		applied, err = o.tasks.ApplyAssignmentsInTx(ctx, changes)
		if err != nil {
			return result, fmt.Errorf("commit assignment chunk: %w", err)
		}
	}

	skipped := map[int32]bool{}
	for _, change := range changes {
		skipped[change.TaskID] = true
	}
	for _, change := range applied {
		delete(skipped, change.TaskID)
	}

	for _, task := range tasks {
		if skipped[task.ID] {
			result.Skipped++
			continue
		}

		winner := winners[task.ID]
		o.cache.InvalidateAssignment(ctx, task.AssignedTo, winner, task.ID)
		if winner == nil {
			result.StillUnassigned++
		} else {
			result.Assigned++
		}
	}

	return result, nil
}
