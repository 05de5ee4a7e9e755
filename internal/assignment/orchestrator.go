package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sf7293/task-assigner/internal/cache"
	"github.com/sf7293/task-assigner/internal/domain"
	"github.com/sf7293/task-assigner/internal/errval"
	"github.com/sf7293/task-assigner/internal/rules"
)

const defaultMaxConflictRetries = 3

type Orchestrator struct {
	candidates         domain.CandidateStore
	tasks              domain.TaskStore
	evaluator          *rules.Evaluator
	cache              *cache.Cache
	maxConflictRetries int
}

func NewOrchestrator(storage domain.Storage, evaluator *rules.Evaluator, c *cache.Cache) *Orchestrator {
	if evaluator == nil {
		evaluator = rules.NewEvaluator(storage, rules.DefaultRegistry())
	}

	return &Orchestrator{
		candidates:         storage,
		tasks:              storage,
		evaluator:          evaluator,
		cache:              c,
		maxConflictRetries: defaultMaxConflictRetries,
	}
}

// ActiveTaskCount returns the number of non-done active tasks assigned to the candidate.
func (o *Orchestrator) ActiveTaskCount(ctx context.Context, candidateID int32) (int, error) {
	key := cache.KeyActiveCount(candidateID)
	var count int
	if o.cache.Get(ctx, key, &count) {
		return count, nil
	}

	count, err := o.candidates.CountActiveTasks(ctx, candidateID)
	if err != nil {
		return 0, fmt.Errorf("count active tasks of candidate %d: %w", candidateID, err)
	}

	o.cache.SetWithTTL(ctx, key, count, o.cache.TTL().ActiveCount)
	return count, nil
}

// counterFor returns the active-task-count as seen by task: the task's own load on its current
// assignee is left out, so recomputing an assignment never penalises the candidate already holding it.
func (o *Orchestrator) counterFor(task *domain.Task, base rules.ActiveCounter) rules.ActiveCounter {
	return func(ctx context.Context, candidateID int32) (int, error) {
		count, err := base(ctx, candidateID)
		if err != nil {
			return 0, err
		}

		if task.AssignedTo != nil && *task.AssignedTo == candidateID && task.CountsTowardLoad() && count > 0 {
			count--
		}

		return count, nil
	}
}

func (o *Orchestrator) rank(ctx context.Context, task *domain.Task, counter rules.ActiveCounter) ([]rules.Ranked, error) {
	eligible, err := o.evaluator.FindEligible(ctx, task.AssignmentRules, counter)
	if err != nil {
		return nil, err
	}

	return rules.Rank(ctx, eligible, counter)
}

// Assign recomputes the assignee of the task with the given id. A missing or deleted task is a no-op.
func (o *Orchestrator) Assign(ctx context.Context, taskID int32) (*int32, error) {
	task, err := o.tasks.GetActiveTaskByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, errval.ErrNotFound) {
			slog.WarnContext(ctx, "Task not found for assignment, nothing to do", "task_id", taskID)
			return nil, nil
		}

		return nil, fmt.Errorf("get task %d: %w", taskID, err)
	}

	return o.AssignTask(ctx, task)
}

// AssignTask recomputes the assignee of task from its current rules and the current candidate pool.
// The write is a compare-and-swap on the task version; on a lost race the task is reloaded and
// recomputed, up to maxConflictRetries times.
func (o *Orchestrator) AssignTask(ctx context.Context, task *domain.Task) (*int32, error) {
	for attempt := 0; ; attempt++ {
		slog.InfoContext(ctx, "Evaluating task assignment", "task_id", task.ID, "rules", task.AssignmentRules, "attempt", attempt+1)

		ranked, err := o.rank(ctx, task, o.counterFor(task, rules.Memoize(o.ActiveTaskCount)))
		if err != nil {
			return nil, fmt.Errorf("rank candidates for task %d: %w", task.ID, err)
		}
		winner := rules.Winner(ranked)
		oldAssignee := task.AssignedTo

		if !domain.SameAssignee(oldAssignee, winner) {
			err = o.tasks.ApplyAssignment(ctx, domain.AssignmentChange{
				TaskID:      task.ID,
				Version:     task.Version,
				OldAssignee: oldAssignee,
				NewAssignee: winner,
			})
			if errors.Is(err, errval.ErrConflict) {
				if attempt >= o.maxConflictRetries {
					slog.ErrorContext(ctx, "Task assignment kept losing concurrent updates, giving up", "task_id", task.ID, "attempts", attempt+1)
					return nil, errval.ErrConflict
				}

				slog.InfoContext(ctx, "Task changed concurrently, recomputing assignment", "task_id", task.ID)
				reloaded, err := o.tasks.GetActiveTaskByID(ctx, task.ID)
				if errors.Is(err, errval.ErrNotFound) {
					o.cache.InvalidateAssignment(ctx, oldAssignee, nil, task.ID)
					return nil, nil
				}
				if err != nil {
					return nil, fmt.Errorf("reload task after conflict: %w", err)
				}
				task = reloaded
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("persist assignment of task %d: %w", task.ID, err)
			}
		}

		o.cache.InvalidateAssignment(ctx, oldAssignee, winner, task.ID)

		if winner == nil {
			slog.WarnContext(ctx, "No eligible candidates, task left unassigned until the next sweep", "task_id", task.ID, "title", task.Title, "rules", task.AssignmentRules)
			return nil, nil
		}

		best := ranked[0]
		slog.InfoContext(ctx, "Task assigned",
			"task_id", task.ID,
			"candidate_id", best.Candidate.ID,
			"department", best.Candidate.Department,
			"experience_years", best.Candidate.ExperienceYears,
			"active_tasks", best.ActiveTaskCount,
			"eligible_pool", len(ranked),
		)
		return winner, nil
	}
}

// FindEligible returns the ranked eligibility preview of a task. ActiveTaskCount is the load the
// ranker used, which leaves out the task itself.
func (o *Orchestrator) FindEligible(ctx context.Context, taskID int32) ([]domain.EligibleCandidate, error) {
	key := cache.KeyEligibleCandidates(taskID)
	cached := []domain.EligibleCandidate{}
	if o.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	task, err := o.tasks.GetActiveTaskByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	ranked, err := o.rank(ctx, task, o.counterFor(task, rules.Memoize(o.ActiveTaskCount)))
	if err != nil {
		return nil, err
	}

	result := make([]domain.EligibleCandidate, 0, len(ranked))
	for _, r := range ranked {
		result = append(result, domain.EligibleCandidate{
			Candidate:       *r.Candidate,
			ActiveTaskCount: r.ActiveTaskCount,
		})
	}

	o.cache.SetWithTTL(ctx, key, result, o.cache.TTL().EligibleCandidates)
	return result, nil
}

// PendingTasks returns the candidate's assigned tasks that are not done yet.
func (o *Orchestrator) PendingTasks(ctx context.Context, candidateID int32) ([]*domain.Task, error) {
	key := cache.KeyPendingTasks(candidateID)
	cached := []*domain.Task{}
	if o.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	tasks, err := o.tasks.GetPendingTasksByAssignee(ctx, candidateID)
	if err != nil {
		return nil, err
	}

	o.cache.SetWithTTL(ctx, key, tasks, o.cache.TTL().PendingTasks)
	return tasks, nil
}

func (o *Orchestrator) TaskDetail(ctx context.Context, taskID int32) (*domain.Task, error) {
	key := cache.KeyTaskDetail(taskID)
	cached := &domain.Task{}
	if o.cache.Get(ctx, key, cached) {
		return cached, nil
	}

	task, err := o.tasks.GetActiveTaskByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	o.cache.SetWithTTL(ctx, key, task, o.cache.TTL().TaskDetail)
	return task, nil
}
