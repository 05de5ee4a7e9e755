package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sf7293/task-assigner/internal/assignment"
	"github.com/sf7293/task-assigner/internal/cache"
	"github.com/sf7293/task-assigner/internal/dispatch"
	"github.com/sf7293/task-assigner/internal/domain"
	"github.com/sf7293/task-assigner/internal/errval"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, kind domain.JobKind, targetID int32, class domain.QueueClass) (dispatch.Outcome, error)
	DispatchBulk(ctx context.Context, taskIDs []int32) (dispatch.Outcome, error)
}

type ServerLogic struct {
	storage      domain.Storage
	orchestrator *assignment.Orchestrator
	cache        *cache.Cache
	dispatcher   Dispatcher
}

func NewServerLogic(storage domain.Storage, orchestrator *assignment.Orchestrator, c *cache.Cache, dispatcher Dispatcher) *ServerLogic {
	return &ServerLogic{
		storage:      storage,
		orchestrator: orchestrator,
		cache:        c,
		dispatcher:   dispatcher,
	}
}

// TriggerResult is what a write endpoint reports about the assignment work it started.
type TriggerResult struct {
	Outcome dispatch.Outcome `json:"assignment"`
	Error   string           `json:"assignment_error,omitempty"`
}

func (s *ServerLogic) trigger(ctx context.Context, kind domain.JobKind, targetID int32, class domain.QueueClass) TriggerResult {
	outcome, err := s.dispatcher.Dispatch(ctx, kind, targetID, class)
	if err != nil {
		// the periodic sweep picks the work up again
		slog.ErrorContext(ctx, "Assignment work failed after the write was committed", "kind", kind, "target_id", targetID, "error", err.Error())
		return TriggerResult{Outcome: outcome, Error: errval.ErrInternal.Error()}
	}

	return TriggerResult{Outcome: outcome}
}

// reload returns the latest state of a task after inline work may have changed it.
func (s *ServerLogic) reload(ctx context.Context, task *domain.Task) *domain.Task {
	latest, err := s.storage.GetActiveTaskByID(ctx, task.ID)
	if err != nil {
		return task
	}
	return latest
}

func (s *ServerLogic) AddTask(ctx context.Context, req domain.RouterRequestAddTask) (*domain.Task, TriggerResult, error) {
	taskPriority := string(domain.Medium)
	if req.TaskPriority != nil {
		taskPriority = *req.TaskPriority
	}

	rules := req.AssignmentRules
	if rules == nil {
		rules = domain.AssignmentRules{}
	}

	task, err := s.storage.InsertTask(ctx, req.Title, req.Description, string(domain.Todo), taskPriority, rules)
	if err != nil {
		slog.ErrorContext(ctx, "error occurred while calling storage.InsertTask", "error", err)
		return nil, TriggerResult{}, errval.ErrInternal
	}

	result := s.trigger(ctx, domain.AssignTaskJob, task.ID, domain.CriticalQueue)
	return s.reload(ctx, task), result, nil
}

func (s *ServerLogic) GetTask(ctx context.Context, taskID int32) (*domain.Task, error) {
	task, err := s.orchestrator.TaskDetail(ctx, taskID)
	if err != nil {
		return nil, storageError(ctx, "orchestrator.TaskDetail", err)
	}

	return task, nil
}

// UpdateRules replaces the rules of a task and recomputes its assignment.
func (s *ServerLogic) UpdateRules(ctx context.Context, taskID int32, rules domain.AssignmentRules) (*domain.Task, TriggerResult, error) {
	if rules == nil {
		rules = domain.AssignmentRules{}
	}

	task, err := s.storage.UpdateAssignmentRules(ctx, taskID, rules)
	if err != nil {
		return nil, TriggerResult{}, storageError(ctx, "storage.UpdateAssignmentRules", err)
	}

	s.cache.InvalidateTask(ctx, taskID)
	if task.AssignedTo != nil {
		s.cache.InvalidateUser(ctx, *task.AssignedTo)
	}

	result := s.trigger(ctx, domain.AssignTaskJob, taskID, domain.CriticalQueue)
	return s.reload(ctx, task), result, nil
}

func (s *ServerLogic) UpdateStatus(ctx context.Context, taskID int32, newStatus string) (*domain.Task, error) {
	task, err := s.storage.GetActiveTaskByID(ctx, taskID)
	if err != nil {
		return nil, storageError(ctx, "storage.GetActiveTaskByID", err)
	}

	if !domain.CanTransition(domain.TaskStatus(task.Status), domain.TaskStatus(newStatus)) {
		slog.InfoContext(ctx, "Rejected status transition", "task_id", taskID, "from", task.Status, "to", newStatus)
		return nil, fmt.Errorf("%w: %s -> %s, allowed: %v", errval.ErrInvalidTransition, task.Status, newStatus, domain.AllowedTransitions(domain.TaskStatus(task.Status)))
	}

	if err := s.storage.UpdateTaskStatus(ctx, taskID, newStatus); err != nil {
		return nil, storageError(ctx, "storage.UpdateTaskStatus", err)
	}

	s.cache.InvalidateTask(ctx, taskID)
	if task.AssignedTo != nil {
		s.cache.InvalidateUser(ctx, *task.AssignedTo)
	}

	return s.reload(ctx, task), nil
}

func (s *ServerLogic) DeleteTask(ctx context.Context, taskID int32) error {
	task, err := s.storage.GetActiveTaskByID(ctx, taskID)
	if err != nil {
		return storageError(ctx, "storage.GetActiveTaskByID", err)
	}

	if err := s.storage.SoftDeleteTask(ctx, taskID); err != nil {
		return storageError(ctx, "storage.SoftDeleteTask", err)
	}

	s.cache.InvalidateAssignment(ctx, task.AssignedTo, nil, taskID)
	return nil
}

// AssignNow runs the assignment of a task inside the request.
func (s *ServerLogic) AssignNow(ctx context.Context, taskID int32) (*domain.Task, error) {
	task, err := s.storage.GetActiveTaskByID(ctx, taskID)
	if err != nil {
		return nil, storageError(ctx, "storage.GetActiveTaskByID", err)
	}

	if _, err := s.orchestrator.AssignTask(ctx, task); err != nil {
		if errors.Is(err, errval.ErrConflict) {
			return nil, err
		}
		return nil, storageError(ctx, "orchestrator.AssignTask", err)
	}

	return s.reload(ctx, task), nil
}

func (s *ServerLogic) EligibleCandidates(ctx context.Context, taskID int32) ([]domain.EligibleCandidate, error) {
	eligible, err := s.orchestrator.FindEligible(ctx, taskID)
	if err != nil {
		return nil, storageError(ctx, "orchestrator.FindEligible", err)
	}

	return eligible, nil
}

func (s *ServerLogic) TaskHistory(ctx context.Context, taskID int32) ([]*domain.TaskAssignmentHistory, error) {
	history, err := s.storage.GetTaskAssignmentHistory(ctx, taskID)
	if err != nil {
		return nil, storageError(ctx, "storage.GetTaskAssignmentHistory", err)
	}

	return history, nil
}

func (s *ServerLogic) PendingTasks(ctx context.Context, candidateID int32) ([]*domain.Task, error) {
	if _, err := s.storage.GetCandidateByID(ctx, candidateID); err != nil {
		return nil, storageError(ctx, "storage.GetCandidateByID", err)
	}

	tasks, err := s.orchestrator.PendingTasks(ctx, candidateID)
	if err != nil {
		return nil, storageError(ctx, "orchestrator.PendingTasks", err)
	}

	return tasks, nil
}

// UpdateProfile applies a partial profile update and re-assigns the unassigned tasks it may now match.
func (s *ServerLogic) UpdateProfile(ctx context.Context, candidateID int32, req domain.RouterRequestUpdateProfile) (*domain.Candidate, TriggerResult, error) {
	err := s.storage.UpdateCandidateProfile(ctx, candidateID, domain.CandidateProfile{
		Department:      req.Department,
		Location:        req.Location,
		ExperienceYears: req.ExperienceYears,
		IsActive:        req.IsActive,
	})
	if err != nil {
		return nil, TriggerResult{}, storageError(ctx, "storage.UpdateCandidateProfile", err)
	}

	s.cache.InvalidateUser(ctx, candidateID)
	result := s.trigger(ctx, domain.RecomputeForUserJob, candidateID, domain.DefaultQueue)

	candidate, err := s.storage.GetCandidateByID(ctx, candidateID)
	if err != nil {
		return nil, result, storageError(ctx, "storage.GetCandidateByID", err)
	}

	return candidate, result, nil
}

func (s *ServerLogic) BulkRecompute(ctx context.Context, taskIDs []int32) (TriggerResult, error) {
	outcome, err := s.dispatcher.DispatchBulk(ctx, taskIDs)
	if err != nil {
		slog.ErrorContext(ctx, "Bulk recompute failed", "tasks", len(taskIDs), "error", err.Error())
		if errors.Is(err, errval.ErrRateLimited) {
			return TriggerResult{Outcome: outcome}, errval.ErrRateLimited
		}
		return TriggerResult{Outcome: outcome}, errval.ErrInternal
	}

	return TriggerResult{Outcome: outcome}, nil
}

func storageError(ctx context.Context, op string, err error) error {
	if errors.Is(err, errval.ErrNotFound) {
		slog.InfoContext(ctx, "entity not found", "op", op)
		return errval.ErrNotFound
	}

	slog.ErrorContext(ctx, "error occurred while calling "+op, "error", err)
	return errval.ErrInternal
}
