package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/sf7293/task-assigner/internal/domain"
	"github.com/sf7293/task-assigner/internal/errval"
)

var _ domain.Storage = (*storage)(nil)

type storage struct {
	queries *Queries
	pool    *pgxpool.Pool
}

func NewStorage(ctx context.Context, dsn string) (*storage, error) {
	var pool *pgxpool.Pool
	var err error

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	err = backoff.Retry(func() error {
		if pool, err = pgxpool.ConnectConfig(ctx, config); err != nil {
			slog.ErrorContext(ctx, "failed to connect to postgres database.. retrying...", "error", err)
			return err
		}

		if err = pool.Ping(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to ping postgres database connection.. retrying...", "error", err)
			pool.Close()
			return err
		}

		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(3*time.Second), 5), ctx))

	if err != nil {
		return nil, err
	}

	return &storage{
		queries: New(pool),
		pool:    pool,
	}, nil
}

func (s *storage) Ping(ctx context.Context) (err error) {
	return s.pool.Ping(ctx)
}

func (s *storage) Close() {
	s.pool.Close()
}

func (s *storage) FindActiveCandidates(ctx context.Context, filter domain.CandidateFilter) ([]*domain.Candidate, error) {
	users, err := s.queries.ListActiveUsers(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}

	return convertUsers(users), nil
}

// GetCandidateByID returns the user whether or not it is active.
func (s *storage) GetCandidateByID(ctx context.Context, ID int32) (*domain.Candidate, error) {
	user, err := s.queries.GetUserByID(ctx, ID)
	if err != nil {
		return nil, notFound(err)
	}

	return convertUser(user), nil
}

func (s *storage) CountActiveTasks(ctx context.Context, candidateID int32) (int, error) {
	count, err := s.queries.CountActiveTasksByAssignee(ctx, candidateID)
	if err != nil {
		return 0, fmt.Errorf("count active tasks of user %d: %w", candidateID, err)
	}

	return int(count), nil
}

func (s *storage) UpdateCandidateProfile(ctx context.Context, candidateID int32, profile domain.CandidateProfile) error {
	affected, err := s.queries.UpdateUserProfile(ctx, UpdateUserProfileParams{
		ID:              candidateID,
		Department:      toText(profile.Department),
		Location:        toText(profile.Location),
		ExperienceYears: toInt4FromInt(profile.ExperienceYears),
		IsActive:        toBool(profile.IsActive),
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return errval.ErrNotFound
	}

	return nil
}

func (s *storage) GetActiveTaskByID(ctx context.Context, ID int32) (*domain.Task, error) {
	task, err := s.queries.GetActiveTaskByID(ctx, ID)
	if err != nil {
		return nil, notFound(err)
	}

	return convertTask(task)
}

func (s *storage) GetActiveTasksByIDs(ctx context.Context, IDs []int32) ([]*domain.Task, error) {
	tasks, err := s.queries.GetActiveTasksByIDs(ctx, IDs)
	if err != nil {
		return nil, err
	}

	return convertTasks(tasks)
}

func (s *storage) GetUnassignedTasks(ctx context.Context, afterID int32, limit int32) ([]*domain.Task, error) {
	tasks, err := s.queries.GetUnassignedTasks(ctx, GetUnassignedTasksParams{
		AfterID: afterID,
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}

	return convertTasks(tasks)
}

func (s *storage) GetPendingTasksByAssignee(ctx context.Context, candidateID int32) ([]*domain.Task, error) {
	tasks, err := s.queries.GetPendingTasksByAssignee(ctx, candidateID)
	if err != nil {
		return nil, err
	}

	return convertTasks(tasks)
}

func (s *storage) GetTaskAssignmentHistory(ctx context.Context, taskID int32) ([]*domain.TaskAssignmentHistory, error) {
	items, err := s.queries.GetTaskAssignmentHistory(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if len(items) == 0 {
		return nil, errval.ErrNotFound
	}

	return convertTaskAssignmentHistories(items), nil
}

func (s *storage) InsertTask(ctx context.Context, title, description, taskStatus, taskPriority string, rules domain.AssignmentRules) (*domain.Task, error) {
	rulesJSON, err := encodeRules(rules)
	if err != nil {
		return nil, err
	}

	task, err := s.queries.InsertTask(ctx, InsertTaskParams{
		Title:           title,
		Description:     toText(&description),
		Status:          taskStatus,
		Priority:        taskPriority,
		AssignmentRules: rulesJSON,
	})
	if err != nil {
		return nil, err
	}

	return convertTask(task)
}

func (s *storage) UpdateAssignmentRules(ctx context.Context, taskID int32, rules domain.AssignmentRules) (*domain.Task, error) {
	rulesJSON, err := encodeRules(rules)
	if err != nil {
		return nil, err
	}

	task, err := s.queries.UpdateAssignmentRules(ctx, taskID, rulesJSON)
	if err != nil {
		return nil, notFound(err)
	}

	return convertTask(task)
}

func (s *storage) UpdateTaskStatus(ctx context.Context, taskID int32, newStatus string) error {
	affected, err := s.queries.UpdateTaskStatus(ctx, taskID, newStatus)
	if err != nil {
		return err
	}
	if affected == 0 {
		return errval.ErrNotFound
	}

	return nil
}

func (s *storage) SoftDeleteTask(ctx context.Context, taskID int32) error {
	affected, err := s.queries.SoftDeleteTask(ctx, taskID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return errval.ErrNotFound
	}

	return nil
}

func (s *storage) ApplyAssignment(ctx context.Context, change domain.AssignmentChange) error {
	return s.inTx(ctx, func(qtx *Queries) error {
		return applyAssignment(ctx, qtx, change)
	})
}

func (s *storage) ApplyAssignmentsInTx(ctx context.Context, changes []domain.AssignmentChange) ([]domain.AssignmentChange, error) {
	applied := []domain.AssignmentChange{}
	err := s.inTx(ctx, func(qtx *Queries) error {
		for _, change := range changes {
			err := applyAssignment(ctx, qtx, change)
			if errors.Is(err, errval.ErrConflict) {
				continue
			}
			if err != nil {
				return err
			}
			applied = append(applied, change)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return applied, nil
}

// applyAssignment swaps the assignee only if the row still carries change.Version, and records the change.
func applyAssignment(ctx context.Context, qtx *Queries, change domain.AssignmentChange) error {
	affected, err := qtx.CompareAndSwapAssignee(ctx, CompareAndSwapAssigneeParams{
		ID:         change.TaskID,
		Version:    change.Version,
		AssignedTo: toInt4(change.NewAssignee),
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return errval.ErrConflict
	}

	return qtx.InsertTaskAssignmentHistory(ctx, InsertTaskAssignmentHistoryParams{
		TaskID:      change.TaskID,
		OldAssignee: toInt4(change.OldAssignee),
		NewAssignee: toInt4(change.NewAssignee),
	})
}

func (s *storage) inTx(ctx context.Context, fn func(qtx *Queries) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(s.queries.WithTx(tx)); err != nil {
		err2 := tx.Rollback(ctx)
		if err2 != nil {
			slog.Error("Error occurred while rolling back transaction", "error", err2.Error())
		}

		return err
	}

	return tx.Commit(ctx)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errval.ErrNotFound
	}

	return err
}

func encodeRules(rules domain.AssignmentRules) (pgtype.JSONB, error) {
	if rules == nil {
		rules = domain.AssignmentRules{}
	}

	var rulesJSON pgtype.JSONB
	jsonBytes, err := json.Marshal(rules)
	if err != nil {
		return rulesJSON, fmt.Errorf("encode assignment rules: %w", err)
	}
	if err := rulesJSON.Set(jsonBytes); err != nil {
		return rulesJSON, err
	}

	return rulesJSON, nil
}

func toText(v *string) pgtype.Text {
	if v == nil {
		return pgtype.Text{Status: pgtype.Null}
	}
	return pgtype.Text{String: *v, Status: pgtype.Present}
}

func toInt4(v *int32) pgtype.Int4 {
	if v == nil {
		return pgtype.Int4{Status: pgtype.Null}
	}
	return pgtype.Int4{Int: *v, Status: pgtype.Present}
}

func toInt4FromInt(v *int) pgtype.Int4 {
	if v == nil {
		return pgtype.Int4{Status: pgtype.Null}
	}
	return pgtype.Int4{Int: int32(*v), Status: pgtype.Present}
}

func toBool(v *bool) pgtype.Bool {
	if v == nil {
		return pgtype.Bool{Status: pgtype.Null}
	}
	return pgtype.Bool{Bool: *v, Status: pgtype.Present}
}

func fromInt4(v pgtype.Int4) *int32 {
	if v.Status != pgtype.Present {
		return nil
	}
	id := v.Int
	return &id
}

func convertUser(user User) *domain.Candidate {
	return &domain.Candidate{
		ID:              user.ID,
		Name:            user.Name,
		Email:           user.Email,
		Department:      user.Department.String,
		Location:        user.Location.String,
		ExperienceYears: int(user.ExperienceYears.Int),
		IsActive:        user.IsActive,
	}
}

func convertUsers(users []User) []*domain.Candidate {
	castedUsers := []*domain.Candidate{}
	for _, item := range users {
		castedUsers = append(castedUsers, convertUser(item))
	}

	return castedUsers
}

func convertTask(task Task) (*domain.Task, error) {
	rules := domain.AssignmentRules{}
	if task.AssignmentRules.Status == pgtype.Present && len(task.AssignmentRules.Bytes) > 0 {
		if err := json.Unmarshal(task.AssignmentRules.Bytes, &rules); err != nil {
			return nil, fmt.Errorf("decode assignment rules of task %d: %w", task.ID, err)
		}
	}

	castedItem := &domain.Task{
		ID:              task.ID,
		Title:           task.Title,
		Description:     task.Description.String,
		Status:          task.Status,
		Priority:        task.Priority,
		AssignmentRules: rules,
		AssignedTo:      fromInt4(task.AssignedTo),
		Version:         task.Version,
		IsActive:        task.IsActive,
		CreatedAtStamp:  task.CreatedAt.Time.Unix(),
		UpdatedAtStamp:  task.UpdatedAt.Time.Unix(),
	}

	return castedItem, nil
}

func convertTasks(tasks []Task) ([]*domain.Task, error) {
	castedTasks := []*domain.Task{}
	for _, item := range tasks {
		castedTask, err := convertTask(item)
		if err != nil {
			return nil, err
		}
		castedTasks = append(castedTasks, castedTask)
	}

	return castedTasks, nil
}

func convertTaskAssignmentHistory(item TasksAssignmentHistory) *domain.TaskAssignmentHistory {
	return &domain.TaskAssignmentHistory{
		ID:             item.ID,
		TaskID:         item.TaskID,
		OldAssignee:    fromInt4(item.OldAssignee),
		NewAssignee:    fromInt4(item.NewAssignee),
		CreatedAtStamp: item.CreatedAt.Time.Unix(),
	}
}

func convertTaskAssignmentHistories(items []TasksAssignmentHistory) []*domain.TaskAssignmentHistory {
	castedItems := []*domain.TaskAssignmentHistory{}
	for _, item := range items {
		castedItems = append(castedItems, convertTaskAssignmentHistory(item))
	}

	return castedItems
}
