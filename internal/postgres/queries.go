package postgres

import (
	"context"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/sf7293/task-assigner/internal/domain"
)

type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const userColumns = `id, name, email, department, experience_years, location, is_active, created_at, updated_at`

const taskColumns = `id, title, description, status, priority, assignment_rules, assigned_to, version, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (User, error) {
	var i User
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Email,
		&i.Department,
		&i.ExperienceYears,
		&i.Location,
		&i.IsActive,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func scanTask(row rowScanner) (Task, error) {
	var i Task
	err := row.Scan(
		&i.ID,
		&i.Title,
		&i.Description,
		&i.Status,
		&i.Priority,
		&i.AssignmentRules,
		&i.AssignedTo,
		&i.Version,
		&i.IsActive,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func (q *Queries) queryTasks(ctx context.Context, query string, args ...interface{}) ([]Task, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []Task{}
	for rows.Next() {
		i, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}

	return items, rows.Err()
}

const getUserByID = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

func (q *Queries) GetUserByID(ctx context.Context, id int32) (User, error) {
	return scanUser(q.db.QueryRow(ctx, getUserByID, id))
}

func (q *Queries) ListActiveUsers(ctx context.Context, filter domain.CandidateFilter) ([]User, error) {
	query, args := buildCandidateQuery(filter)
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []User{}
	for rows.Next() {
		i, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}

	return items, rows.Err()
}

const countActiveTasksByAssignee = `SELECT count(*) FROM tasks
WHERE assigned_to = $1 AND status <> 'done' AND is_active = true`

func (q *Queries) CountActiveTasksByAssignee(ctx context.Context, assignedTo int32) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countActiveTasksByAssignee, assignedTo).Scan(&count)
	return count, err
}

const updateUserProfile = `UPDATE users SET
    department = COALESCE($2, department),
    location = COALESCE($3, location),
    experience_years = COALESCE($4, experience_years),
    is_active = COALESCE($5, is_active),
    updated_at = now()
WHERE id = $1`

type UpdateUserProfileParams struct {
	ID              int32
	Department      pgtype.Text
	Location        pgtype.Text
	ExperienceYears pgtype.Int4
	IsActive        pgtype.Bool
}

func (q *Queries) UpdateUserProfile(ctx context.Context, arg UpdateUserProfileParams) (int64, error) {
	tag, err := q.db.Exec(ctx, updateUserProfile,
		arg.ID,
		arg.Department,
		arg.Location,
		arg.ExperienceYears,
		arg.IsActive,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const getActiveTaskByID = `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1 AND is_active = true`

func (q *Queries) GetActiveTaskByID(ctx context.Context, id int32) (Task, error) {
	return scanTask(q.db.QueryRow(ctx, getActiveTaskByID, id))
}

const getActiveTasksByIDs = `SELECT ` + taskColumns + ` FROM tasks
WHERE id = ANY($1::int[]) AND is_active = true
ORDER BY id`

func (q *Queries) GetActiveTasksByIDs(ctx context.Context, ids []int32) ([]Task, error) {
	return q.queryTasks(ctx, getActiveTasksByIDs, ids)
}

const getUnassignedTasks = `SELECT ` + taskColumns + ` FROM tasks
WHERE assigned_to IS NULL AND is_active = true AND id > $1
ORDER BY id
LIMIT $2`

type GetUnassignedTasksParams struct {
	AfterID int32
	Limit   int32
}

func (q *Queries) GetUnassignedTasks(ctx context.Context, arg GetUnassignedTasksParams) ([]Task, error) {
	return q.queryTasks(ctx, getUnassignedTasks, arg.AfterID, arg.Limit)
}

const getPendingTasksByAssignee = `SELECT ` + taskColumns + ` FROM tasks
WHERE assigned_to = $1 AND status <> 'done' AND is_active = true
ORDER BY CASE priority WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END DESC, id`

func (q *Queries) GetPendingTasksByAssignee(ctx context.Context, assignedTo int32) ([]Task, error) {
	return q.queryTasks(ctx, getPendingTasksByAssignee, assignedTo)
}

const getTaskAssignmentHistory = `SELECT id, task_id, old_assignee, new_assignee, created_at
FROM tasks_assignment_history
WHERE task_id = $1
ORDER BY id`

func (q *Queries) GetTaskAssignmentHistory(ctx context.Context, taskID int32) ([]TasksAssignmentHistory, error) {
	rows, err := q.db.Query(ctx, getTaskAssignmentHistory, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []TasksAssignmentHistory{}
	for rows.Next() {
		var i TasksAssignmentHistory
		if err := rows.Scan(&i.ID, &i.TaskID, &i.OldAssignee, &i.NewAssignee, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}

	return items, rows.Err()
}

const insertTask = `INSERT INTO tasks (title, description, status, priority, assignment_rules)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + taskColumns

type InsertTaskParams struct {
	Title           string
	Description     pgtype.Text
	Status          string
	Priority        string
	AssignmentRules pgtype.JSONB
}

func (q *Queries) InsertTask(ctx context.Context, arg InsertTaskParams) (Task, error) {
	return scanTask(q.db.QueryRow(ctx, insertTask,
		arg.Title,
		arg.Description,
		arg.Status,
		arg.Priority,
		arg.AssignmentRules,
	))
}

const updateAssignmentRules = `UPDATE tasks SET assignment_rules = $2, version = version + 1, updated_at = now()
WHERE id = $1 AND is_active = true
RETURNING ` + taskColumns

func (q *Queries) UpdateAssignmentRules(ctx context.Context, id int32, assignmentRules pgtype.JSONB) (Task, error) {
	return scanTask(q.db.QueryRow(ctx, updateAssignmentRules, id, assignmentRules))
}

const updateTaskStatus = `UPDATE tasks SET status = $2, version = version + 1, updated_at = now()
WHERE id = $1 AND is_active = true`

func (q *Queries) UpdateTaskStatus(ctx context.Context, id int32, status string) (int64, error) {
	tag, err := q.db.Exec(ctx, updateTaskStatus, id, status)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const softDeleteTask = `UPDATE tasks SET is_active = false, version = version + 1, updated_at = now()
WHERE id = $1 AND is_active = true`

func (q *Queries) SoftDeleteTask(ctx context.Context, id int32) (int64, error) {
	tag, err := q.db.Exec(ctx, softDeleteTask, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const compareAndSwapAssignee = `UPDATE tasks SET assigned_to = $3, version = version + 1, updated_at = now()
WHERE id = $1 AND version = $2 AND is_active = true`

type CompareAndSwapAssigneeParams struct {
	ID         int32
	Version    int64
	AssignedTo pgtype.Int4
}

func (q *Queries) CompareAndSwapAssignee(ctx context.Context, arg CompareAndSwapAssigneeParams) (int64, error) {
	tag, err := q.db.Exec(ctx, compareAndSwapAssignee, arg.ID, arg.Version, arg.AssignedTo)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const insertTaskAssignmentHistory = `INSERT INTO tasks_assignment_history (task_id, old_assignee, new_assignee)
VALUES ($1, $2, $3)`

type InsertTaskAssignmentHistoryParams struct {
	TaskID      int32
	OldAssignee pgtype.Int4
	NewAssignee pgtype.Int4
}

func (q *Queries) InsertTaskAssignmentHistory(ctx context.Context, arg InsertTaskAssignmentHistoryParams) error {
	_, err := q.db.Exec(ctx, insertTaskAssignmentHistory, arg.TaskID, arg.OldAssignee, arg.NewAssignee)
	return err
}
