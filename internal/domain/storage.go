package domain

import "context"

type CandidateStore interface {
	FindActiveCandidates(ctx context.Context, filter CandidateFilter) ([]*Candidate, error)
	GetCandidateByID(ctx context.Context, ID int32) (*Candidate, error)
	CountActiveTasks(ctx context.Context, candidateID int32) (int, error)
	UpdateCandidateProfile(ctx context.Context, candidateID int32, profile CandidateProfile) error
}

type TaskStore interface {
	GetActiveTaskByID(ctx context.Context, ID int32) (*Task, error)
	GetActiveTasksByIDs(ctx context.Context, IDs []int32) ([]*Task, error)
	GetUnassignedTasks(ctx context.Context, afterID int32, limit int32) ([]*Task, error)
	GetPendingTasksByAssignee(ctx context.Context, candidateID int32) ([]*Task, error)
	GetTaskAssignmentHistory(ctx context.Context, taskID int32) ([]*TaskAssignmentHistory, error)
	InsertTask(ctx context.Context, title, description, taskStatus, taskPriority string, rules AssignmentRules) (*Task, error)
	UpdateAssignmentRules(ctx context.Context, taskID int32, rules AssignmentRules) (*Task, error)
	UpdateTaskStatus(ctx context.Context, taskID int32, newStatus string) error
	SoftDeleteTask(ctx context.Context, taskID int32) error
	// ApplyAssignment performs a compare-and-swap of the assignee on change.Version.
	ApplyAssignment(ctx context.Context, change AssignmentChange) error
	// ApplyAssignmentsInTx commits all changes in one transaction. Rows whose version moved are
	// skipped and left out of the returned slice.
	ApplyAssignmentsInTx(ctx context.Context, changes []AssignmentChange) ([]AssignmentChange, error)
}

type Storage interface {
	Ping(ctx context.Context) (err error)
	CandidateStore
	TaskStore
}
