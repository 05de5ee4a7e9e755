package domain

type TaskStatus string

const (
	Todo       TaskStatus = "todo"
	InProgress TaskStatus = "in_progress"
	Done       TaskStatus = "done"
)

type TaskPriority string

const (
	Low    TaskPriority = "low"
	Medium TaskPriority = "medium"
	High   TaskPriority = "high"
)

// AssignmentRules maps a rule name to its value. Values arrive from JSONB, so numbers are float64.
type AssignmentRules map[string]any

type Task struct {
	ID              int32           `json:"id"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Status          string          `json:"status"`
	Priority        string          `json:"priority"`
	AssignmentRules AssignmentRules `json:"assignment_rules"`
	AssignedTo      *int32          `json:"assigned_to"`
	Version         int64           `json:"version"`
	IsActive        bool            `json:"is_active"`
	CreatedAtStamp  int64           `json:"created_at_stamp"`
	UpdatedAtStamp  int64           `json:"updated_at_stamp"`
}

// CountsTowardLoad reports whether the task adds to its assignee's active-task-count.
func (t *Task) CountsTowardLoad() bool {
	return t.IsActive && t.Status != string(Done)
}

var statusTransitions = map[TaskStatus][]TaskStatus{
	Todo:       {InProgress},
	InProgress: {Done, Todo},
	Done:       {},
}

// CanTransition reports whether a task may move from one status to another.
// Staying in the same status is always allowed.
func CanTransition(from, to TaskStatus) bool {
	if from == to {
		return true
	}

	for _, allowed := range statusTransitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}

// AllowedTransitions returns the statuses reachable from the given one.
func AllowedTransitions(from TaskStatus) []TaskStatus {
	return statusTransitions[from]
}

func IsValidStatus(status string) bool {
	_, ok := statusTransitions[TaskStatus(status)]
	return ok
}

// PriorityRank orders priorities for pending-task lists: high 3, medium 2, anything else 1.
func PriorityRank(priority string) int {
	switch TaskPriority(priority) {
	case High:
		return 3
	case Medium:
		return 2
	default:
		return 1
	}
}

func IsValidPriority(priority string) bool {
	switch TaskPriority(priority) {
	case Low, Medium, High:
		return true
	default:
		return false
	}
}

// AssignmentChange is one compare-and-swap write of a task's assignee.
type AssignmentChange struct {
	TaskID      int32
	Version     int64
	OldAssignee *int32
	NewAssignee *int32
}

// SameAssignee reports whether two optional assignee ids refer to the same candidate.
func SameAssignee(a, b *int32) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	return *a == *b
}
