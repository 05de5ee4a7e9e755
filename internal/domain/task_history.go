package domain

type TaskAssignmentHistory struct {
	ID             int32  `json:"-"`
	TaskID         int32  `json:"task_id"`
	OldAssignee    *int32 `json:"old_assignee"`
	NewAssignee    *int32 `json:"new_assignee"`
	CreatedAtStamp int64  `json:"created_at_stamp"`
}
