package domain

type RouterRequestAddTask struct {
	Title           string          `json:"title" binding:"required"`
	Description     string          `json:"description"`
	TaskPriority    *string         `json:"priority" binding:"omitempty,validate_priority"`
	AssignmentRules AssignmentRules `json:"assignment_rules" binding:"validate_rules"`
}

type RouterRequestUpdateRules struct {
	AssignmentRules AssignmentRules `json:"assignment_rules" binding:"validate_rules"`
}

type RouterRequestUpdateStatus struct {
	Status string `json:"status" binding:"required,validate_status"`
}

type RouterRequestUpdateProfile struct {
	Department      *string `json:"department"`
	Location        *string `json:"location"`
	ExperienceYears *int    `json:"experience_years" binding:"omitempty,min=0"`
	IsActive        *bool   `json:"is_active"`
}

type RouterRequestBulkRecompute struct {
	TaskIDs []int32 `json:"task_ids"`
}
