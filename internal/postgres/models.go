package postgres

import (
	"github.com/jackc/pgtype"
)

type User struct {
	ID              int32
	Name            string
	Email           string
	Department      pgtype.Text
	ExperienceYears pgtype.Int4
	Location        pgtype.Text
	IsActive        bool
	CreatedAt       pgtype.Timestamptz
	UpdatedAt       pgtype.Timestamptz
}

type Task struct {
	ID              int32
	Title           string
	Description     pgtype.Text
	Status          string
	Priority        string
	AssignmentRules pgtype.JSONB
	AssignedTo      pgtype.Int4
	Version         int64
	IsActive        bool
	CreatedAt       pgtype.Timestamptz
	UpdatedAt       pgtype.Timestamptz
}

type TasksAssignmentHistory struct {
	ID          int32
	TaskID      int32
	OldAssignee pgtype.Int4
	NewAssignee pgtype.Int4
	CreatedAt   pgtype.Timestamptz
}
