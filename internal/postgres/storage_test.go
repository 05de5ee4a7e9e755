package postgres

import (
	"testing"
	"time"

	"github.com/jackc/pgtype"
	"github.com/sf7293/task-assigner/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCandidateQuery_NoConstraints(t *testing.T) {
	query, args := buildCandidateQuery(domain.CandidateFilter{})
	assert.Equal(t, "SELECT "+userColumns+" FROM users WHERE is_active = true ORDER BY id", query)
	assert.Empty(t, args)
}

func TestBuildCandidateQuery_AllConstraints(t *testing.T) {
	department, location, experience := "Finance", "Berlin", 5
	query, args := buildCandidateQuery(domain.CandidateFilter{
		Department:    &department,
		Location:      &location,
		MinExperience: &experience,
	})

	assert.Equal(t, "SELECT "+userColumns+" FROM users WHERE is_active = true AND department = $1 AND location = $2 AND COALESCE(experience_years, 0) >= $3 ORDER BY id", query)
	assert.Equal(t, []interface{}{"Finance", "Berlin", 5}, args)
}

func TestBuildCandidateQuery_PlaceholdersFollowPresentConstraints(t *testing.T) {
	experience := 3
	query, args := buildCandidateQuery(domain.CandidateFilter{MinExperience: &experience})
	assert.Contains(t, query, "COALESCE(experience_years, 0) >= $1")
	assert.NotContains(t, query, "department =")
	assert.NotContains(t, query, "location =")
	assert.Equal(t, []interface{}{3}, args)
}

func TestConvertTask(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	updated := created.Add(time.Hour)
	task, err := convertTask(Task{
		ID:              7,
		Title:           "quarterly report",
		Description:     pgtype.Text{Status: pgtype.Null},
		Status:          "todo",
		Priority:        "high",
		AssignmentRules: pgtype.JSONB{Bytes: []byte(`{"department":"Finance","min_experience":5}`), Status: pgtype.Present},
		AssignedTo:      pgtype.Int4{Int: 3, Status: pgtype.Present},
		Version:         4,
		IsActive:        true,
		CreatedAt:       pgtype.Timestamptz{Time: created, Status: pgtype.Present},
		UpdatedAt:       pgtype.Timestamptz{Time: updated, Status: pgtype.Present},
	})
	require.NoError(t, err)

	assert.Equal(t, "", task.Description)
	assert.Equal(t, domain.AssignmentRules{"department": "Finance", "min_experience": float64(5)}, task.AssignmentRules)
	require.NotNil(t, task.AssignedTo)
	assert.Equal(t, int32(3), *task.AssignedTo)
	assert.Equal(t, int64(4), task.Version)
	assert.Equal(t, created.Unix(), task.CreatedAtStamp)
	assert.Equal(t, updated.Unix(), task.UpdatedAtStamp)
}

func TestConvertTask_UnassignedAndRulesNotAnObject(t *testing.T) {
	task, err := convertTask(Task{ID: 1, AssignedTo: pgtype.Int4{Status: pgtype.Null}})
	require.NoError(t, err)
	assert.Nil(t, task.AssignedTo)
	assert.Empty(t, task.AssignmentRules)

	_, err = convertTask(Task{ID: 2, AssignmentRules: pgtype.JSONB{Bytes: []byte(`[1,2]`), Status: pgtype.Present}})
	assert.Error(t, err)
}

func TestNullableConversions(t *testing.T) {
	assert.Equal(t, pgtype.Null, toText(nil).Status)
	name := "Finance"
	assert.Equal(t, pgtype.Text{String: "Finance", Status: pgtype.Present}, toText(&name))

	id := int32(9)
	assert.Equal(t, pgtype.Int4{Int: 9, Status: pgtype.Present}, toInt4(&id))
	assert.Nil(t, fromInt4(toInt4(nil)))
	assert.Equal(t, int32(9), *fromInt4(toInt4(&id)))

	active := false
	assert.Equal(t, pgtype.Bool{Bool: false, Status: pgtype.Present}, toBool(&active))
}

func TestEncodeRules(t *testing.T) {
	encoded, err := encodeRules(nil)
	require.NoError(t, err)
	assert.Equal(t, pgtype.Present, encoded.Status)
	assert.JSONEq(t, `{}`, string(encoded.Bytes))

	encoded, err = encodeRules(domain.AssignmentRules{"location": "Berlin"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"location":"Berlin"}`, string(encoded.Bytes))
}

func TestPendingTasksQuery_OrdersByPriorityRank(t *testing.T) {
	assert.Contains(t, getPendingTasksByAssignee, "ORDER BY CASE priority WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END DESC, id")
}
