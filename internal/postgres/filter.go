package postgres

import (
	"fmt"
	"strings"

	"github.com/sf7293/task-assigner/internal/domain"
)

// buildCandidateQuery renders the pushdown part of a rule set as SQL. Inactive users are always
// excluded and a missing experience counts as zero.
func buildCandidateQuery(filter domain.CandidateFilter) (string, []interface{}) {
	conditions := []string{"is_active = true"}
	args := []interface{}{}

	if filter.Department != nil {
		args = append(args, *filter.Department)
		conditions = append(conditions, fmt.Sprintf("department = $%d", len(args)))
	}
	if filter.Location != nil {
		args = append(args, *filter.Location)
		conditions = append(conditions, fmt.Sprintf("location = $%d", len(args)))
	}
	if filter.MinExperience != nil {
		args = append(args, *filter.MinExperience)
		conditions = append(conditions, fmt.Sprintf("COALESCE(experience_years, 0) >= $%d", len(args)))
	}

	query := "SELECT " + userColumns + " FROM users WHERE " + strings.Join(conditions, " AND ") + " ORDER BY id"
	return query, args
}
