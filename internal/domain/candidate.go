package domain

// Candidate is a user that can receive assigned work.
type Candidate struct {
	ID              int32  `json:"id"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	Department      string `json:"department"`
	Location        string `json:"location"`
	ExperienceYears int    `json:"experience_years"`
	IsActive        bool   `json:"is_active"`
}

// EligibleCandidate is a row of an eligibility preview.
type EligibleCandidate struct {
	Candidate
	ActiveTaskCount int `json:"active_task_count"`
}

// CandidateFilter holds the constraints that are pushed down to the candidate store.
// A nil field imposes no constraint. Only active candidates are ever returned.
type CandidateFilter struct {
	Department    *string
	Location      *string
	MinExperience *int
}

// Matches evaluates the filter in process. Stores that cannot push the filter down use it.
func (f CandidateFilter) Matches(c *Candidate) bool {
	if !c.IsActive {
		return false
	}
	if f.Department != nil && c.Department != *f.Department {
		return false
	}
	if f.Location != nil && c.Location != *f.Location {
		return false
	}
	if f.MinExperience != nil && c.ExperienceYears < *f.MinExperience {
		return false
	}

	return true
}

// CandidateProfile carries a partial profile update. Nil fields are left untouched.
type CandidateProfile struct {
	Department      *string
	Location        *string
	ExperienceYears *int
	IsActive        *bool
}
