// Package memstore is an in-memory domain.Storage. It honours the same soft-delete and
// compare-and-swap semantics as the postgres store and is used by the tests of the core packages.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sf7293/task-assigner/internal/domain"
	"github.com/sf7293/task-assigner/internal/errval"
)

type Store struct {
	mutex      sync.RWMutex
	candidates map[int32]*domain.Candidate
	tasks      map[int32]*domain.Task
	history    []*domain.TaskAssignmentHistory
	nextTaskID int32

	// ApplyErr, when set, is returned by every assignment write.
	ApplyErr error
	// FindCalls counts FindActiveCandidates invocations.
	FindCalls int
	// CountCalls counts CountActiveTasks invocations.
	CountCalls int
}

func New() *Store {
	return &Store{
		candidates: map[int32]*domain.Candidate{},
		tasks:      map[int32]*domain.Task{},
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// AddCandidate stores a copy of c.
func (s *Store) AddCandidate(c domain.Candidate) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.candidates[c.ID] = &c
}

// AddTask stores a copy of t, assigning an id when t.ID is zero, and returns the id.
func (s *Store) AddTask(t domain.Task) int32 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if t.ID == 0 {
		s.nextTaskID++
		t.ID = s.nextTaskID
	} else if t.ID > s.nextTaskID {
		s.nextTaskID = t.ID
	}
	if t.Status == "" {
		t.Status = string(domain.Todo)
	}
	s.tasks[t.ID] = &t
	return t.ID
}

// Task returns a copy of the stored task regardless of its active flag.
func (s *Store) Task(ID int32) (domain.Task, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	t, ok := s.tasks[ID]
	if !ok {
		return domain.Task{}, false
	}
	return copyTask(t), true
}

// BumpVersion simulates a concurrent writer touching the task.
func (s *Store) BumpVersion(ID int32) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if t, ok := s.tasks[ID]; ok {
		t.Version++
	}
}

func (s *Store) FindActiveCandidates(ctx context.Context, filter domain.CandidateFilter) ([]*domain.Candidate, error) {
	s.mutex.Lock()
	s.FindCalls++
	s.mutex.Unlock()

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	result := []*domain.Candidate{}
	for _, c := range s.candidates {
		if filter.Matches(c) {
			cc := *c
			result = append(result, &cc)
		}
	}
	return result, nil
}

func (s *Store) GetCandidateByID(ctx context.Context, ID int32) (*domain.Candidate, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	c, ok := s.candidates[ID]
	if !ok {
		return nil, errval.ErrNotFound
	}
	cc := *c
	return &cc, nil
}

func (s *Store) CountActiveTasks(ctx context.Context, candidateID int32) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.CountCalls++
	count := 0
	for _, t := range s.tasks {
		if t.AssignedTo != nil && *t.AssignedTo == candidateID && t.CountsTowardLoad() {
			count++
		}
	}
	return count, nil
}

func (s *Store) UpdateCandidateProfile(ctx context.Context, candidateID int32, profile domain.CandidateProfile) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	c, ok := s.candidates[candidateID]
	if !ok {
		return errval.ErrNotFound
	}
	if profile.Department != nil {
		c.Department = *profile.Department
	}
	if profile.Location != nil {
		c.Location = *profile.Location
	}
	if profile.ExperienceYears != nil {
		c.ExperienceYears = *profile.ExperienceYears
	}
	if profile.IsActive != nil {
		c.IsActive = *profile.IsActive
	}
	return nil
}

func (s *Store) GetActiveTaskByID(ctx context.Context, ID int32) (*domain.Task, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	t, ok := s.tasks[ID]
	if !ok || !t.IsActive {
		return nil, errval.ErrNotFound
	}
	tc := copyTask(t)
	return &tc, nil
}

func (s *Store) GetActiveTasksByIDs(ctx context.Context, IDs []int32) ([]*domain.Task, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	result := []*domain.Task{}
	for _, id := range sortedIDs(s.tasks) {
		for _, want := range IDs {
			if id == want && s.tasks[id].IsActive {
				tc := copyTask(s.tasks[id])
				result = append(result, &tc)
				break
			}
		}
	}
	return result, nil
}

func (s *Store) GetUnassignedTasks(ctx context.Context, afterID int32, limit int32) ([]*domain.Task, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	result := []*domain.Task{}
	for _, id := range sortedIDs(s.tasks) {
		t := s.tasks[id]
		if id <= afterID || !t.IsActive || t.AssignedTo != nil {
			continue
		}
		tc := copyTask(t)
		result = append(result, &tc)
		if int32(len(result)) == limit {
			break
		}
	}
	return result, nil
}

func (s *Store) GetPendingTasksByAssignee(ctx context.Context, candidateID int32) ([]*domain.Task, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	result := []*domain.Task{}
	for _, id := range sortedIDs(s.tasks) {
		t := s.tasks[id]
		if t.AssignedTo != nil && *t.AssignedTo == candidateID && t.CountsTowardLoad() {
			tc := copyTask(t)
			result = append(result, &tc)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return domain.PriorityRank(result[i].Priority) > domain.PriorityRank(result[j].Priority)
	})
	return result, nil
}

func (s *Store) GetTaskAssignmentHistory(ctx context.Context, taskID int32) ([]*domain.TaskAssignmentHistory, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	result := []*domain.TaskAssignmentHistory{}
	for _, h := range s.history {
		if h.TaskID == taskID {
			hc := *h
			result = append(result, &hc)
		}
	}
	if len(result) == 0 {
		return nil, errval.ErrNotFound
	}
	return result, nil
}

func (s *Store) InsertTask(ctx context.Context, title, description, taskStatus, taskPriority string, rules domain.AssignmentRules) (*domain.Task, error) {
	now := time.Now().UTC().Unix()
	id := s.AddTask(domain.Task{
		Title:           title,
		Description:     description,
		Status:          taskStatus,
		Priority:        taskPriority,
		AssignmentRules: rules,
		IsActive:        true,
		CreatedAtStamp:  now,
		UpdatedAtStamp:  now,
	})
	return s.GetActiveTaskByID(ctx, id)
}

func (s *Store) UpdateAssignmentRules(ctx context.Context, taskID int32, rules domain.AssignmentRules) (*domain.Task, error) {
	s.mutex.Lock()
	t, ok := s.tasks[taskID]
	if !ok || !t.IsActive {
		s.mutex.Unlock()
		return nil, errval.ErrNotFound
	}
	t.AssignmentRules = rules
	t.Version++
	s.mutex.Unlock()
	return s.GetActiveTaskByID(ctx, taskID)
}

func (s *Store) UpdateTaskStatus(ctx context.Context, taskID int32, newStatus string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	t, ok := s.tasks[taskID]
	if !ok || !t.IsActive {
		return errval.ErrNotFound
	}
	t.Status = newStatus
	t.Version++
	return nil
}

func (s *Store) SoftDeleteTask(ctx context.Context, taskID int32) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	t, ok := s.tasks[taskID]
	if !ok || !t.IsActive {
		return errval.ErrNotFound
	}
	t.IsActive = false
	t.Version++
	return nil
}

func (s *Store) ApplyAssignment(ctx context.Context, change domain.AssignmentChange) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.ApplyErr != nil {
		return s.ApplyErr
	}
	return s.applyLocked(change)
}

func (s *Store) ApplyAssignmentsInTx(ctx context.Context, changes []domain.AssignmentChange) ([]domain.AssignmentChange, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.ApplyErr != nil {
		return nil, s.ApplyErr
	}
	applied := []domain.AssignmentChange{}
	for _, change := range changes {
		if err := s.applyLocked(change); err != nil {
			continue
		}
		applied = append(applied, change)
	}
	return applied, nil
}

func (s *Store) applyLocked(change domain.AssignmentChange) error {
	t, ok := s.tasks[change.TaskID]
	if !ok || !t.IsActive || t.Version != change.Version {
		return errval.ErrConflict
	}
	t.AssignedTo = copyID(change.NewAssignee)
	t.Version++
	s.history = append(s.history, &domain.TaskAssignmentHistory{
		ID:             int32(len(s.history) + 1),
		TaskID:         change.TaskID,
		OldAssignee:    copyID(change.OldAssignee),
		NewAssignee:    copyID(change.NewAssignee),
		CreatedAtStamp: time.Now().UTC().Unix(),
	})
	return nil
}

func copyTask(t *domain.Task) domain.Task {
	tc := *t
	tc.AssignedTo = copyID(t.AssignedTo)
	if t.AssignmentRules != nil {
		tc.AssignmentRules = domain.AssignmentRules{}
		for k, v := range t.AssignmentRules {
			tc.AssignmentRules[k] = v
		}
	}
	return tc
}

func copyID(id *int32) *int32 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func sortedIDs(tasks map[int32]*domain.Task) []int32 {
	ids := make([]int32, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
