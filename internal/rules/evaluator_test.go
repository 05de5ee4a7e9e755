package rules

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/sf7293/task-assigner/internal/domain"
	"github.com/sf7293/task-assigner/internal/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(previous) })
	return buf
}

func fixedCounts(counts map[int32]int) ActiveCounter {
	return func(ctx context.Context, candidateID int32) (int, error) {
		return counts[candidateID], nil
	}
}

func ids(candidates []*domain.Candidate) []int32 {
	result := []int32{}
	for _, c := range candidates {
		result = append(result, c.ID)
	}
	return result
}

func financeStore() *memstore.Store {
	store := memstore.New()
	store.AddCandidate(domain.Candidate{ID: 1, Department: "Finance", Location: "Berlin", ExperienceYears: 3, IsActive: true})
	store.AddCandidate(domain.Candidate{ID: 2, Department: "Finance", Location: "Berlin", ExperienceYears: 6, IsActive: true})
	store.AddCandidate(domain.Candidate{ID: 3, Department: "Finance", Location: "Paris", ExperienceYears: 8, IsActive: true})
	store.AddCandidate(domain.Candidate{ID: 4, Department: "Engineering", Location: "Paris", ExperienceYears: 10, IsActive: true})
	store.AddCandidate(domain.Candidate{ID: 5, Department: "Finance", Location: "Paris", ExperienceYears: 12, IsActive: false})
	return store
}

func TestFindEligible_DepartmentAndExperience(t *testing.T) {
	evaluator := NewEvaluator(financeStore(), nil)
	counter := fixedCounts(map[int32]int{1: 1, 2: 0, 3: 2})

	eligible, err := evaluator.FindEligible(context.Background(), domain.AssignmentRules{
		Department:    "Finance",
		MinExperience: float64(5),
	}, counter)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int32{2, 3}, ids(eligible))

	ranked, err := Rank(context.Background(), eligible, counter)
	require.NoError(t, err)
	winner := Winner(ranked)
	require.NotNil(t, winner)
	assert.Equal(t, int32(2), *winner)
}

func TestFindEligible_EmptyRulesMatchesEveryActiveCandidate(t *testing.T) {
	logs := captureLogs(t)
	evaluator := NewEvaluator(financeStore(), nil)

	eligible, err := evaluator.FindEligible(context.Background(), domain.AssignmentRules{}, fixedCounts(nil))
	require.NoError(t, err)
	assert.ElementsMatch(t, []int32{1, 2, 3, 4}, ids(eligible))
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "Empty assignment rules")
}

func TestFindEligible_UnknownRulesAreIgnored(t *testing.T) {
	logs := captureLogs(t)
	evaluator := NewEvaluator(financeStore(), nil)

	eligible, err := evaluator.FindEligible(context.Background(), domain.AssignmentRules{
		Location:      "Paris",
		"shift":       "night",
		"certificate": "cpa",
	}, fixedCounts(nil))
	require.NoError(t, err)
	assert.ElementsMatch(t, []int32{3, 4}, ids(eligible))
	assert.Contains(t, logs.String(), "Unknown assignment rules skipped")
	assert.Contains(t, logs.String(), "certificate,shift")
}

func TestFindEligible_MaxActiveTasksExcludesBusyCandidates(t *testing.T) {
	evaluator := NewEvaluator(financeStore(), nil)

	eligible, err := evaluator.FindEligible(context.Background(), domain.AssignmentRules{
		Department:     "Finance",
		MaxActiveTasks: float64(2),
	}, fixedCounts(map[int32]int{1: 1, 2: 2, 3: 5}))
	require.NoError(t, err)
	assert.Equal(t, []int32{1}, ids(eligible))
}

func TestFindEligible_EmptyPushdownSkipsPredicates(t *testing.T) {
	evaluator := NewEvaluator(financeStore(), nil)
	calls := 0
	counter := func(ctx context.Context, candidateID int32) (int, error) {
		calls++
		return 0, nil
	}

	eligible, err := evaluator.FindEligible(context.Background(), domain.AssignmentRules{
		Department:     "Legal",
		MaxActiveTasks: 3,
	}, counter)
	require.NoError(t, err)
	assert.Empty(t, eligible)
	assert.Equal(t, 0, calls)
}

func TestFindEligible_MalformedRuleMatchesNobody(t *testing.T) {
	logs := captureLogs(t)
	evaluator := NewEvaluator(financeStore(), nil)

	eligible, err := evaluator.FindEligible(context.Background(), domain.AssignmentRules{
		MinExperience: "plenty",
	}, fixedCounts(nil))
	require.NoError(t, err)
	assert.Empty(t, eligible)
	assert.Contains(t, logs.String(), "level=ERROR")
	assert.Error(t, evaluator.Validate(domain.AssignmentRules{MaxActiveTasks: -1}))
	assert.Error(t, evaluator.Validate(domain.AssignmentRules{MaxActiveTasks: float64(0)}))
	assert.NoError(t, evaluator.Validate(domain.AssignmentRules{MaxActiveTasks: float64(1)}))
	assert.NoError(t, evaluator.Validate(domain.AssignmentRules{"anything": []any{1, 2}}))
}

func TestFindEligible_ZeroValuesImposeNoConstraint(t *testing.T) {
	evaluator := NewEvaluator(financeStore(), nil)

	eligible, err := evaluator.FindEligible(context.Background(), domain.AssignmentRules{
		Department:    "",
		MinExperience: 0,
	}, fixedCounts(nil))
	require.NoError(t, err)
	assert.Len(t, eligible, 4)
}

func TestFindEligible_NeverExpandsTheEmptyRulePool(t *testing.T) {
	evaluator := NewEvaluator(financeStore(), nil)
	counter := fixedCounts(map[int32]int{1: 0, 2: 1, 3: 2, 4: 3})

	all, err := evaluator.FindEligible(context.Background(), domain.AssignmentRules{}, counter)
	require.NoError(t, err)

	ruleSets := []domain.AssignmentRules{
		{Department: "Finance"},
		{Location: "Paris"},
		{MinExperience: 7},
		{MaxActiveTasks: 2},
		{Department: "Finance", Location: "Berlin", MaxActiveTasks: 1},
		{Department: "Engineering", MinExperience: "10"},
		{"unknown": true},
		{MinExperience: 100},
	}
	for _, rules := range ruleSets {
		eligible, err := evaluator.FindEligible(context.Background(), rules, counter)
		require.NoError(t, err)
		assert.Subset(t, ids(all), ids(eligible), "rules %v", rules)
	}
}

func TestParseValue(t *testing.T) {
	v, err := ParseValue(KindThreshold, float64(4))
	require.NoError(t, err)
	assert.Equal(t, 4, v.Int)

	_, err = ParseValue(KindThreshold, 4.5)
	assert.Error(t, err)

	_, err = ParseValue(KindEquality, 12)
	assert.Error(t, err)

	v, err = ParseValue(KindDerivedCountThreshold, "3")
	require.NoError(t, err)
	assert.Equal(t, 3, v.Int)

	_, err = ParseValue(KindDerivedCountThreshold, float64(0))
	assert.Error(t, err)

	v, err = ParseValue(KindThreshold, float64(0))
	require.NoError(t, err)
	assert.Equal(t, 0, v.Int)
}

func TestRegistry_CustomRule(t *testing.T) {
	registry := DefaultRegistry()
	registry.Register(Definition{
		Name: "max_experience",
		Kind: KindThreshold,
		Predicate: func(c *domain.Candidate, v Value, ec EvalContext) (bool, error) {
			return c.ExperienceYears <= v.Int, nil
		},
	})
	evaluator := NewEvaluator(financeStore(), registry)

	eligible, err := evaluator.FindEligible(context.Background(), domain.AssignmentRules{"max_experience": 6}, fixedCounts(nil))
	require.NoError(t, err)
	assert.ElementsMatch(t, []int32{1, 2}, ids(eligible))
}
