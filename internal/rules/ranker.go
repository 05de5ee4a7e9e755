package rules

import (
	"context"
	"sort"
	"sync"

	"github.com/sf7293/task-assigner/internal/domain"
)

type Ranked struct {
	Candidate       *domain.Candidate
	ActiveTaskCount int
}

// Rank orders candidates best-first: lowest active-task-count, then lowest id.
func Rank(ctx context.Context, candidates []*domain.Candidate, counter ActiveCounter) ([]Ranked, error) {
	ranked := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		count, err := counter(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, Ranked{Candidate: c, ActiveTaskCount: count})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].ActiveTaskCount != ranked[j].ActiveTaskCount {
			return ranked[i].ActiveTaskCount < ranked[j].ActiveTaskCount
		}
		return ranked[i].Candidate.ID < ranked[j].Candidate.ID
	})

	return ranked, nil
}

// Winner returns the best-ranked candidate id, or nil when nobody is eligible.
func Winner(ranked []Ranked) *int32 {
	if len(ranked) == 0 {
		return nil
	}

	id := ranked[0].Candidate.ID
	return &id
}

// Memoize caches counter results for the lifetime of the returned counter.
func Memoize(counter ActiveCounter) ActiveCounter {
	var mu sync.Mutex
	seen := map[int32]int{}

	return func(ctx context.Context, candidateID int32) (int, error) {
		mu.Lock()
		if count, ok := seen[candidateID]; ok {
			mu.Unlock()
			return count, nil
		}
		mu.Unlock()

		count, err := counter(ctx, candidateID)
		if err != nil {
			return 0, err
		}

		mu.Lock()
		seen[candidateID] = count
		mu.Unlock()
		return count, nil
	}
}
