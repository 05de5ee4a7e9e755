package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/sf7293/task-assigner/internal/domain"
)

// CandidateSource is the part of the candidate store the evaluator pushes filters into.
type CandidateSource interface {
	FindActiveCandidates(ctx context.Context, filter domain.CandidateFilter) ([]*domain.Candidate, error)
}

type Evaluator struct {
	source   CandidateSource
	registry *Registry
}

func NewEvaluator(source CandidateSource, registry *Registry) *Evaluator {
	if registry == nil {
		registry = DefaultRegistry()
	}

	return &Evaluator{
		source:   source,
		registry: registry,
	}
}

type boundPredicate struct {
	name      string
	value     Value
	predicate Predicate
}

type plan struct {
	filter     domain.CandidateFilter
	predicates []boundPredicate
	unknown    []string
}

func (e *Evaluator) compile(rules domain.AssignmentRules) (plan, error) {
	p := plan{}
	var errs []error

	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def, ok := e.registry.Lookup(name)
		if !ok {
			p.unknown = append(p.unknown, name)
			continue
		}

		v, err := ParseValue(def.Kind, rules[name])
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %q: %w", name, err))
			continue
		}

		switch {
		case def.Pushdown != nil:
			if !v.IsZero() {
				def.Pushdown(&p.filter, v)
			}
		case def.Predicate != nil:
			p.predicates = append(p.predicates, boundPredicate{name: name, value: v, predicate: def.Predicate})
		}
	}

	return p, errors.Join(errs...)
}

// Validate reports every known rule whose value cannot be interpreted. Unknown rules are accepted.
func (e *Evaluator) Validate(rules domain.AssignmentRules) error {
	_, err := e.compile(rules)
	return err
}

// FindEligible returns the active candidates satisfying every known rule, in no particular order.
func (e *Evaluator) FindEligible(ctx context.Context, rules domain.AssignmentRules, counter ActiveCounter) ([]*domain.Candidate, error) {
	if len(rules) == 0 {
		slog.WarnContext(ctx, "Empty assignment rules, every active candidate is eligible")
	}

	p, err := e.compile(rules)
	if err != nil {
		slog.ErrorContext(ctx, "Malformed assignment rules, no candidate is eligible", "rules", rules, "error", err.Error())
		return []*domain.Candidate{}, nil
	}

	if len(p.unknown) > 0 {
		slog.WarnContext(ctx, "Unknown assignment rules skipped", "unknown_rules", strings.Join(p.unknown, ","))
	}

	candidates, err := e.source.FindActiveCandidates(ctx, p.filter)
	if err != nil {
		return nil, fmt.Errorf("find active candidates: %w", err)
	}
	slog.DebugContext(ctx, "Pushdown filter applied", "candidates_count", len(candidates), "rules", rules)

	if len(candidates) == 0 || len(p.predicates) == 0 {
		return candidates, nil
	}

	ec := EvalContext{Context: ctx, ActiveCount: counter}
	eligible := make([]*domain.Candidate, 0, len(candidates))
	for _, c := range candidates {
		ok, err := matchesAll(c, p.predicates, ec)
		if err != nil {
			return nil, err
		}
		if ok {
			eligible = append(eligible, c)
		}
	}
	slog.DebugContext(ctx, "In-process rules applied", "eligible_count", len(eligible))

	return eligible, nil
}

func matchesAll(c *domain.Candidate, predicates []boundPredicate, ec EvalContext) (bool, error) {
	for _, bp := range predicates {
		ok, err := bp.predicate(c, bp.value, ec)
		if err != nil {
			return false, fmt.Errorf("evaluate rule %q for candidate %d: %w", bp.name, c.ID, err)
		}
		if !ok {
			return false, nil
		}
	}

	return true, nil
}
