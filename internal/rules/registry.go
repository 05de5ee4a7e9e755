package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/sf7293/task-assigner/internal/domain"
)

// Kind classifies how a rule value is interpreted.
type Kind int

const (
	// KindEquality compares a candidate attribute with a string.
	KindEquality Kind = iota + 1
	// KindThreshold requires a candidate attribute to be at least a non-negative integer.
	KindThreshold
	// KindDerivedCountThreshold requires a derived count to stay strictly below a positive integer.
	KindDerivedCountThreshold
)

func (k Kind) String() string {
	switch k {
	case KindEquality:
		return "equality"
	case KindThreshold:
		return "threshold"
	case KindDerivedCountThreshold:
		return "derived_count_threshold"
	default:
		return "unknown"
	}
}

const (
	Department     = "department"
	Location       = "location"
	MinExperience  = "min_experience"
	MaxActiveTasks = "max_active_tasks"
)

// ActiveCounter returns the active-task-count of a candidate.
type ActiveCounter func(ctx context.Context, candidateID int32) (int, error)

// EvalContext is handed to in-process predicates. Predicates read derived state only through it.
type EvalContext struct {
	Context     context.Context
	ActiveCount ActiveCounter
}

// Value is a parsed rule value. Only the field matching the rule kind is set.
type Value struct {
	Str string
	Int int
}

// IsZero reports whether the value imposes no constraint when pushed down.
func (v Value) IsZero() bool {
	return v.Str == "" && v.Int == 0
}

type Predicate func(c *domain.Candidate, v Value, ec EvalContext) (bool, error)

// Definition describes one named rule. Exactly one of Pushdown and Predicate is set.
type Definition struct {
	Name      string
	Kind      Kind
	Pushdown  func(filter *domain.CandidateFilter, v Value)
	Predicate Predicate
}

type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: map[string]Definition{}}
}

// DefaultRegistry returns a registry holding every built-in rule.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Definition{
		Name: Department,
		Kind: KindEquality,
		Pushdown: func(f *domain.CandidateFilter, v Value) {
			f.Department = &v.Str
		},
	})
	r.Register(Definition{
		Name: Location,
		Kind: KindEquality,
		Pushdown: func(f *domain.CandidateFilter, v Value) {
			f.Location = &v.Str
		},
	})
	r.Register(Definition{
		Name: MinExperience,
		Kind: KindThreshold,
		Pushdown: func(f *domain.CandidateFilter, v Value) {
			f.MinExperience = &v.Int
		},
	})
	r.Register(Definition{
		Name:      MaxActiveTasks,
		Kind:      KindDerivedCountThreshold,
		Predicate: belowActiveCount,
	})

	return r
}

func (r *Registry) Register(def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name] = def
}

func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

func belowActiveCount(c *domain.Candidate, v Value, ec EvalContext) (bool, error) {
	count, err := ec.ActiveCount(ec.Context, c.ID)
	if err != nil {
		return false, err
	}

	return count < v.Int, nil
}

// ParseValue converts a raw rule value into the form its kind expects.
func ParseValue(kind Kind, raw any) (Value, error) {
	switch kind {
	case KindEquality:
		s, ok := raw.(string)
		if !ok {
			return Value{}, fmt.Errorf("expected a string, got %T", raw)
		}
		return Value{Str: s}, nil
	case KindThreshold, KindDerivedCountThreshold:
		n, err := toInt(raw)
		if err != nil {
			return Value{}, err
		}
		if n < 0 {
			return Value{}, fmt.Errorf("expected a non-negative integer, got %d", n)
		}
		// No count is below zero, so a zero cap would match nobody
		if kind == KindDerivedCountThreshold && n == 0 {
			return Value{}, errors.New("expected a positive integer, got 0")
		}
		return Value{Int: n}, nil
	default:
		return Value{}, fmt.Errorf("unsupported rule kind %d", kind)
	}
}

func toInt(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("expected an integer, got %v", v)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, err
		}
		return int(n), nil
	case string:
		return strconv.Atoi(v)
	default:
		return 0, fmt.Errorf("expected an integer, got %T", raw)
	}
}
