package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/sf7293/task-assigner/internal/domain"
	"github.com/sf7293/task-assigner/internal/errval"
)

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetryable
	OutcomeDeferred
	OutcomeExhausted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeDeferred:
		return "deferred"
	case OutcomeExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Result is the verdict on one execution attempt. For OutcomeRetryable and OutcomeDeferred,
// Attempt is the attempt counter the re-delivered job carries and Delay is how long to wait.
type Result struct {
	Outcome Outcome
	Attempt int
	Delay   time.Duration
	Err     error
}

// RetryAfterError asks for the job to run again after a delay without consuming a retry.
type RetryAfterError struct {
	After time.Duration
	Err   error
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("%s, retry after %s", e.Err.Error(), e.After)
}

func (e *RetryAfterError) Unwrap() error {
	return e.Err
}

// Policy retries with BaseDelay * 2^attempt until MaxAttempts retries have been made.
type Policy struct {
	BaseDelay   time.Duration
	MaxAttempts int
}

func (p Policy) Evaluate(attempt int, err error) Result {
	if err == nil {
		return Result{Outcome: OutcomeSuccess, Attempt: attempt}
	}

	var retryAfter *RetryAfterError
	if errors.As(err, &retryAfter) {
		return Result{Outcome: OutcomeDeferred, Attempt: attempt, Delay: retryAfter.After, Err: err}
	}

	if errors.Is(err, errval.ErrInvalidJobKind) || attempt >= p.MaxAttempts {
		return Result{Outcome: OutcomeExhausted, Attempt: attempt, Err: err}
	}

	return Result{
		Outcome: OutcomeRetryable,
		Attempt: attempt + 1,
		Delay:   p.BaseDelay * time.Duration(1<<attempt),
		Err:     err,
	}
}

type Policies map[domain.JobKind]Policy

func DefaultPolicies() Policies {
	return Policies{
		domain.AssignTaskJob:       {BaseDelay: 60 * time.Second, MaxAttempts: 5},
		domain.RecomputeForUserJob: {BaseDelay: 30 * time.Second, MaxAttempts: 3},
		domain.BulkRecomputeJob:    {BaseDelay: 120 * time.Second, MaxAttempts: 3},
	}
}

// For returns the policy of kind. Unknown kinds get no retries.
func (p Policies) For(kind domain.JobKind) Policy {
	if policy, ok := p[kind]; ok {
		return policy
	}

	return Policy{}
}
