// Package dispatch decides, per trigger, whether assignment work is queued or run inline.
// A trigger always ends as either a queued job or a finished synchronous execution.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sf7293/task-assigner/internal/domain"
	"github.com/sf7293/task-assigner/internal/metrics"
)

const DefaultProbeTimeout = 2 * time.Second

type Mode int

const (
	ModeAsync Mode = iota
	ModeSync
)

func (m Mode) String() string {
	if m == ModeAsync {
		return "async"
	}
	return "sync"
}

type Outcome string

const (
	OutcomeQueued         Outcome = "queued"
	OutcomeExecutedInline Outcome = "executed_inline"
)

// Probe reports whether the queue broker can take work. It must honour ctx.
type Probe func(ctx context.Context) error

type Publisher interface {
	PublishMessage(ctx context.Context, queueName string, body []byte) error
}

type Executor interface {
	Execute(ctx context.Context, job domain.Job) error
}

type Coordinator struct {
	probe        Probe
	publisher    Publisher
	executor     Executor
	queues       domain.QueueNames
	probeTimeout time.Duration
	metrics      domain.MetricsRecorder
}

// NewCoordinator wires a coordinator. A nil probe or publisher makes every dispatch synchronous.
func NewCoordinator(probe Probe, publisher Publisher, executor Executor, queues domain.QueueNames, probeTimeout time.Duration) *Coordinator {
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}

	return &Coordinator{
		probe:        probe,
		publisher:    publisher,
		executor:     executor,
		queues:       queues,
		probeTimeout: probeTimeout,
		metrics:      metrics.Nop{},
	}
}

// WithMetrics reports every dispatch to m.
func (c *Coordinator) WithMetrics(m domain.MetricsRecorder) *Coordinator {
	c.metrics = metrics.OrNop(m)
	return c
}

func (c *Coordinator) Dispatch(ctx context.Context, kind domain.JobKind, targetID int32, class domain.QueueClass) (Outcome, error) {
	return c.DispatchJob(ctx, domain.NewJob(kind, targetID, class))
}

// DispatchBulk dispatches a bulk recompute. Empty taskIDs means every unassigned task.
func (c *Coordinator) DispatchBulk(ctx context.Context, taskIDs []int32) (Outcome, error) {
	job := domain.NewJob(domain.BulkRecomputeJob, 0, domain.BulkQueue)
	job.TaskIDs = taskIDs
	return c.DispatchJob(ctx, job)
}

func (c *Coordinator) DispatchJob(ctx context.Context, job domain.Job) (Outcome, error) {
	start := time.Now()
	outcome, err := c.Execute(ctx, c.Decide(ctx), job)
	c.metrics.RecordDispatch(job.Kind, string(outcome), time.Since(start).Seconds())
	return outcome, err
}

// Decide probes the broker within the probe timeout. A probe that neither answers nor honours its
// context is abandoned once the timeout elapses.
func (c *Coordinator) Decide(ctx context.Context) Mode {
	if c.probe == nil || c.publisher == nil {
		return ModeSync
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- c.probe(probeCtx)
	}()

	select {
	case err := <-result:
		if err != nil {
			slog.WarnContext(ctx, "Queue broker probe failed", "error", err.Error())
			return ModeSync
		}
		return ModeAsync
	case <-probeCtx.Done():
		slog.WarnContext(ctx, "Queue broker probe timed out", "timeout", c.probeTimeout.String())
		return ModeSync
	}
}

// Execute runs job in the given mode. In async mode the job is published exactly once; a failed
// publish falls back to synchronous execution. Only a synchronous execution error is returned.
func (c *Coordinator) Execute(ctx context.Context, mode Mode, job domain.Job) (Outcome, error) {
	if mode == ModeAsync {
		err := c.enqueue(ctx, job)
		if err == nil {
			slog.InfoContext(ctx, "Job queued", "job_id", job.ID, "kind", job.Kind, "target_id", job.TargetID, "queue", job.Queue)
			return OutcomeQueued, nil
		}

		slog.WarnContext(ctx, "Enqueue failed, falling back to synchronous execution", "job_id", job.ID, "kind", job.Kind, "target_id", job.TargetID, "error", err.Error())
	} else {
		slog.WarnContext(ctx, "Queue unavailable, running job synchronously", "job_id", job.ID, "kind", job.Kind, "target_id", job.TargetID)
	}

	start := time.Now()
	err := c.executor.Execute(ctx, job)
	duration := time.Since(start)
	if err != nil {
		slog.ErrorContext(ctx, "Synchronous job execution failed", "job_id", job.ID, "kind", job.Kind, "target_id", job.TargetID, "duration_ms", duration.Milliseconds(), "error", err.Error())
		return OutcomeExecutedInline, err
	}

	slog.InfoContext(ctx, "Job executed synchronously", "job_id", job.ID, "kind", job.Kind, "target_id", job.TargetID, "duration_ms", duration.Milliseconds())
	return OutcomeExecutedInline, nil
}

func (c *Coordinator) enqueue(ctx context.Context, job domain.Job) error {
	if c.publisher == nil {
		return errors.New("no publisher configured")
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()
	return c.publisher.PublishMessage(publishCtx, c.queues.For(job.Queue), body)
}
