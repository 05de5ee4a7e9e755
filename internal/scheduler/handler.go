package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/sf7293/task-assigner/internal/domain"
	"github.com/sf7293/task-assigner/internal/metrics"
)

type Executor interface {
	Execute(ctx context.Context, job domain.Job) error
}

type RetryPublisher interface {
	PublishDelayedMessage(ctx context.Context, queueName string, body []byte, delay time.Duration) error
}

// JobHandler executes queued jobs and schedules their retries. A message is acknowledged only after
// its job succeeded, was handed to the retry queue, or was given up on.
type JobHandler struct {
	executor Executor
	retries  RetryPublisher
	queues   domain.QueueNames
	policies Policies
	metrics  domain.MetricsRecorder
}

func NewJobHandler(executor Executor, retries RetryPublisher, queues domain.QueueNames, policies Policies) *JobHandler {
	if policies == nil {
		policies = DefaultPolicies()
	}

	return &JobHandler{
		executor: executor,
		retries:  retries,
		queues:   queues,
		policies: policies,
		metrics:  metrics.Nop{},
	}
}

func (h *JobHandler) WithMetrics(m domain.MetricsRecorder) *JobHandler {
	h.metrics = metrics.OrNop(m)
	return h
}

func (h *JobHandler) Handle(ctx context.Context, msg domain.Message) Result {
	job := domain.Job{}
	if err := json.Unmarshal(msg.Body(), &job); err != nil {
		slog.ErrorContext(ctx, "There was an error in unmarshalling the job, dropping it", "error", err.Error(), "body", string(msg.Body()))
		ack(ctx, msg, job)
		return Result{Outcome: OutcomeExhausted, Err: err}
	}
	slog.InfoContext(ctx, "Job is picked up from the queue", "job_id", job.ID, "kind", job.Kind, "target_id", job.TargetID, "attempt", job.Attempt+1)

	start := time.Now()
	err := h.executor.Execute(ctx, job)
	result := h.policies.For(job.Kind).Evaluate(job.Attempt, err)
	h.metrics.RecordJobResult(job.Kind, result.Outcome.String(), time.Since(start).Seconds())

	switch result.Outcome {
	case OutcomeSuccess:
		slog.InfoContext(ctx, "Job finished", "job_id", job.ID, "kind", job.Kind, "target_id", job.TargetID, "duration_ms", time.Since(start).Milliseconds())
		ack(ctx, msg, job)
	case OutcomeRetryable, OutcomeDeferred:
		slog.WarnContext(ctx, "Job failed, scheduling another attempt", "job_id", job.ID, "kind", job.Kind, "target_id", job.TargetID, "outcome", result.Outcome.String(), "next_attempt", result.Attempt+1, "delay", result.Delay.String(), "error", err.Error())
		h.reschedule(ctx, msg, job, result)
	case OutcomeExhausted:
		slog.ErrorContext(ctx, "Job failed permanently, giving up", "job_id", job.ID, "kind", job.Kind, "target_id", job.TargetID, "attempts", job.Attempt+1, "error", err.Error())
		ack(ctx, msg, job)
	}

	return result
}

func (h *JobHandler) reschedule(ctx context.Context, msg domain.Message, job domain.Job, result Result) {
	next := job
	next.Attempt = result.Attempt

	body, err := json.Marshal(next)
	if err == nil {
		err = h.retries.PublishDelayedMessage(ctx, h.queues.For(job.Queue), body, result.Delay)
	}
	if err != nil {
		slog.ErrorContext(ctx, "Could not schedule job retry, returning it to the queue", "job_id", job.ID, "error", err.Error())
		if err := msg.Nack(true); err != nil {
			slog.ErrorContext(ctx, "Error occurred while rejecting message", "job_id", job.ID, "error", err.Error())
		}
		return
	}

	ack(ctx, msg, job)
}

func ack(ctx context.Context, msg domain.Message, job domain.Job) {
	if err := msg.Ack(); err != nil {
		slog.ErrorContext(ctx, "Error occurred while acknowledging message", "job_id", job.ID, "error", err.Error())
	}
}
