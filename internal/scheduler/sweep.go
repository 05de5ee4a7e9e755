package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sf7293/task-assigner/internal/dispatch"
	"github.com/sf7293/task-assigner/internal/domain"
	"github.com/sf7293/task-assigner/internal/metrics"
)

const (
	DefaultSweepInterval = 10 * time.Minute
	sweepLockKey         = "lock:sweep_unassigned"
	sweepPageSize        = 500
)

type UnassignedSource interface {
	GetUnassignedTasks(ctx context.Context, afterID int32, limit int32) ([]*domain.Task, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, kind domain.JobKind, targetID int32, class domain.QueueClass) (dispatch.Outcome, error)
}

type SweepSummary struct {
	Found  int `json:"found"`
	Queued int `json:"queued"`
	Inline int `json:"inline"`
	Failed int `json:"failed"`
}

// Sweeper re-dispatches every active unassigned task on a fixed interval, so tasks that had no
// eligible candidate pick one up once the candidate pool changes.
type Sweeper struct {
	tasks      UnassignedSource
	dispatcher Dispatcher
	lock       domain.DistributedLock
	interval   time.Duration
	metrics    domain.MetricsRecorder
}

// NewSweeper builds a sweeper. lock may be nil; when set, at most one sweep runs per interval
// across all replicas sharing it.
func NewSweeper(tasks UnassignedSource, dispatcher Dispatcher, lock domain.DistributedLock, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	return &Sweeper{
		tasks:      tasks,
		dispatcher: dispatcher,
		lock:       lock,
		interval:   interval,
		metrics:    metrics.Nop{},
	}
}

func (s *Sweeper) WithMetrics(m domain.MetricsRecorder) *Sweeper {
	s.metrics = metrics.OrNop(m)
	return s
}

// Run sweeps immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepOnce(ctx); err != nil {
			slog.ErrorContext(ctx, "Sweep of unassigned tasks failed", "error", err.Error())
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) (SweepSummary, error) {
	summary := SweepSummary{}

	if s.lock != nil {
		locked, err := s.lock.Lock(ctx, sweepLockKey, s.interval/2)
		if err != nil {
			slog.WarnContext(ctx, "Sweep lock unavailable, sweeping anyway", "error", err.Error())
		} else if !locked {
			slog.InfoContext(ctx, "Another sweeper ran during this interval, skipping")
			return summary, nil
		}
	}

	var afterID int32
	for {
		tasks, err := s.tasks.GetUnassignedTasks(ctx, afterID, sweepPageSize)
		if err != nil {
			return summary, fmt.Errorf("get unassigned tasks: %w", err)
		}
		if len(tasks) == 0 {
			break
		}

		for _, task := range tasks {
			summary.Found++
			outcome, err := s.dispatcher.Dispatch(ctx, domain.AssignTaskJob, task.ID, domain.DefaultQueue)
			switch {
			case err != nil:
				summary.Failed++
				slog.ErrorContext(ctx, "Re-dispatch of unassigned task failed", "task_id", task.ID, "error", err.Error())
			case outcome == dispatch.OutcomeQueued:
				summary.Queued++
			default:
				summary.Inline++
			}
		}

		afterID = tasks[len(tasks)-1].ID
	}

	s.metrics.RecordSweep(summary.Found, summary.Failed)
	slog.InfoContext(ctx, "Unassigned tasks have been re-dispatched", "found", summary.Found, "queued", summary.Queued, "inline", summary.Inline, "failed", summary.Failed)
	return summary, nil
}
