package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sf7293/task-assigner/internal/assignment"
	"github.com/sf7293/task-assigner/internal/domain"
	"github.com/sf7293/task-assigner/internal/errval"
	"github.com/sf7293/task-assigner/internal/metrics"
)

const (
	DefaultChunkSize   = 50
	bulkRateLimiterKey = "bulk_recompute"
)

type BulkTaskSource interface {
	GetActiveTasksByIDs(ctx context.Context, IDs []int32) ([]*domain.Task, error)
	GetUnassignedTasks(ctx context.Context, afterID int32, limit int32) ([]*domain.Task, error)
}

type ChunkAssigner interface {
	AssignChunk(ctx context.Context, tasks []*domain.Task) (assignment.ChunkResult, error)
}

type BulkSummary struct {
	Total           int   `json:"total"`
	Assigned        int   `json:"assigned"`
	StillUnassigned int   `json:"still_unassigned"`
	Skipped         int   `json:"skipped"`
	Chunks          []int `json:"chunks"`
}

// BulkRecomputer recomputes many tasks in fixed-size chunks, each committed on its own.
type BulkRecomputer struct {
	tasks     BulkTaskSource
	assigner  ChunkAssigner
	limiter   domain.RateLimiter
	chunkSize int
	metrics   domain.MetricsRecorder
}

// NewBulkRecomputer builds a recomputer. limiter may be nil to disable rate limiting.
func NewBulkRecomputer(tasks BulkTaskSource, assigner ChunkAssigner, limiter domain.RateLimiter, chunkSize int) *BulkRecomputer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	return &BulkRecomputer{
		tasks:     tasks,
		assigner:  assigner,
		limiter:   limiter,
		chunkSize: chunkSize,
		metrics:   metrics.Nop{},
	}
}

func (b *BulkRecomputer) WithMetrics(m domain.MetricsRecorder) *BulkRecomputer {
	b.metrics = metrics.OrNop(m)
	return b
}

// Run recomputes the tasks with the given ids, or every active unassigned task when taskIDs is empty.
// Chunks committed before a failure stay committed; running again is safe.
func (b *BulkRecomputer) Run(ctx context.Context, taskIDs []int32) (BulkSummary, error) {
	summary := BulkSummary{Chunks: []int{}}

	if b.limiter != nil {
		allowed, retryAfter, err := b.limiter.Allow(ctx, bulkRateLimiterKey)
		if err != nil {
			slog.WarnContext(ctx, "Bulk recompute rate limiter unavailable, proceeding", "error", err.Error())
		} else if !allowed {
			slog.WarnContext(ctx, "Bulk recompute rate limited", "retry_after", retryAfter.String())
			return summary, &RetryAfterError{After: retryAfter, Err: errval.ErrRateLimited}
		}
	}

	next := b.unassignedChunks()
	if len(taskIDs) > 0 {
		next = b.chunksOf(taskIDs)
	}

	for {
		tasks, err := next(ctx)
		if err != nil {
			return summary, err
		}
		if len(tasks) == 0 {
			break
		}

		result, err := b.assigner.AssignChunk(ctx, tasks)
		if err != nil {
			return summary, fmt.Errorf("chunk %d: %w", len(summary.Chunks)+1, err)
		}

		summary.Total += len(tasks)
		summary.Assigned += result.Assigned
		summary.StillUnassigned += result.StillUnassigned
		summary.Skipped += result.Skipped
		summary.Chunks = append(summary.Chunks, len(tasks))
		b.metrics.RecordBulkChunk(result.Assigned, result.StillUnassigned, result.Skipped)
		slog.InfoContext(ctx, "Bulk recompute chunk committed", "chunk", len(summary.Chunks), "size", len(tasks), "assigned", result.Assigned, "still_unassigned", result.StillUnassigned, "skipped", result.Skipped)
	}

	slog.InfoContext(ctx, "Bulk recompute complete", "total", summary.Total, "assigned", summary.Assigned, "still_unassigned", summary.StillUnassigned, "skipped", summary.Skipped, "chunks", len(summary.Chunks))
	return summary, nil
}

type chunkSource func(ctx context.Context) ([]*domain.Task, error)

func (b *BulkRecomputer) unassignedChunks() chunkSource {
	var afterID int32
	return func(ctx context.Context) ([]*domain.Task, error) {
		tasks, err := b.tasks.GetUnassignedTasks(ctx, afterID, int32(b.chunkSize))
		if err != nil {
			return nil, fmt.Errorf("get unassigned tasks: %w", err)
		}
		if len(tasks) > 0 {
			afterID = tasks[len(tasks)-1].ID
		}
		return tasks, nil
	}
}

// chunksOf walks taskIDs chunkSize ids at a time. Ids of missing or deleted tasks are dropped, and
// a chunk whose ids are all gone is skipped rather than ending the walk.
func (b *BulkRecomputer) chunksOf(taskIDs []int32) chunkSource {
	offset := 0
	return func(ctx context.Context) ([]*domain.Task, error) {
		for offset < len(taskIDs) {
			end := min(offset+b.chunkSize, len(taskIDs))
			ids := taskIDs[offset:end]
			offset = end

			tasks, err := b.tasks.GetActiveTasksByIDs(ctx, ids)
			if err != nil {
				return nil, fmt.Errorf("get tasks by ids: %w", err)
			}
			if len(tasks) > 0 {
				return tasks, nil
			}
		}
		return nil, nil
	}
}
