// Package cache is a best-effort read-through cache in front of the authoritative store.
// Backend failures never reach callers: a failed read is a miss and a failed write is a no-op.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/sf7293/task-assigner/internal/domain"
	"github.com/sf7293/task-assigner/internal/errval"
)

type TTLConfig struct {
	PendingTasks       time.Duration
	ActiveCount        time.Duration
	EligibleCandidates time.Duration
	TaskDetail         time.Duration
}

func DefaultTTLConfig() TTLConfig {
	return TTLConfig{
		PendingTasks:       60 * time.Second,
		ActiveCount:        30 * time.Second,
		EligibleCandidates: 120 * time.Second,
		TaskDetail:         60 * time.Second,
	}
}

type Cache struct {
	backend domain.KeyValueStore
	ttl     TTLConfig
}

// New returns a cache over backend. A nil backend disables caching.
func New(backend domain.KeyValueStore, ttl TTLConfig) *Cache {
	return &Cache{
		backend: backend,
		ttl:     ttl,
	}
}

func (c *Cache) TTL() TTLConfig {
	return c.ttl
}

func KeyPendingTasks(candidateID int32) string {
	return "user:" + strconv.FormatInt(int64(candidateID), 10) + ":my_tasks"
}

func KeyActiveCount(candidateID int32) string {
	return "user:" + strconv.FormatInt(int64(candidateID), 10) + ":active_count"
}

func KeyEligibleCandidates(taskID int32) string {
	return "task:" + strconv.FormatInt(int64(taskID), 10) + ":eligible_users"
}

func KeyTaskDetail(taskID int32) string {
	return "task:" + strconv.FormatInt(int64(taskID), 10) + ":detail"
}

// Get decodes the cached value of key into dest and reports whether it was a hit.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	if c.backend == nil {
		return false
	}

	raw, err := c.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, errval.ErrNotFound) {
			slog.DebugContext(ctx, "Cache miss", "key", key)
			return false
		}

		slog.WarnContext(ctx, "Cache read failed, falling back to store", "key", key, "error", err.Error())
		return false
	}

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		slog.WarnContext(ctx, "Cached value could not be decoded, treating as miss", "key", key, "error", err.Error())
		return false
	}

	slog.DebugContext(ctx, "Cache hit", "key", key)
	return true
}

func (c *Cache) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) {
	if c.backend == nil {
		return
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		slog.WarnContext(ctx, "Value could not be encoded for cache", "key", key, "error", err.Error())
		return
	}

	if err := c.backend.SetEX(ctx, key, string(encoded), ttl); err != nil {
		slog.WarnContext(ctx, "Cache write failed", "key", key, "error", err.Error())
	}
}

func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if c.backend == nil || len(keys) == 0 {
		return
	}

	if err := c.backend.Del(ctx, keys...); err != nil {
		slog.WarnContext(ctx, "Cache delete failed", "keys", keys, "error", err.Error())
		return
	}
	slog.DebugContext(ctx, "Cache keys deleted", "keys", keys)
}

func (c *Cache) DeletePattern(ctx context.Context, pattern string) {
	if c.backend == nil {
		return
	}

	count, err := c.backend.DelPattern(ctx, pattern)
	if err != nil {
		slog.WarnContext(ctx, "Cache pattern delete failed", "pattern", pattern, "error", err.Error())
		return
	}
	if count > 0 {
		slog.InfoContext(ctx, "Cache flushed by pattern", "pattern", pattern, "count", count)
	}
}

// UserKeys returns the keys scoped to one candidate.
func UserKeys(candidateID int32) []string {
	return []string{KeyPendingTasks(candidateID), KeyActiveCount(candidateID)}
}

// TaskKeys returns the keys scoped to one task.
func TaskKeys(taskID int32) []string {
	return []string{KeyTaskDetail(taskID), KeyEligibleCandidates(taskID)}
}

// AssignmentKeys returns every key an assignment change makes stale.
func AssignmentKeys(oldAssignee, newAssignee *int32, taskID int32) []string {
	keys := TaskKeys(taskID)
	if oldAssignee != nil {
		keys = append(keys, UserKeys(*oldAssignee)...)
	}
	if newAssignee != nil && !domain.SameAssignee(oldAssignee, newAssignee) {
		keys = append(keys, UserKeys(*newAssignee)...)
	}

	return keys
}

// InvalidateUser is called when a candidate's profile or workload changes.
func (c *Cache) InvalidateUser(ctx context.Context, candidateID int32) {
	c.Delete(ctx, UserKeys(candidateID)...)
}

// InvalidateTask is called when a task's rules or details change.
func (c *Cache) InvalidateTask(ctx context.Context, taskID int32) {
	c.Delete(ctx, TaskKeys(taskID)...)
}

// InvalidateAssignment clears both sides of an assignment change plus the task itself.
func (c *Cache) InvalidateAssignment(ctx context.Context, oldAssignee, newAssignee *int32, taskID int32) {
	c.Delete(ctx, AssignmentKeys(oldAssignee, newAssignee, taskID)...)
}
