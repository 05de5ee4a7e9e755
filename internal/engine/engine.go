// Package engine builds the assignment components from explicitly constructed clients.
package engine

import (
	"github.com/sf7293/task-assigner/configs"
	"github.com/sf7293/task-assigner/internal/assignment"
	"github.com/sf7293/task-assigner/internal/cache"
	"github.com/sf7293/task-assigner/internal/dispatch"
	"github.com/sf7293/task-assigner/internal/domain"
	"github.com/sf7293/task-assigner/internal/rules"
	"github.com/sf7293/task-assigner/internal/scheduler"
	"github.com/sf7293/task-assigner/pkg/process"
)

// Infra holds the clients the engine runs on. Only Storage is required: a nil KeyValue disables
// caching, a nil Limiter disables bulk rate limiting, a nil Queue makes every dispatch synchronous
// and a nil Metrics discards pipeline events.
type Infra struct {
	Storage  domain.Storage
	KeyValue domain.KeyValueStore
	Limiter  domain.RateLimiter
	Queue    domain.Queue
	Metrics  domain.MetricsRecorder
}

type Engine struct {
	Evaluator    *rules.Evaluator
	Cache        *cache.Cache
	Orchestrator *assignment.Orchestrator
	Bulk         *scheduler.BulkRecomputer
	Runner       *process.Runner
	Coordinator  *dispatch.Coordinator
}

func New(infra Infra, cfg configs.AssignmentConfig, queues domain.QueueNames) *Engine {
	evaluator := rules.NewEvaluator(infra.Storage, rules.DefaultRegistry())
	c := cache.New(infra.KeyValue, cfg.CacheTTLs())
	orchestrator := assignment.NewOrchestrator(infra.Storage, evaluator, c)
	bulk := scheduler.NewBulkRecomputer(infra.Storage, orchestrator, infra.Limiter, cfg.BulkChunkSize).WithMetrics(infra.Metrics)
	runner := process.NewRunner(process.Dependencies{
		Assigner:   orchestrator,
		Recomputer: orchestrator,
		Bulk:       bulk,
	})

	var probe dispatch.Probe
	var publisher dispatch.Publisher
	if infra.Queue != nil {
		probe = infra.Queue.Probe
		publisher = infra.Queue
	}

	return &Engine{
		Evaluator:    evaluator,
		Cache:        c,
		Orchestrator: orchestrator,
		Bulk:         bulk,
		Runner:       runner,
		Coordinator:  dispatch.NewCoordinator(probe, publisher, runner, queues, cfg.ProbeTimeout()).WithMetrics(infra.Metrics),
	}
}
