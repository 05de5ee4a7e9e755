// Package metrics exports assignment pipeline events to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sf7293/task-assigner/internal/domain"
)

const DefaultNamespace = "task_assigner"

// Prometheus implements domain.MetricsRecorder backed by Prometheus collectors.
type Prometheus struct {
	dispatches      *prometheus.CounterVec
	dispatchLatency *prometheus.HistogramVec
	jobResults      *prometheus.CounterVec
	jobLatency      *prometheus.HistogramVec
	sweptTasks      *prometheus.CounterVec
	bulkTasks       *prometheus.CounterVec
}

var _ domain.MetricsRecorder = (*Prometheus)(nil)

// NewPrometheus registers the collectors on reg, or on prometheus.DefaultRegisterer when reg is nil.
// It panics if they are already registered there.
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	p := &Prometheus{
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "triggers_total",
			Help:      "Dispatched triggers by job kind and outcome (queued, executed_inline).",
		}, []string{"kind", "outcome"}),
		dispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Time spent deciding and carrying out a dispatch, in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 11), // 5ms .. ~5s
		}, []string{"kind"}),
		jobResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "job_results_total",
			Help:      "Queued job results by kind and outcome (success, retryable, deferred, exhausted).",
		}, []string{"kind", "outcome"}),
		jobLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Queued job execution time in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		}, []string{"kind"}),
		sweptTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "tasks_total",
			Help:      "Unassigned tasks seen by the periodic sweep, by result (found, failed).",
		}, []string{"result"}),
		bulkTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bulk",
			Name:      "tasks_total",
			Help:      "Tasks processed by bulk recompute chunks, by result (assigned, still_unassigned, skipped).",
		}, []string{"result"}),
	}

	reg.MustRegister(p.dispatches, p.dispatchLatency, p.jobResults, p.jobLatency, p.sweptTasks, p.bulkTasks)
	return p
}

func (p *Prometheus) RecordDispatch(kind domain.JobKind, outcome string, seconds float64) {
	p.dispatches.WithLabelValues(string(kind), outcome).Inc()
	p.dispatchLatency.WithLabelValues(string(kind)).Observe(seconds)
}

func (p *Prometheus) RecordJobResult(kind domain.JobKind, outcome string, seconds float64) {
	p.jobResults.WithLabelValues(string(kind), outcome).Inc()
	p.jobLatency.WithLabelValues(string(kind)).Observe(seconds)
}

func (p *Prometheus) RecordSweep(found, failed int) {
	p.sweptTasks.WithLabelValues("found").Add(float64(found))
	p.sweptTasks.WithLabelValues("failed").Add(float64(failed))
}

func (p *Prometheus) RecordBulkChunk(assigned, stillUnassigned, skipped int) {
	p.bulkTasks.WithLabelValues("assigned").Add(float64(assigned))
	p.bulkTasks.WithLabelValues("still_unassigned").Add(float64(stillUnassigned))
	p.bulkTasks.WithLabelValues("skipped").Add(float64(skipped))
}
