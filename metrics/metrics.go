// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors published by the engine.
type Metrics struct {
	DecisionsRecorded *prometheus.CounterVec
	Executions        *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	JobsEnqueued      *prometheus.CounterVec
	JobsDeduplicated  prometheus.Counter
	JobsClaimed       prometheus.Counter
	JobsCompleted     *prometheus.CounterVec
	JobsDeadLettered  prometheus.Counter
	RunsInitiated     prometheus.Counter
	RunsFinished      *prometheus.CounterVec
}

// New creates the collectors and registers them with the given registerer.
// Pass prometheus.DefaultRegisterer for the process-wide registry or a fresh
// registry in tests.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		DecisionsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autoact",
			Name:      "decisions_recorded_total",
			Help:      "Decisions appended to the ledger by verdict and decider kind.",
		}, []string{"decision", "automated"}),
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autoact",
			Name:      "executions_total",
			Help:      "Execution attempts by action type and terminal status.",
		}, []string{"action_type", "status"}),
		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "autoact",
			Name:      "execution_duration_seconds",
			Help:      "Wall time of real execution attempts.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action_type"}),
		JobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autoact",
			Name:      "jobs_enqueued_total",
			Help:      "Jobs accepted by the ledger by type.",
		}, []string{"type"}),
		JobsDeduplicated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autoact",
			Name:      "jobs_deduplicated_total",
			Help:      "Enqueue requests answered with an existing active job.",
		}),
		JobsClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autoact",
			Name:      "jobs_claimed_total",
			Help:      "Jobs exclusively claimed by a worker.",
		}),
		JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autoact",
			Name:      "jobs_completed_total",
			Help:      "Jobs reaching a terminal status.",
		}, []string{"status"}),
		JobsDeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autoact",
			Name:      "jobs_dead_lettered_total",
			Help:      "Jobs parked after exhausting retries or failing non-retryably.",
		}),
		RunsInitiated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autoact",
			Name:      "runs_initiated_total",
			Help:      "Playbook runs started.",
		}),
		RunsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autoact",
			Name:      "runs_finished_total",
			Help:      "Playbook runs reaching a terminal status.",
		}, []string{"status"}),
	}
	if registerer != nil {
		registerer.MustRegister(
			m.DecisionsRecorded,
			m.Executions,
			m.ExecutionDuration,
			m.JobsEnqueued,
			m.JobsDeduplicated,
			m.JobsClaimed,
			m.JobsCompleted,
			m.JobsDeadLettered,
			m.RunsInitiated,
			m.RunsFinished,
		)
	}
	return m
}

// Nop returns unregistered collectors, used where metrics are not wired.
func Nop() *Metrics {
	return New(nil)
}
