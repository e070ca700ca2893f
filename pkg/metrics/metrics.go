package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters
	TasksSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genrouter_tasks_submitted_total",
			Help: "Total number of tasks accepted for routing",
		},
		[]string{"task_type"},
	)

	TasksFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genrouter_tasks_finished_total",
			Help: "Total number of tasks reaching a terminal state",
		},
		[]string{"task_type", "status"}, // completed, failed, cancelled
	)

	DispatchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genrouter_dispatch_attempts_total",
			Help: "Total number of connector dispatch attempts",
		},
		[]string{"provider", "outcome"}, // succeeded, failed
	)

	NoCapacityTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genrouter_no_capacity_total",
			Help: "Total number of routing attempts that found no capacity",
		},
		[]string{"reason"}, // no_provider, over_budget
	)

	TokensReservedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genrouter_tokens_reserved_total",
			Help: "Total tokens speculatively reserved against account budgets",
		},
		[]string{"provider"},
	)

	TokensUsedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genrouter_tokens_used_total",
			Help: "Total actual tokens recorded after successful dispatches",
		},
		[]string{"provider"},
	)

	AccountsResetTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "genrouter_accounts_reset_total",
			Help: "Total number of account ledger resets performed",
		},
	)

	AssignmentsReapedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "genrouter_assignments_reaped_total",
			Help: "Total number of stale assignments reclaimed by the reaper",
		},
	)

	// Histogram for connector call duration
	DispatchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genrouter_dispatch_duration_seconds",
			Help:    "Connector call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~102s
		},
		[]string{"provider"},
	)
)
