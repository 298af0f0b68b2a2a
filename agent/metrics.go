package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksCreated counts tasks allocated by any TaskManager
	TasksCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mender",
			Name:      "tasks_created_total",
			Help:      "Total number of tasks created",
		},
		[]string{"type"},
	)

	// TasksFinished counts terminal transitions by status
	TasksFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mender",
			Name:      "tasks_finished_total",
			Help:      "Total number of tasks that reached a terminal status",
		},
		[]string{"type", "status"},
	)

	// TaskDuration observes assignment-to-completion time
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mender",
			Name:      "task_duration_seconds",
			Help:      "Time from assignment to terminal status",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 9),
		},
		[]string{"type", "status"},
	)

	// ExecutionsInFlight tracks agent executions currently scheduled
	ExecutionsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mender",
			Name:      "executions_in_flight",
			Help:      "Number of agent executions scheduled and not yet finished",
		},
	)

	// AgentPanics counts panics recovered from agent Run calls
	AgentPanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mender",
			Name:      "agent_panics_total",
			Help:      "Total number of panics recovered from agents",
		},
		[]string{"agent"},
	)

	// LateResults counts agent results that arrived after timed_out or cancelled
	LateResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mender",
			Name:      "late_results_total",
			Help:      "Agent results received after the task already finished",
		},
		[]string{"policy", "applied"},
	)
)
