package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BatchesStarted tracks batches accepted for dispatch per provider
	BatchesStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_batches_started_total",
			Help: "Total number of batches started",
		},
		[]string{"provider"},
	)

	// BatchesCompleted tracks finished batches per provider and terminal state
	BatchesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_batches_completed_total",
			Help: "Total number of batches completed",
		},
		[]string{"provider", "state"},
	)

	// OutcomesTotal tracks final item outcomes per provider and category
	OutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_outcomes_total",
			Help: "Total number of classified item outcomes",
		},
		[]string{"provider", "category"},
	)

	// ItemDuration tracks per-item processing time including retries
	ItemDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatchd_item_duration_seconds",
			Help:    "Work item processing time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// TasksInFlight tracks currently executing tasks per provider
	TasksInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatchd_tasks_in_flight",
			Help: "Number of work items currently executing",
		},
		[]string{"provider"},
	)

	// ProviderDisabled is 1 while the circuit breaker holds a provider open
	ProviderDisabled = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatchd_provider_disabled",
			Help: "Whether the provider is currently disabled by the circuit breaker",
		},
		[]string{"provider"},
	)

	// LockContention tracks acquires rejected because an operation was already running
	LockContention = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_lock_contention_total",
			Help: "Total number of lock acquires rejected with OPERATION_LOCKED",
		},
		[]string{"provider"},
	)

	// ItemRetries tracks transient-failure retries per provider
	ItemRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatchd_item_retries_total",
			Help: "Total number of per-item retry attempts",
		},
		[]string{"provider"},
	)
)
