package pool

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for context initialization and task outcome.
const (
	statusReady  = "ready"
	statusFailed = "failed"

	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
)

var (
	contextsInitialized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enclave_pool_contexts_initialized_total",
			Help: "Total number of worker context initializations by status.",
		},
		[]string{"status"},
	)

	tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enclave_pool_tasks_total",
			Help: "Total number of tasks executed by the pool.",
		},
		[]string{"outcome"},
	)

	activeWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "enclave_pool_active_workers",
			Help: "Number of live worker goroutines holding an isolated runtime.",
		},
	)

	taskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "enclave_pool_task_duration_seconds",
			Help:    "Task execution time from dispatch to envelope retrieval, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	poolBreaks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "enclave_pool_breaks_total",
			Help: "Total number of pools marked broken by a failed worker initialization.",
		},
	)
)

func init() {
	prometheus.MustRegister(contextsInitialized)
	prometheus.MustRegister(tasksTotal)
	prometheus.MustRegister(activeWorkers)
	prometheus.MustRegister(taskDuration)
	prometheus.MustRegister(poolBreaks)

	// Pre-initialize counter label combinations so they appear in /metrics
	// with value 0 from startup, rather than only after first observation.
	contextsInitialized.WithLabelValues(statusReady)
	contextsInitialized.WithLabelValues(statusFailed)
	tasksTotal.WithLabelValues(outcomeCompleted)
	tasksTotal.WithLabelValues(outcomeFailed)
}
