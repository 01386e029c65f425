package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Transaction lifecycle metrics.

	TransactionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "darkstar_transactions_started_total",
			Help: "Total number of transactions joined by the coordinator.",
		},
	)

	TransactionsCommitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "darkstar_transactions_committed_total",
			Help: "Total number of transactions that committed successfully.",
		},
	)

	TransactionsAborted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "darkstar_transactions_aborted_total",
			Help: "Total number of transactions aborted by the lock manager (deadlock, deadline, lock-wait conflict), by error kind.",
		},
		[]string{"kind"},
	)

	TransactionRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "darkstar_transaction_retries_total",
			Help: "Total number of retry attempts issued by the coordinator.",
		},
	)

	TransactionReadOnly = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "darkstar_transactions_read_only_total",
			Help: "Total number of transactions whose prepare() reported read_only.",
		},
	)

	// Latency metrics.

	PrepareDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "darkstar_prepare_duration_seconds",
			Help:    "Time taken to flush a transaction's buffered writes to the database at prepare.",
			Buckets: prometheus.DefBuckets,
		},
	)

	CommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "darkstar_commit_duration_seconds",
			Help:    "Time taken to release a committed transaction's locks in the store.",
			Buckets: prometheus.DefBuckets,
		},
	)

	TaskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "darkstar_task_duration_seconds",
			Help:    "Wall-clock time of an application task including all retries.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Lock manager metrics.

	LockWaits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "darkstar_lock_waits_total",
			Help: "Total number of times a transaction blocked waiting for a lock.",
		},
	)

	DeadlocksDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "darkstar_deadlocks_detected_total",
			Help: "Total number of lock-wait cycles detected by the deadlock sweep.",
		},
	)

	ActiveTransactions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "darkstar_active_transactions",
			Help: "Number of store transactions begun and not yet committed or aborted.",
		},
	)

	// Modification-detection diagnostics.

	SilentMutationsDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "darkstar_silent_mutations_detected_total",
			Help: "Objects found dirty at prepare despite never being marked for update.",
		},
	)

	// Classes catalog metrics.

	ClassesRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "darkstar_classes_registered",
			Help: "Number of distinct class descriptors assigned an ID.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TransactionsStarted,
		TransactionsCommitted,
		TransactionsAborted,
		TransactionRetries,
		TransactionReadOnly,
		PrepareDuration,
		CommitDuration,
		TaskDuration,
		LockWaits,
		DeadlocksDetected,
		ActiveTransactions,
		SilentMutationsDetected,
		ClassesRegistered,
	)
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
