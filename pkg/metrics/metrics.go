package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Transaction metrics
	TransactionsCommittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stratadb_transactions_committed_total",
			Help: "Total number of transactions that committed successfully",
		},
	)

	TransactionsAbortedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratadb_transactions_aborted_total",
			Help: "Total number of transactions that aborted, by reason",
		},
		[]string{"reason"},
	)

	CommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stratadb_commit_duration_seconds",
			Help:    "Time spent in the commit critical section, including WAL append and store apply",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReadStaleConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stratadb_read_stale_conflicts_total",
			Help: "Total number of commits rejected because a read-set key changed since the snapshot",
		},
	)

	CasMismatchTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stratadb_cas_mismatch_total",
			Help: "Total number of CAS operations rejected for an expected-version mismatch",
		},
	)

	// WAL metrics
	WalAppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stratadb_wal_append_duration_seconds",
			Help:    "Time taken to append a record batch to the write-ahead log",
			Buckets: prometheus.DefBuckets,
		},
	)

	WalFsyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stratadb_wal_fsync_duration_seconds",
			Help:    "Time taken to fsync the write-ahead log",
			Buckets: prometheus.DefBuckets,
		},
	)

	WalBytesWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stratadb_wal_bytes_written_total",
			Help: "Total bytes appended to the write-ahead log",
		},
	)

	// Recovery metrics
	RecoveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stratadb_recovery_duration_seconds",
			Help:    "Time taken to replay the write-ahead log at open",
			Buckets: prometheus.DefBuckets,
		},
	)

	RecoveryTransactionsDiscardedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stratadb_recovery_transactions_discarded_total",
			Help: "Total number of transactions discarded by the most recent recovery pass (open or aborted, never committed)",
		},
	)

	RecoveryTornTail = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stratadb_recovery_torn_tail",
			Help: "Whether the most recent recovery pass discarded a torn WAL tail (1) or not (0)",
		},
	)

	// Store metrics
	StoreEntriesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stratadb_store_entries_total",
			Help: "Total number of live entries in the store, by primitive type tag",
		},
		[]string{"type"},
	)

	StoreVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stratadb_store_version",
			Help: "Current value of the monotonic version counter",
		},
	)

	TTLExpiredSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stratadb_ttl_expired_swept_total",
			Help: "Total number of expired entries removed by the background TTL sweep",
		},
	)

	SnapshotsOutstanding = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stratadb_snapshots_outstanding",
			Help: "Number of transaction snapshots currently held open",
		},
	)

	// Run lifecycle metrics
	RunsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stratadb_runs_active",
			Help: "Number of runs currently in the active state",
		},
	)

	RunsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratadb_runs_completed_total",
			Help: "Total number of runs that reached a terminal state, by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		TransactionsCommittedTotal,
		TransactionsAbortedTotal,
		CommitDuration,
		ReadStaleConflictsTotal,
		CasMismatchTotal,
		WalAppendDuration,
		WalFsyncDuration,
		WalBytesWrittenTotal,
		RecoveryDuration,
		RecoveryTransactionsDiscardedTotal,
		RecoveryTornTail,
		StoreEntriesTotal,
		StoreVersion,
		TTLExpiredSweptTotal,
		SnapshotsOutstanding,
		RunsActive,
		RunsCompletedTotal,
	)
}

// Handler returns the Prometheus HTTP handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
