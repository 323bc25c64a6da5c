/*
Package metrics defines and registers every Prometheus metric the engine
exposes, and a small Timer helper for recording histogram observations.

Metrics are grouped by the subsystem that owns them: transaction commit/abort
and commit-critical-section latency, WAL append/fsync cost, recovery replay
stats, live store size and the monotonic version counter, TTL sweep activity,
outstanding transaction snapshots, and run lifecycle counts. All of them are
registered at package init and collected through the default registry; callers
mount Handler() at whatever path they want scraped.

	timer := metrics.NewTimer()
	_, err := tx.Commit()
	timer.ObserveDuration(metrics.CommitDuration)
	if err != nil {
		metrics.TransactionsAbortedTotal.WithLabelValues(reasonFor(err)).Inc()
	} else {
		metrics.TransactionsCommittedTotal.Inc()
	}
*/
package metrics
