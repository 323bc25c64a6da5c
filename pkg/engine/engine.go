package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stratadb-labs/strata-core-sub008/pkg/errs"
	"github.com/stratadb-labs/strata-core-sub008/pkg/events"
	"github.com/stratadb-labs/strata-core-sub008/pkg/keyspace"
	"github.com/stratadb-labs/strata-core-sub008/pkg/log"
	"github.com/stratadb-labs/strata-core-sub008/pkg/metrics"
	"github.com/stratadb-labs/strata-core-sub008/pkg/recovery"
	"github.com/stratadb-labs/strata-core-sub008/pkg/snapshot"
	"github.com/stratadb-labs/strata-core-sub008/pkg/storage"
	"github.com/stratadb-labs/strata-core-sub008/pkg/txn"
	"github.com/stratadb-labs/strata-core-sub008/pkg/wal"
)

const walFileName = "current.log"

// Engine is one open database directory: the store, the WAL, and the
// transaction allocator that serializes commits against both.
type Engine struct {
	path string
	opts Options

	store         *storage.Store
	log           *wal.WAL
	txns          *txn.Manager
	snapPool      *snapshot.Pool
	events        *events.Broker
	recoveryStats recovery.Stats

	sweepStop chan struct{}
	sweepDone chan struct{}

	closeOnce sync.Once
	logger    zerolog.Logger
}

// Open opens (creating if absent) the database directory at path, replays
// its WAL to catch the store up to the last durable commit, and returns a
// ready-to-use Engine. Nothing is accepted until recovery has completed.
func Open(path string, opts Options) (*Engine, error) {
	logger := log.WithComponent("engine")

	if err := os.MkdirAll(filepath.Join(path, "wal"), 0700); err != nil {
		return nil, fmt.Errorf("engine.Open: create wal dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(path, "snapshots"), 0700); err != nil {
		return nil, fmt.Errorf("engine.Open: create snapshots dir: %w", err)
	}

	walPath := filepath.Join(path, "wal", walFileName)
	store := storage.New(nil)

	recoveryTimer := metrics.NewTimer()
	stats, err := recovery.Recover(walPath, store)
	recoveryTimer.ObserveDuration(metrics.RecoveryDuration)
	if err != nil {
		return nil, fmt.Errorf("engine.Open: recovery: %w", err)
	}
	metrics.RecoveryTransactionsDiscardedTotal.Add(float64(stats.TransactionsDiscarded))
	if stats.TornTail {
		metrics.RecoveryTornTail.Set(1)
	}

	w, err := wal.Open(walPath, wal.Options{
		Mode:                    wal.Mode(opts.Durability),
		BatchSize:               opts.BatchSize,
		BatchInterval:           opts.BatchInterval,
		AsyncInterval:           opts.AsyncInterval,
		DisableBackgroundWorker: opts.DisableBackgroundWorker,
	})
	if err != nil {
		return nil, fmt.Errorf("engine.Open: open wal: %w", err)
	}

	snapPool := snapshot.NewPool(filepath.Join(path, "tmp"), opts.MaxSnapshotMemoryBudget)

	broker := events.NewBroker()
	broker.Start()

	txns := txn.NewManagerWithPool(store, w, snapPool)
	txns.SetEventBroker(broker)

	e := &Engine{
		path:          path,
		opts:          opts,
		store:         store,
		log:           w,
		txns:          txns,
		snapPool:      snapPool,
		events:        broker,
		recoveryStats: stats,
		sweepStop:     make(chan struct{}),
		sweepDone:     make(chan struct{}),
		logger:        logger,
	}

	if opts.TTLSweepInterval > 0 {
		go e.runTTLSweep()
	} else {
		close(e.sweepDone)
	}

	logger.Info().
		Str("path", path).
		Int("recovered_transactions", stats.TransactionsCommitted).
		Bool("torn_tail", stats.TornTail).
		Msg("engine opened")
	return e, nil
}

// Begin starts an explicit transaction scoped to runID.
func (e *Engine) Begin(runID keyspace.RunId) *txn.Transaction {
	return e.txns.Begin(runID)
}

// Get is a single-op convenience read; it does not allocate a transaction
// the caller can see, but internally runs through the same Manager path.
func (e *Engine) Get(runID keyspace.RunId, key keyspace.Key) (*keyspace.VersionedValue, bool, error) {
	tx := e.txns.Begin(runID)
	vv, ok, err := tx.Get(key)
	_ = tx.Abort()
	return vv, ok, err
}

// Put is a single-op convenience write: begin, put, commit.
func (e *Engine) Put(runID keyspace.RunId, key keyspace.Key, value keyspace.Value, expiresAt *time.Time) (uint64, error) {
	timer := metrics.NewTimer()
	tx := e.txns.Begin(runID)
	if err := tx.Put(key, value, expiresAt); err != nil {
		_ = tx.Abort()
		return 0, err
	}
	res, err := commitAndObserve(tx, timer)
	if err != nil {
		return 0, err
	}
	return res.Versions[string(key.Encode())], nil
}

// Delete is a single-op convenience delete: begin, delete, commit.
func (e *Engine) Delete(runID keyspace.RunId, key keyspace.Key) error {
	timer := metrics.NewTimer()
	tx := e.txns.Begin(runID)
	if err := tx.Delete(key); err != nil {
		_ = tx.Abort()
		return err
	}
	_, err := commitAndObserve(tx, timer)
	return err
}

// CAS is a single-op convenience compare-and-swap: begin, cas, commit.
func (e *Engine) CAS(runID keyspace.RunId, key keyspace.Key, expectedVersion uint64, newValue *keyspace.Value, expiresAt *time.Time, createIfMissing bool) (uint64, error) {
	timer := metrics.NewTimer()
	tx := e.txns.Begin(runID)
	if err := tx.CAS(key, expectedVersion, newValue, expiresAt, createIfMissing); err != nil {
		_ = tx.Abort()
		return 0, err
	}
	res, err := commitAndObserve(tx, timer)
	if err != nil {
		return 0, err
	}
	return res.Versions[string(key.Encode())], nil
}

// ScanPrefix is a single-op convenience scan against a frozen snapshot of
// the live store at the time of the call.
func (e *Engine) ScanPrefix(runID keyspace.RunId, prefix []byte) []storage.Entry {
	tx := e.txns.Begin(runID)
	defer func() { _ = tx.Abort() }()
	return tx.ScanPrefix(prefix)
}

func commitAndObserve(tx *txn.Transaction, timer *metrics.Timer) (*txn.CommitResult, error) {
	res, err := tx.Commit()
	timer.ObserveDuration(metrics.CommitDuration)
	if err != nil {
		switch {
		case errs.Is(err, errs.ReadStale):
			metrics.ReadStaleConflictsTotal.Inc()
			metrics.TransactionsAbortedTotal.WithLabelValues("read_stale").Inc()
		case errs.Is(err, errs.CasMismatch):
			metrics.CasMismatchTotal.Inc()
			metrics.TransactionsAbortedTotal.WithLabelValues("cas_mismatch").Inc()
		default:
			metrics.TransactionsAbortedTotal.WithLabelValues("other").Inc()
		}
		return nil, err
	}
	metrics.TransactionsCommittedTotal.Inc()
	return res, nil
}

// Stats is a point-in-time snapshot of the engine's store and snapshot-pool
// counters, for the stats CLI command and for refreshing the corresponding
// Prometheus gauges.
type Stats struct {
	Version              uint64
	EntriesByType        map[string]int
	SnapshotsOutstanding int
}

// Stats scans the live store to count entries per primitive type and
// reports the current version counter and outstanding snapshot-pool handle
// count, updating the matching Prometheus gauges as a side effect.
func (e *Engine) Stats() Stats {
	entries := e.store.ScanPrefix(nil)
	byType := make(map[string]int)
	for _, entry := range entries {
		byType[entry.Key.Type.String()]++
	}
	outstanding := e.snapPool.Outstanding()

	metrics.StoreVersion.Set(float64(e.store.CurrentVersion()))
	for t, n := range byType {
		metrics.StoreEntriesTotal.WithLabelValues(t).Set(float64(n))
	}
	metrics.SnapshotsOutstanding.Set(float64(outstanding))

	return Stats{
		Version:              e.store.CurrentVersion(),
		EntriesByType:        byType,
		SnapshotsOutstanding: outstanding,
	}
}

// RecoveryStats reports the WAL-replay outcome observed when this Engine
// was opened, for callers (the open CLI command) that need to report it
// after the fact.
func (e *Engine) RecoveryStats() recovery.Stats {
	return e.recoveryStats
}

// Subscribe returns a channel that receives every commit/abort/run-
// transition notification published from this point on. Callers must
// Unsubscribe when done.
func (e *Engine) Subscribe() events.Subscriber {
	return e.events.Subscribe()
}

// Unsubscribe stops delivery to sub and closes it.
func (e *Engine) Unsubscribe(sub events.Subscriber) {
	e.events.Unsubscribe(sub)
}

// Flush forces the WAL to stable storage regardless of durability mode.
func (e *Engine) Flush() error {
	return e.log.Flush()
}

// Close stops the background TTL sweep, stops the event broker, and
// closes the WAL. Close flushes pending batched/async records
// synchronously before returning — see SPEC_FULL.md's Open Question
// decision on Close semantics.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.sweepStop)
		<-e.sweepDone
		e.events.Stop()
		err = e.log.Close()
		e.logger.Info().Str("path", e.path).Msg("engine closed")
	})
	return err
}

func (e *Engine) runTTLSweep() {
	defer close(e.sweepDone)
	ticker := time.NewTicker(e.opts.TTLSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n := e.store.SweepExpired(time.Now(), e.opts.TTLSweepBatchSize)
			if n > 0 {
				metrics.TTLExpiredSweptTotal.Add(float64(n))
				e.logger.Debug().Int("swept", n).Msg("ttl sweep removed expired entries")
			}
		case <-e.sweepStop:
			return
		}
	}
}
