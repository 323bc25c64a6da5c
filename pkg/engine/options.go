package engine

import "time"

// Options configures Open. The zero value is not directly usable; call
// DefaultOptions and override fields, or load one from the config package.
type Options struct {
	// Durability selects the WAL's fsync policy.
	Durability DurabilityMode

	// BatchSize / BatchInterval configure Batched durability: fsync at the
	// earlier of BatchSize pending commits or BatchInterval since the
	// oldest pending one.
	BatchSize     int
	BatchInterval time.Duration

	// AsyncInterval configures Async durability's background fsync pace.
	AsyncInterval time.Duration

	// DisableBackgroundWorker turns off the WAL's batched/async background
	// flusher, for tests that drive Flush explicitly.
	DisableBackgroundWorker bool

	// TTLSweepInterval is how often the background sweep evicts expired
	// entries. Zero disables the background sweep; expired entries are
	// still filtered out of reads and scans immediately regardless.
	TTLSweepInterval time.Duration

	// TTLSweepBatchSize bounds how many expired entries one sweep pass
	// removes, so a pathological backlog doesn't stall the sweep goroutine
	// for an unbounded time.
	TTLSweepBatchSize int

	// MaxSnapshotMemoryBudget bounds the total estimated size of cloned
	// snapshots the engine keeps resident before snapshot.Pool spills the
	// oldest one to its bbolt scratch file. Zero means unbounded.
	MaxSnapshotMemoryBudget int64
}

// DurabilityMode mirrors wal.Mode at the engine's public boundary, so
// callers outside the wal package don't need to import it just to open a
// database.
type DurabilityMode int

const (
	Strict DurabilityMode = iota
	Batched
	Async
)

// DefaultOptions returns sane defaults: strict durability, a 2s TTL sweep,
// and an unbounded snapshot budget.
func DefaultOptions() Options {
	return Options{
		Durability:        Strict,
		BatchSize:         200,
		BatchInterval:     5 * time.Millisecond,
		AsyncInterval:     50 * time.Millisecond,
		TTLSweepInterval:  2 * time.Second,
		TTLSweepBatchSize: 1024,
	}
}
