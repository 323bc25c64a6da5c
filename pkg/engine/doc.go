/*
Package engine is the embedding surface: it owns the storage.Store, the
wal.WAL, and the txn.Manager for one database directory, runs recovery at
Open before accepting any operation, and exposes the run-lifecycle state
machine the primitive facades build on.

# Directory layout

	<path>/
	  wal/current.log   append-only log, 0600, directory 0700 where supported
	  snapshots/        reserved for future snapshot files, unused by this core

# Lifecycle

	Open(path, opts) runs recovery.Recover against wal/current.log before
	constructing the txn.Manager, so the first Begin/Get/Put sees a store
	already caught up to the last durable commit. Close stops the TTL sweep
	goroutine and flushes/closes the WAL (synchronously for Batched/Async,
	per SPEC_FULL.md's Open Question decision).

Single-op convenience methods (Get/Put/Delete/CAS without an explicit
Begin/Commit) run through the same txn.Manager as an explicit one-operation
transaction — there is no separate code path, matching spec.md §6's
"implicit transaction" framing.
*/
package engine
