/*
Package txn implements the optimistic, snapshot-isolated concurrency layer:
the per-transaction read/write/delete/CAS sets, commit-time validation, and
atomic apply against the storage and wal packages.

# Buffering

Every Transaction is fully buffered: Get/Put/Delete/CAS only touch in-memory
sets (plus a read through the transaction's Snapshot for Get). Nothing
reaches storage or wal until Commit. This means the common-case Abort (no
commit attempted yet) never writes a WAL record at all — there is nothing to
undo. This is the "common case" framing spec.md calls out explicitly for
AbortTx.

# Validation and apply

Commit validates the read set and CAS set against the live store, then — if
validation passes — appends BeginTx, the pending Write/Delete records, and
CommitTx as one WAL framing, then applies the same writes/deletes to the
store. Both the WAL append and the store apply happen while Manager's commit
mutex is held, so two transactions committing concurrently are strictly
serialized through this one critical section even though their earlier
buffering was fully concurrent and lock-free.

	┌────────────── COMMIT CRITICAL SECTION ───────────────┐
	│ Manager.commitMu held for the whole section           │
	│                                                         │
	│  1. validate read set against live store               │
	│  2. validate cas set against live store                │
	│  3. store.AllocateVersion for every pending write       │
	│  4. wal.AppendRecords(Begin, Write*, Delete*, Commit)   │
	│  5. store.PutVersioned / store.Delete per pending change│
	└────────────────────────────────────────────────────────┘

Versions are allocated before the WAL append (step 3) rather than during
store apply, so the version a write is assigned is itself durable in the
WAL record. Recovery can then reinstate the exact version a commit
produced instead of minting a new, merely order-equivalent one.

# Snapshot residency

Begin clones a live view of the store for the transaction's reads. When
Manager is constructed with a snapshot.Pool (NewManagerWithPool), that clone
is handed to the pool instead of held directly on the Transaction; Get and
ScanPrefix then read through the pool by its handle id. This is transparent
to everything above Transaction — a pooled snapshot that has been spilled to
disk answers reads identically to a resident one. The handle is released at
every exit from Commit and from Abort, so a transaction never outlives its
slot in the pool's budget accounting.
*/
package txn
