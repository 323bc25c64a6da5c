/*
Package snapshot pools the cloned storage.Snapshot views transactions hold
open for their duration. Most snapshots are small and stay resident as a
storage.Snapshot (itself a cheap btree.Clone, copy-on-write against the
live tree). Pool adds a memory ceiling on top: once the estimated resident
size of outstanding snapshots exceeds Options.MaxSnapshotMemoryBudget, the
least-recently-used snapshot is paged out to a scratch bbolt file under
<path>/tmp/ instead of being kept in the process's heap, following the
teacher's boltdb.go pattern (bolt.Open, one bucket, Put/Get per key) for a
different ordered structure than the teacher used it for.

This is purely a residency optimization: Get and ScanPrefix behave
identically whether a handle is resident or spilled, and spilling never
changes what a snapshot reads — only where its entries currently live.
*/
package snapshot
