/*
Package storage holds the single ordered mapping from composite key to
versioned value that backs the whole database. It is the only package that
touches the primary data structure directly; everything above it (txn,
engine, the primitive facades) reaches the primary mapping only through the
operations this package exposes.

# Architecture

	┌──────────────────── ORDERED STORE ───────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │         *btree.BTree (primary mapping)       │          │
	│  │  - key order: namespace, type tag, suffix    │          │
	│  │  - value: *keyspace.VersionedValue           │          │
	│  │  - guarded by a sync.RWMutex                 │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Secondary indices                  │          │
	│  │  - byRun:   run-prefix string -> key set     │          │
	│  │  - byType:  TypeTag -> key set               │          │
	│  │  - byExpiry: *btree.BTree ordered by expiry  │          │
	│  │  Updated inside the same lock that touches   │          │
	│  │  the primary mapping. Never consulted for    │          │
	│  │  correctness, only as scan accelerators.     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Read cache (LRU)                  │          │
	│  │  - hashicorp/golang-lru keyed by xxhash(key) │          │
	│  │  - invalidated on Put/Delete of the same key │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Versioning

Every successful Put draws a new version from a single atomic counter shared
by the whole store. Clone operations read that counter before cloning so the
resulting view can never contain an entry newer than the version it was
asked for.

# Snapshots

CloneLiveView does not deep-copy the tree: *btree.BTree.Clone is a cheap
copy-on-write clone that shares nodes with the live tree until one side
mutates a node. The returned Snapshot pairs that clone with the max version
and wall-clock instant it was taken at; reads through the snapshot apply the
version/expiry filter lazily rather than pre-filtering every entry at clone
time.
*/
package storage
