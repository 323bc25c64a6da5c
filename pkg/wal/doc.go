/*
Package wal implements the append-only, crash-recoverable write-ahead log
that backs the engine's durability guarantees.

# Record format

Each record on disk is:

	[u32 length][u8 type][payload bytes][u32 crc32]

length counts type + payload + crc (4 bytes), not itself. The CRC32 (IEEE,
stdlib hash/crc32 — see DESIGN.md for why this stays on the standard library
rather than a third-party checksum) covers type + payload only.

# Framing

Every committed transaction is framed as BeginTx, one or more Write/Delete
records sharing its tx_id, then CommitTx. An aborted transaction may have no
records at all, or BeginTx ... AbortTx if writes had already streamed. The
payload of each record is encoded with github.com/hashicorp/go-msgpack/v2 —
a deterministic, self-describing, length-prefixed encoding that satisfies
the spec's "stable encoder" requirement without a hand-rolled binary schema
per record kind.

# Durability modes

	Strict:  fsync after every CommitTx, before AppendRecords returns.
	Batched: fsync at the earlier of N pending commits or T since the oldest
	         pending one; a background goroutine enforces the T bound even
	         if no further commits arrive.
	Async:   a background goroutine fsyncs on its own ticker; AppendRecords
	         never blocks on I/O.

# Mutual exclusion

A single mutex serializes whole transaction framings: AppendRecords takes it
for the duration of writing every record in one call, so recovery never
observes interleaved records from two transactions.
*/
package wal
