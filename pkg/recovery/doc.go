/*
Package recovery rebuilds a storage.Store from a wal.WAL by sequentially
replaying the log and applying only the writes and deletes of transactions
that reached a CommitTx record. Everything else — a BeginTx with no matching
CommitTx, an explicit AbortTx, or a torn tail left by a crash mid-append — is
discarded.

# Grouping

wal.Replay hands recovery one record at a time in file order; it does not
understand transactions. Recover groups records by TxID as it sees them,
buffering each transaction's planned writes and deletes until it sees that
transaction's terminal record (CommitTx or AbortTx). Only on CommitTx does
the buffered plan get queued for application, in the order transactions
committed — not the order they began, since two transactions can interleave
their Begin/Write records in the log if recovery ever needs to support
concurrent appenders (today's engine serializes commits, so in practice
each transaction's records are already contiguous, but Recover does not
rely on that).

# Versions

Every WritePayload carries the version txn.Commit allocated for it before
the WAL append, so Recover reinstates that exact version with
storage.Store.PutVersioned rather than minting a new one. After the scan,
Recover bumps the store's version counter to one past the highest version
observed, so the first write after recovery can never collide with a
recovered version — spec.md's "safety margin of 1".
*/
package recovery
