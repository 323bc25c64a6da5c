package recovery

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stratadb-labs/strata-core-sub008/pkg/keyspace"
	"github.com/stratadb-labs/strata-core-sub008/pkg/log"
	"github.com/stratadb-labs/strata-core-sub008/pkg/storage"
	"github.com/stratadb-labs/strata-core-sub008/pkg/wal"
)

// Stats summarizes one recovery pass, for engine.Open to log and for
// operators to inspect after an unclean shutdown.
type Stats struct {
	RecordsRead           int
	TransactionsSeen      int
	TransactionsCommitted int
	TransactionsDiscarded int // began but never saw a matching CommitTx, or saw AbortTx
	WritesApplied         int
	DeletesApplied        int
	MaxVersionSeen        uint64
	TornTail              bool
	TruncatedBytes        int64
}

type pendingWrite struct {
	key       keyspace.Key
	value     keyspace.Value
	version   uint64
	expiresAt *time.Time
}

type pendingDelete struct {
	key keyspace.Key
}

type txBuffer struct {
	writes  []pendingWrite
	deletes []pendingDelete
}

// Recover sequentially scans the WAL at path and applies every committed
// transaction's writes and deletes to store, in commit order. Transactions
// that never reached CommitTx — including one left open by a crash, or one
// that recorded an explicit AbortTx — are discarded. It returns once the
// scan (and a torn tail, if any) is fully accounted for; it never fails on
// a torn tail, since wal.Replay already treats that as expected crash
// residue rather than corruption.
func Recover(path string, store *storage.Store) (Stats, error) {
	logger := log.WithComponent("recovery")
	buffers := make(map[uint64]*txBuffer)
	var committedOrder []uint64

	var stats Stats

	replayStats, err := wal.Replay(path, func(r wal.Record) error {
		stats.RecordsRead++
		switch r.Type {
		case wal.RecordBeginTx:
			var p wal.BeginPayload
			if err := wal.DecodePayload(r.Payload, &p); err != nil {
				return fmt.Errorf("recovery: decode begin: %w", err)
			}
			buffers[p.TxID] = &txBuffer{}
			stats.TransactionsSeen++

		case wal.RecordWrite:
			var p wal.WritePayload
			if err := wal.DecodePayload(r.Payload, &p); err != nil {
				return fmt.Errorf("recovery: decode write: %w", err)
			}
			buf, ok := buffers[p.TxID]
			if !ok {
				// Write record for a transaction with no Begin in the visible
				// window (e.g. Begin was truncated by a torn tail that Replay
				// already stopped short of). Nothing to attach it to.
				logger.Warn().Uint64("tx_id", p.TxID).Msg("write record with no open transaction, discarding")
				return nil
			}
			key, ok := storage.DecodeKey(p.Key)
			if !ok {
				return fmt.Errorf("recovery: undecodable key in write record for tx %d", p.TxID)
			}
			pw := pendingWrite{
				key:     key,
				value:   valueFromPayload(p),
				version: p.Version,
			}
			if p.HasExpiry {
				exp := p.ExpiresAt
				pw.expiresAt = &exp
			}
			buf.writes = append(buf.writes, pw)
			if p.Version > stats.MaxVersionSeen {
				stats.MaxVersionSeen = p.Version
			}

		case wal.RecordDelete:
			var p wal.DeletePayload
			if err := wal.DecodePayload(r.Payload, &p); err != nil {
				return fmt.Errorf("recovery: decode delete: %w", err)
			}
			buf, ok := buffers[p.TxID]
			if !ok {
				logger.Warn().Uint64("tx_id", p.TxID).Msg("delete record with no open transaction, discarding")
				return nil
			}
			key, ok := storage.DecodeKey(p.Key)
			if !ok {
				return fmt.Errorf("recovery: undecodable key in delete record for tx %d", p.TxID)
			}
			buf.deletes = append(buf.deletes, pendingDelete{key: key})

		case wal.RecordCommitTx:
			var p wal.CommitPayload
			if err := wal.DecodePayload(r.Payload, &p); err != nil {
				return fmt.Errorf("recovery: decode commit: %w", err)
			}
			if _, ok := buffers[p.TxID]; ok {
				committedOrder = append(committedOrder, p.TxID)
				stats.TransactionsCommitted++
			}

		case wal.RecordAbortTx:
			var p wal.AbortPayload
			if err := wal.DecodePayload(r.Payload, &p); err != nil {
				return fmt.Errorf("recovery: decode abort: %w", err)
			}
			delete(buffers, p.TxID)
			stats.TransactionsDiscarded++

		default:
			// Unknown or extension-range record types are not core
			// transaction framing; recovery skips them with a warning, as
			// wal.RecordType's doc comment describes.
			logger.Warn().Uint8("type", uint8(r.Type)).Msg("unhandled wal record type, skipping")
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("recovery: replay %s: %w", path, err)
	}

	stats.TornTail = replayStats.TornTail
	stats.TruncatedBytes = replayStats.TruncatedBytes()
	if replayStats.TornTail {
		if err := wal.TruncateTornTail(path, replayStats.ValidLength); err != nil {
			return stats, fmt.Errorf("recovery: truncate torn tail of %s: %w", path, err)
		}
	}

	applyNow := time.Now()
	for _, txID := range committedOrder {
		buf := buffers[txID]
		if buf == nil {
			continue
		}
		for _, w := range buf.writes {
			store.PutVersioned(w.key, w.value, w.version, w.expiresAt, applyNow)
			stats.WritesApplied++
		}
		for _, d := range buf.deletes {
			store.Delete(d.key)
			stats.DeletesApplied++
		}
		delete(buffers, txID)
	}

	// Everything left in buffers began but never committed: an open
	// transaction truncated by a crash, or one whose Begin survived a torn
	// tail that cut off its Commit. Discard it, the same as an explicit abort.
	stats.TransactionsDiscarded += len(buffers)

	if stats.MaxVersionSeen > 0 {
		store.BumpVersionTo(stats.MaxVersionSeen + 1)
	}

	logStats(logger, stats, replayStats)
	return stats, nil
}

func valueFromPayload(p wal.WritePayload) keyspace.Value {
	return keyspace.Value{
		Kind:  keyspace.ValueKind(p.ValueKind),
		Bytes: p.ValueBytes,
		Uint:  p.ValueUint,
		Int:   p.ValueInt,
		Float: p.ValueFloat,
		Bool:  p.ValueBool,
	}
}

func logStats(logger zerolog.Logger, stats Stats, replayStats wal.ReplayStats) {
	ev := logger.Info()
	if stats.TornTail {
		ev = logger.Warn()
	}
	ev.Int("records_read", stats.RecordsRead).
		Int("transactions_seen", stats.TransactionsSeen).
		Int("transactions_committed", stats.TransactionsCommitted).
		Int("transactions_discarded", stats.TransactionsDiscarded).
		Int("writes_applied", stats.WritesApplied).
		Int("deletes_applied", stats.DeletesApplied).
		Uint64("max_version_seen", stats.MaxVersionSeen).
		Bool("torn_tail", stats.TornTail).
		Int64("truncated_bytes", stats.TruncatedBytes).
		Msg("wal recovery complete")
}
