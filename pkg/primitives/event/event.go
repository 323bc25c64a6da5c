/*
Package event is an append-only, hash-chained event log, one per run.
Append assigns each event the next sequence number and a hash covering the
previous event's hash plus this event's own fields, so any gap or edit in
the stored chain is detectable by recomputing hashes forward from seq 0.

crypto/sha256 (stdlib) is used deliberately here instead of the xxhash the
rest of the repo reaches for: xxhash is a fast non-cryptographic hash
chosen for the store's read-cache keys, where collision resistance
against a deliberate adversary doesn't matter. A hash chain exists
specifically to make tampering detectable, which does require a
cryptographic hash.
*/
package event

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/stratadb-labs/strata-core-sub008/pkg/engine"
	"github.com/stratadb-labs/strata-core-sub008/pkg/errs"
	"github.com/stratadb-labs/strata-core-sub008/pkg/keyspace"
	"github.com/stratadb-labs/strata-core-sub008/pkg/wal"
)

// headSuffix is distinguishable from every keyspace.U64Suffix(seq) encoding
// because it has a different length (4 bytes vs 8), so it sorts before all
// event entries under the same run's TypeEvent prefix without ever
// colliding with a real sequence number.
var headSuffix = []byte("head")

// Event is one entry in the chain.
type Event struct {
	Seq      uint64
	Type     string
	Payload  []byte
	PrevHash []byte
	Hash     []byte
}

type eventPayload struct {
	Type     string
	Payload  []byte
	PrevHash []byte
	Hash     []byte
}

type headPayload struct {
	Seq  uint64
	Hash []byte
}

func eventKey(ns keyspace.Namespace, seq uint64) keyspace.Key {
	return keyspace.Key{Namespace: ns, Type: keyspace.TypeEvent, Suffix: keyspace.U64Suffix(seq)}
}

func headKey(ns keyspace.Namespace) keyspace.Key {
	return keyspace.Key{Namespace: ns, Type: keyspace.TypeEvent, Suffix: headSuffix}
}

func computeHash(prevHash []byte, seq uint64, eventType string, payload []byte) []byte {
	h := sha256.New()
	h.Write(prevHash)
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	h.Write(seqBuf[:])
	h.Write([]byte(eventType))
	h.Write(payload)
	return h.Sum(nil)
}

// Append adds one event to runID's chain and returns its sequence number
// and hash. It retries internally on a concurrent Append's OCC conflict.
func Append(eng *engine.Engine, runID keyspace.RunId, ns keyspace.Namespace, eventType string, payload []byte) (uint64, []byte, error) {
	hk := headKey(ns)
	for {
		tx := eng.Begin(runID)

		var seq uint64
		var prevHash []byte
		var headVersion uint64
		headVV, ok, err := tx.Get(hk)
		if err != nil {
			_ = tx.Abort()
			return 0, nil, err
		}
		if ok {
			var hp headPayload
			if err := wal.DecodePayload(headVV.Value.Bytes, &hp); err != nil {
				_ = tx.Abort()
				return 0, nil, err
			}
			seq = hp.Seq + 1
			prevHash = hp.Hash
			headVersion = headVV.Version
		}

		hash := computeHash(prevHash, seq, eventType, payload)

		evEnc, err := wal.EncodePayload(eventPayload{Type: eventType, Payload: payload, PrevHash: prevHash, Hash: hash})
		if err != nil {
			_ = tx.Abort()
			return 0, nil, err
		}
		if err := tx.Put(eventKey(ns, seq), keyspace.BytesValue(evEnc), nil); err != nil {
			_ = tx.Abort()
			return 0, nil, err
		}

		headEnc, err := wal.EncodePayload(headPayload{Seq: seq, Hash: hash})
		if err != nil {
			_ = tx.Abort()
			return 0, nil, err
		}
		// A CAS on the head (create-if-missing for the first event) makes a
		// concurrent Append conflict even when the head did not exist yet.
		headVal := keyspace.BytesValue(headEnc)
		if err := tx.CAS(hk, headVersion, &headVal, nil, !ok); err != nil {
			_ = tx.Abort()
			return 0, nil, err
		}

		if _, err := tx.Commit(); err != nil {
			if errs.Is(err, errs.ReadStale) || errs.Is(err, errs.CasMismatch) {
				continue // another Append raced us onto this head; recompute against the new head
			}
			return 0, nil, err
		}
		return seq, hash, nil
	}
}

// ScanFrom returns every event with sequence number >= from, in order.
func ScanFrom(eng *engine.Engine, runID keyspace.RunId, ns keyspace.Namespace, from uint64) ([]Event, error) {
	entries := eng.ScanPrefix(runID, keyspace.TypePrefix(ns, keyspace.TypeEvent))
	out := make([]Event, 0, len(entries))
	for _, e := range entries {
		if len(e.Key.Suffix) != 8 {
			continue // the chain head marker, not an event
		}
		seq := binary.BigEndian.Uint64(e.Key.Suffix)
		if seq < from {
			continue
		}
		var p eventPayload
		if err := wal.DecodePayload(e.Value.Value.Bytes, &p); err != nil {
			return nil, err
		}
		out = append(out, Event{Seq: seq, Type: p.Type, Payload: p.Payload, PrevHash: p.PrevHash, Hash: p.Hash})
	}
	return out, nil
}

// Verify recomputes the hash chain over events (assumed already in sequence
// order, e.g. from ScanFrom(0)) and reports the first inconsistency, if any.
func Verify(events []Event) (ok bool, brokenAtSeq uint64) {
	var prevHash []byte
	for _, e := range events {
		want := computeHash(prevHash, e.Seq, e.Type, e.Payload)
		if string(want) != string(e.Hash) {
			return false, e.Seq
		}
		prevHash = e.Hash
	}
	return true, 0
}
