/*
Package trace stores a per-run tree of spans. A span's ID is its parent's
ID with a fresh random suffix appended, so every descendant's ID has its
ancestor's ID as a byte prefix: filtering the run's spans by a parent ID
prefix yields its entire subtree, and ScanSpans yields the whole run's trace in key order
with no separate child index to keep consistent.
*/
package trace

import (
	"bytes"
	"time"

	"github.com/google/uuid"

	"github.com/stratadb-labs/strata-core-sub008/pkg/engine"
	"github.com/stratadb-labs/strata-core-sub008/pkg/errs"
	"github.com/stratadb-labs/strata-core-sub008/pkg/keyspace"
	"github.com/stratadb-labs/strata-core-sub008/pkg/wal"
)

// Span is one node in a run's trace tree.
type Span struct {
	ID        []byte
	ParentID  []byte
	Name      string
	Status    string
	StartedAt time.Time
	EndedAt   *time.Time
}

type spanPayload struct {
	ParentID   []byte
	Name       string
	Status     string
	StartedAt  time.Time
	HasEndedAt bool
	EndedAt    time.Time
}

func spanKey(ns keyspace.Namespace, spanID []byte) keyspace.Key {
	return keyspace.Key{Namespace: ns, Type: keyspace.TypeTrace, Suffix: spanID}
}

func encode(p spanPayload) (keyspace.Value, error) {
	b, err := wal.EncodePayload(p)
	if err != nil {
		return keyspace.Value{}, err
	}
	return keyspace.BytesValue(b), nil
}

func decode(spanID []byte, v keyspace.Value) (Span, error) {
	var p spanPayload
	if err := wal.DecodePayload(v.Bytes, &p); err != nil {
		return Span{}, err
	}
	s := Span{ID: spanID, ParentID: p.ParentID, Name: p.Name, Status: p.Status, StartedAt: p.StartedAt}
	if p.HasEndedAt {
		ended := p.EndedAt
		s.EndedAt = &ended
	}
	return s, nil
}

// StartSpan creates a new span under parentID (nil for a root span) and
// returns its ID.
func StartSpan(eng *engine.Engine, runID keyspace.RunId, ns keyspace.Namespace, parentID []byte, name string) ([]byte, error) {
	segment := uuid.New()
	spanID := make([]byte, 0, len(parentID)+16)
	spanID = append(spanID, parentID...)
	spanID = append(spanID, segment[:]...)

	value, err := encode(spanPayload{ParentID: parentID, Name: name, StartedAt: time.Now()})
	if err != nil {
		return nil, err
	}
	if _, err := eng.Put(runID, spanKey(ns, spanID), value, nil); err != nil {
		return nil, err
	}
	return spanID, nil
}

// EndSpan records status on spanID's end, retrying on a concurrent
// EndSpan/StartSpan race against the same span.
func EndSpan(eng *engine.Engine, runID keyspace.RunId, ns keyspace.Namespace, spanID []byte, status string) error {
	k := spanKey(ns, spanID)
	for {
		tx := eng.Begin(runID)
		vv, ok, err := tx.Get(k)
		if err != nil {
			_ = tx.Abort()
			return err
		}
		if !ok {
			_ = tx.Abort()
			return errs.Wrap(errs.KindNotFound, "trace.EndSpan", "", errs.NotFound)
		}
		span, err := decode(spanID, vv.Value)
		if err != nil {
			_ = tx.Abort()
			return err
		}
		now := time.Now()
		span.Status = status
		span.EndedAt = &now

		value, err := encode(spanPayload{ParentID: span.ParentID, Name: span.Name, Status: span.Status, StartedAt: span.StartedAt, HasEndedAt: true, EndedAt: now})
		if err != nil {
			_ = tx.Abort()
			return err
		}
		if err := tx.Put(k, value, nil); err != nil {
			_ = tx.Abort()
			return err
		}
		if _, err := tx.Commit(); err != nil {
			if errs.Is(err, errs.ReadStale) {
				continue
			}
			return err
		}
		return nil
	}
}

// ScanSpans returns every span in runID's trace tree, in key order.
func ScanSpans(eng *engine.Engine, runID keyspace.RunId, ns keyspace.Namespace) ([]Span, error) {
	entries := eng.ScanPrefix(runID, keyspace.TypePrefix(ns, keyspace.TypeTrace))
	out := make([]Span, 0, len(entries))
	for _, e := range entries {
		s, err := decode(e.Key.Suffix, e.Value.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// ScanChildren returns every descendant of parentID (not including
// parentID's own span), in key order.
func ScanChildren(eng *engine.Engine, runID keyspace.RunId, ns keyspace.Namespace, parentID []byte) ([]Span, error) {
	entries := eng.ScanPrefix(runID, keyspace.TypePrefix(ns, keyspace.TypeTrace))
	out := make([]Span, 0, len(entries))
	for _, e := range entries {
		if len(e.Key.Suffix) <= len(parentID) || !bytes.HasPrefix(e.Key.Suffix, parentID) {
			continue // parentID's own span, or not a descendant
		}
		s, err := decode(e.Key.Suffix, e.Value.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
