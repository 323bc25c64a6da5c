/*
Package state implements a single mutable "cell" per name inside a run:
Set/Get overwrite or read the cell directly, and Update applies a
caller-supplied function through a compare-and-swap retry loop, the same
read-current/compute-next/try-commit/retry-on-conflict shape the teacher's
scheduler uses for its periodic reconciliation pass, adapted here to OCC
conflicts instead of a ticker.
*/
package state

import (
	"context"

	"github.com/stratadb-labs/strata-core-sub008/pkg/engine"
	"github.com/stratadb-labs/strata-core-sub008/pkg/errs"
	"github.com/stratadb-labs/strata-core-sub008/pkg/keyspace"
)

func key(ns keyspace.Namespace, name string) keyspace.Key {
	return keyspace.Key{Namespace: ns, Type: keyspace.TypeStateCell, Suffix: []byte(name)}
}

// Set overwrites the cell unconditionally, returning the new version.
func Set(ctx context.Context, eng *engine.Engine, runID keyspace.RunId, ns keyspace.Namespace, name string, value []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return eng.Put(runID, key(ns, name), keyspace.BytesValue(value), nil)
}

// Get returns the cell's current value and version, or ok=false if it has
// never been set.
func Get(ctx context.Context, eng *engine.Engine, runID keyspace.RunId, ns keyspace.Namespace, name string) ([]byte, uint64, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, false, err
	}
	vv, ok, err := eng.Get(runID, key(ns, name))
	if err != nil || !ok {
		return nil, 0, ok, err
	}
	if vv.Value.Kind != keyspace.ValueBytes {
		return nil, 0, false, errs.Wrap(errs.KindInvalidArgument, "state.Get", name, errs.InvalidArgument)
	}
	return vv.Value.Bytes, vv.Version, true, nil
}

// UpdateFunc computes the cell's next value from its current value (nil,
// false if the cell does not yet exist). Returning ok=false aborts the
// update without writing anything.
type UpdateFunc func(current []byte, exists bool) (next []byte, ok bool)

// Update applies fn to the cell's current value and writes the result
// through a CAS retry loop: on every concurrent-modification conflict it
// re-reads the cell and calls fn again, so fn must be side-effect free
// beyond its return value. It returns the written version, or ok=false
// (and version 0) if fn declined to write.
func Update(ctx context.Context, eng *engine.Engine, runID keyspace.RunId, ns keyspace.Namespace, name string, fn UpdateFunc) (uint64, bool, error) {
	k := key(ns, name)
	for {
		if err := ctx.Err(); err != nil {
			return 0, false, err
		}
		current, version, exists, err := Get(ctx, eng, runID, ns, name)
		if err != nil {
			return 0, false, err
		}
		next, ok := fn(current, exists)
		if !ok {
			return 0, false, nil
		}
		v := keyspace.BytesValue(next)
		newVersion, err := eng.CAS(runID, k, version, &v, nil, !exists)
		if err == nil {
			return newVersion, true, nil
		}
		if errs.Is(err, errs.CasMismatch) || errs.Is(err, errs.ReadStale) {
			continue // cell changed underneath us; recompute against the fresh value
		}
		return 0, false, err
	}
}
