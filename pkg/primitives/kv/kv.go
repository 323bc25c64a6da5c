/*
Package kv is the plain key/value facade: Put/Get/Delete/CAS over raw byte
values, namespaced by run. It is a thin encoder — the suffix is the caller's
key bytes, unmodified. The encoded suffix is length-prefixed, so KV keys
sort by length first and by byte order among keys of equal length.
*/
package kv

import (
	"context"
	"time"

	"github.com/stratadb-labs/strata-core-sub008/pkg/engine"
	"github.com/stratadb-labs/strata-core-sub008/pkg/errs"
	"github.com/stratadb-labs/strata-core-sub008/pkg/keyspace"
)

func key(ns keyspace.Namespace, userKey []byte) keyspace.Key {
	return keyspace.Key{Namespace: ns, Type: keyspace.TypeKV, Suffix: userKey}
}

// Put writes value under key, returning the new version. A nil ttl means
// the entry never expires.
func Put(ctx context.Context, eng *engine.Engine, runID keyspace.RunId, ns keyspace.Namespace, userKey []byte, value []byte, ttl *time.Duration) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var expiresAt *time.Time
	if ttl != nil {
		t := time.Now().Add(*ttl)
		expiresAt = &t
	}
	return eng.Put(runID, key(ns, userKey), keyspace.BytesValue(value), expiresAt)
}

// Get returns the current value and version for key, or ok=false if it is
// absent or expired.
func Get(ctx context.Context, eng *engine.Engine, runID keyspace.RunId, ns keyspace.Namespace, userKey []byte) ([]byte, uint64, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, false, err
	}
	vv, ok, err := eng.Get(runID, key(ns, userKey))
	if err != nil || !ok {
		return nil, 0, ok, err
	}
	if vv.Value.Kind != keyspace.ValueBytes {
		return nil, 0, false, errs.Wrap(errs.KindInvalidArgument, "kv.Get", string(userKey), errs.InvalidArgument)
	}
	return vv.Value.Bytes, vv.Version, true, nil
}

// Delete removes key. It is not an error to delete an absent key.
func Delete(ctx context.Context, eng *engine.Engine, runID keyspace.RunId, ns keyspace.Namespace, userKey []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return eng.Delete(runID, key(ns, userKey))
}

// CAS writes newValue only if key's current version equals expectedVersion.
// With createIfMissing set, expectedVersion == 0 means "create": it succeeds
// only if the key is absent. Without createIfMissing, a CAS against an
// absent key fails with CasMismatch.
func CAS(ctx context.Context, eng *engine.Engine, runID keyspace.RunId, ns keyspace.Namespace, userKey []byte, expectedVersion uint64, newValue []byte, ttl *time.Duration, createIfMissing bool) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var expiresAt *time.Time
	if ttl != nil {
		t := time.Now().Add(*ttl)
		expiresAt = &t
	}
	v := keyspace.BytesValue(newValue)
	return eng.CAS(runID, key(ns, userKey), expectedVersion, &v, expiresAt, createIfMissing)
}
