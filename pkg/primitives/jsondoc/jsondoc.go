/*
Package jsondoc stores one hierarchical JSON document per name inside a
run and exposes path-level mutations on top of it. There is no secondary
structure tracking which paths exist: SetPath/DeletePath/GetPath decode the
whole document, apply an in-memory patch, and write the result back inside
one transaction, relying on txn's commit-time validation (a CAS on the
document's version, create-if-missing for a new document) to detect a
concurrent writer rather than a separate per-path lock or patch log.

Paths are dot-separated object keys ("config.retry.max_attempts"); array
indexing is not supported. No JSON-path mutation library was found in the
dependency pack the rest of this repo draws on, so this package is the one
place pure stdlib encoding/json plus a small hand-rolled path walker is
used instead of a third-party library — see DESIGN.md.
*/
package jsondoc

import (
	"encoding/json"
	"strings"

	"github.com/stratadb-labs/strata-core-sub008/pkg/engine"
	"github.com/stratadb-labs/strata-core-sub008/pkg/errs"
	"github.com/stratadb-labs/strata-core-sub008/pkg/keyspace"
)

func key(ns keyspace.Namespace, name string) keyspace.Key {
	return keyspace.Key{Namespace: ns, Type: keyspace.TypeJSONDocument, Suffix: []byte(name)}
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// GetPath decodes the document named name and returns the value at path
// (the whole document if path is empty). ok is false if the document or
// the path within it does not exist.
func GetPath(eng *engine.Engine, runID keyspace.RunId, ns keyspace.Namespace, name string, path string) (interface{}, bool, error) {
	doc, _, ok, err := load(eng, runID, ns, name)
	if err != nil || !ok {
		return nil, false, err
	}
	v, ok := walkGet(doc, splitPath(path))
	return v, ok, nil
}

// SetPath writes value at path inside the document named name, creating
// intermediate objects as needed, and returns the document's new version.
// If the document does not yet exist, it is created.
func SetPath(eng *engine.Engine, runID keyspace.RunId, ns keyspace.Namespace, name string, path string, value interface{}) (uint64, error) {
	return mutate(eng, runID, ns, name, func(doc map[string]interface{}) error {
		return walkSet(doc, splitPath(path), value)
	})
}

// DeletePath removes the value at path from the document named name. It is
// not an error for path to already be absent.
func DeletePath(eng *engine.Engine, runID keyspace.RunId, ns keyspace.Namespace, name string, path string) (uint64, error) {
	return mutate(eng, runID, ns, name, func(doc map[string]interface{}) error {
		walkDelete(doc, splitPath(path))
		return nil
	})
}

func load(eng *engine.Engine, runID keyspace.RunId, ns keyspace.Namespace, name string) (map[string]interface{}, uint64, bool, error) {
	vv, ok, err := eng.Get(runID, key(ns, name))
	if err != nil || !ok {
		return nil, 0, ok, err
	}
	if vv.Value.Kind != keyspace.ValueJSON {
		return nil, 0, false, errs.Wrap(errs.KindInvalidArgument, "jsondoc.load", name, errs.InvalidArgument)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(vv.Value.Bytes, &doc); err != nil {
		return nil, 0, false, errs.Wrap(errs.KindInvalidArgument, "jsondoc.load", name, errs.InvalidArgument)
	}
	return doc, vv.Version, true, nil
}

func decodeDoc(v keyspace.Value, name string) (map[string]interface{}, error) {
	if v.Kind != keyspace.ValueJSON {
		return nil, errs.Wrap(errs.KindInvalidArgument, "jsondoc.mutate", name, errs.InvalidArgument)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(v.Bytes, &doc); err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, "jsondoc.mutate", name, errs.InvalidArgument)
	}
	return doc, nil
}

// mutate reads the document, applies apply in memory, and writes it back
// inside one transaction, writing through a CAS on the version it read
// (create-if-missing when the document is absent), so a concurrent mutate
// racing on the same document is caught at commit time and retried here
// rather than silently overwriting the other writer's change.
func mutate(eng *engine.Engine, runID keyspace.RunId, ns keyspace.Namespace, name string, apply func(map[string]interface{}) error) (uint64, error) {
	k := key(ns, name)
	for {
		tx := eng.Begin(runID)

		var doc map[string]interface{}
		var version uint64
		vv, ok, err := tx.Get(k)
		if err != nil {
			_ = tx.Abort()
			return 0, err
		}
		if ok {
			doc, err = decodeDoc(vv.Value, name)
			if err != nil {
				_ = tx.Abort()
				return 0, err
			}
			version = vv.Version
		} else {
			doc = make(map[string]interface{})
		}

		if err := apply(doc); err != nil {
			_ = tx.Abort()
			return 0, err
		}

		encoded, err := json.Marshal(doc)
		if err != nil {
			_ = tx.Abort()
			return 0, err
		}
		newVal := keyspace.JSONValue(encoded)
		if err := tx.CAS(k, version, &newVal, nil, !ok); err != nil {
			_ = tx.Abort()
			return 0, err
		}

		res, err := tx.Commit()
		if err != nil {
			if errs.Is(err, errs.ReadStale) || errs.Is(err, errs.CasMismatch) {
				continue // document changed underneath us; reapply against the fresh copy
			}
			return 0, err
		}
		return res.Versions[string(k.Encode())], nil
	}
}

func walkGet(doc map[string]interface{}, path []string) (interface{}, bool) {
	if len(path) == 0 {
		return doc, true
	}
	cur := interface{}(doc)
	for _, seg := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func walkSet(doc map[string]interface{}, path []string, value interface{}) error {
	if len(path) == 0 {
		return errs.Wrap(errs.KindInvalidArgument, "jsondoc.SetPath", "", errs.InvalidArgument)
	}
	cur := doc
	for _, seg := range path[:len(path)-1] {
		next, ok := cur[seg].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[seg] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = value
	return nil
}

func walkDelete(doc map[string]interface{}, path []string) {
	if len(path) == 0 {
		return
	}
	cur := doc
	for _, seg := range path[:len(path)-1] {
		next, ok := cur[seg].(map[string]interface{})
		if !ok {
			return // intermediate path doesn't exist; nothing to delete
		}
		cur = next
	}
	delete(cur, path[len(path)-1])
}
