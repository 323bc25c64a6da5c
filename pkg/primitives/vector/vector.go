/*
Package vector stores dense float32 vectors, one per run-scoped ID, tagged
with the similarity metric the caller intends to compare them under. No
index (HNSW or otherwise) is built here; ScanAll exists so an external
indexer can pull every vector in a run and build whatever structure it
wants on top. Each vector is encoded as fixed-width little-endian float32s
preceded by a one-byte metric tag, not msgpack — the payload is a flat
numeric array with one shape, so a length-prefixed msgpack wrapper would
only add framing overhead an external reader has to strip back off.
*/
package vector

import (
	"encoding/binary"
	"math"

	"github.com/stratadb-labs/strata-core-sub008/pkg/engine"
	"github.com/stratadb-labs/strata-core-sub008/pkg/errs"
	"github.com/stratadb-labs/strata-core-sub008/pkg/keyspace"
)

// Metric identifies the similarity function a vector was stored under.
type Metric byte

const (
	MetricCosine Metric = iota
	MetricDotProduct
	MetricEuclidean
)

func key(ns keyspace.Namespace, id []byte) keyspace.Key {
	return keyspace.Key{Namespace: ns, Type: keyspace.TypeVector, Suffix: id}
}

func encode(metric Metric, vec []float32) []byte {
	buf := make([]byte, 1+4*len(vec))
	buf[0] = byte(metric)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[1+4*i:], math.Float32bits(f))
	}
	return buf
}

func decode(b []byte) (Metric, []float32, error) {
	if len(b) < 1 || (len(b)-1)%4 != 0 {
		return 0, nil, errs.Wrap(errs.KindInvalidArgument, "vector.decode", "", errs.InvalidArgument)
	}
	metric := Metric(b[0])
	vec := make([]float32, (len(b)-1)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[1+4*i:]))
	}
	return metric, vec, nil
}

// Upsert writes vec under id with metric, overwriting any prior value, and
// returns the new version.
func Upsert(eng *engine.Engine, runID keyspace.RunId, ns keyspace.Namespace, id []byte, vec []float32, metric Metric) (uint64, error) {
	return eng.Put(runID, key(ns, id), keyspace.VectorValue(encode(metric, vec)), nil)
}

// Get returns the vector and metric stored under id, or ok=false if absent.
func Get(eng *engine.Engine, runID keyspace.RunId, ns keyspace.Namespace, id []byte) ([]float32, Metric, bool, error) {
	vv, ok, err := eng.Get(runID, key(ns, id))
	if err != nil || !ok {
		return nil, 0, ok, err
	}
	if vv.Value.Kind != keyspace.ValueVector {
		return nil, 0, false, errs.Wrap(errs.KindInvalidArgument, "vector.Get", string(id), errs.InvalidArgument)
	}
	metric, vec, err := decode(vv.Value.Bytes)
	if err != nil {
		return nil, 0, false, err
	}
	return vec, metric, true, nil
}

// Delete removes the vector stored under id.
func Delete(eng *engine.Engine, runID keyspace.RunId, ns keyspace.Namespace, id []byte) error {
	return eng.Delete(runID, key(ns, id))
}

// Entry is one vector yielded by ScanAll.
type Entry struct {
	ID     []byte
	Vector []float32
	Metric Metric
}

// ScanAll returns every vector stored in runID's namespace, in key order.
func ScanAll(eng *engine.Engine, runID keyspace.RunId, ns keyspace.Namespace) ([]Entry, error) {
	entries := eng.ScanPrefix(runID, keyspace.TypePrefix(ns, keyspace.TypeVector))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		metric, vec, err := decode(e.Value.Value.Bytes)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{ID: e.Key.Suffix, Vector: vec, Metric: metric})
	}
	return out, nil
}
