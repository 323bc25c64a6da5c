package vector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stratadb-labs/strata-core-sub008/pkg/engine"
	"github.com/stratadb-labs/strata-core-sub008/pkg/keyspace"
)

func testNS() keyspace.Namespace {
	return keyspace.Namespace{Tenant: "t", App: "a", Agent: "ag", Run: "r"}
}

func openTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	opts := engine.DefaultOptions()
	opts.TTLSweepInterval = 0
	e, err := engine.Open(t.TempDir(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestUpsertGetDelete(t *testing.T) {
	e := openTestEngine(t)
	run := keyspace.NewRunId()
	ns := testNS()

	vec := []float32{0.1, 0.2, -0.3, 1.5}
	_, err := Upsert(e, run, ns, []byte("v1"), vec, MetricCosine)
	require.NoError(t, err)

	got, metric, ok, err := Get(e, run, ns, []byte("v1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, MetricCosine, metric)
	require.Equal(t, vec, got)

	require.NoError(t, Delete(e, run, ns, []byte("v1")))
	_, _, ok, err = Get(e, run, ns, []byte("v1"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestScanAllReturnsEveryVector(t *testing.T) {
	e := openTestEngine(t)
	run := keyspace.NewRunId()
	ns := testNS()

	_, err := Upsert(e, run, ns, []byte("a"), []float32{1, 2}, MetricCosine)
	require.NoError(t, err)
	_, err = Upsert(e, run, ns, []byte("b"), []float32{3, 4, 5}, MetricEuclidean)
	require.NoError(t, err)

	entries, err := ScanAll(e, run, ns)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestUpsertOverwritesPriorVector(t *testing.T) {
	e := openTestEngine(t)
	run := keyspace.NewRunId()
	ns := testNS()

	v1, err := Upsert(e, run, ns, []byte("v1"), []float32{1, 1}, MetricCosine)
	require.NoError(t, err)
	v2, err := Upsert(e, run, ns, []byte("v1"), []float32{2, 2}, MetricDotProduct)
	require.NoError(t, err)
	require.Greater(t, v2, v1)

	got, metric, ok, err := Get(e, run, ns, []byte("v1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, MetricDotProduct, metric)
	require.Equal(t, []float32{2, 2}, got)
}
