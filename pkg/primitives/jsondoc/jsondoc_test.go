package jsondoc

import (
	"sync"
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

func TestSetPathCreatesDocumentAndIntermediateObjects(t *testing.T) {
	e := openTestEngine(t)
	run := keyspace.NewRunId()
	ns := testNS()

	_, err := SetPath(e, run, ns, "config", "retry.max_attempts", float64(3))
	require.NoError(t, err)

	v, ok, err := GetPath(e, run, ns, "config", "retry.max_attempts")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, float64(3), v)
}

func TestGetPathOnMissingPathIsNotOK(t *testing.T) {
	e := openTestEngine(t)
	run := keyspace.NewRunId()
	ns := testNS()

	_, err := SetPath(e, run, ns, "config", "a", "1")
	require.NoError(t, err)

	_, ok, err := GetPath(e, run, ns, "config", "b.c")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeletePathRemovesOnlyThatPath(t *testing.T) {
	e := openTestEngine(t)
	run := keyspace.NewRunId()
	ns := testNS()

	_, err := SetPath(e, run, ns, "config", "a", "1")
	require.NoError(t, err)
	_, err = SetPath(e, run, ns, "config", "b", "2")
	require.NoError(t, err)

	_, err = DeletePath(e, run, ns, "config", "a")
	require.NoError(t, err)

	_, ok, err := GetPath(e, run, ns, "config", "a")
	require.NoError(t, err)
	require.False(t, ok)

	v, ok, err := GetPath(e, run, ns, "config", "b")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2", v)
}

func TestDeletePathOnAbsentPathIsNotAnError(t *testing.T) {
	e := openTestEngine(t)
	run := keyspace.NewRunId()
	ns := testNS()

	_, err := DeletePath(e, run, ns, "config", "never.set")
	require.NoError(t, err)
}

func TestConcurrentSetPathMutationsAllApply(t *testing.T) {
	e := openTestEngine(t)
	run := keyspace.NewRunId()
	ns := testNS()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := "field" + string(rune('a'+i))
			_, err := SetPath(e, run, ns, "doc", key, float64(i))
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		key := "field" + string(rune('a'+i))
		v, ok, err := GetPath(e, run, ns, "doc", key)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, float64(i), v)
	}
}
