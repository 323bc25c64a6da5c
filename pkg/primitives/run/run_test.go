package run

import (
	"testing"

	"github.com/google/go-cmp/cmp"
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

func TestBeginGetEnd(t *testing.T) {
	e := openTestEngine(t)
	ns := testNS()

	runID, err := Begin(e, ns, map[string]string{"agent": "planner"})
	require.NoError(t, err)

	m, err := Get(e, ns, runID)
	require.NoError(t, err)
	require.Equal(t, Active, m.Status)

	require.NoError(t, End(e, ns, runID, Completed))

	m, err = Get(e, ns, runID)
	require.NoError(t, err)
	require.Equal(t, Completed, m.Status)
}

func TestPauseResumeThenArchive(t *testing.T) {
	e := openTestEngine(t)
	ns := testNS()

	runID, err := Begin(e, ns, nil)
	require.NoError(t, err)

	require.NoError(t, Pause(e, ns, runID))
	require.Error(t, End(e, ns, runID, Completed)) // Paused can't go straight to Completed

	require.NoError(t, Resume(e, ns, runID))
	require.NoError(t, End(e, ns, runID, Completed))
	require.NoError(t, Archive(e, ns, runID))

	m, err := Get(e, ns, runID)
	require.NoError(t, err)
	require.Equal(t, Archived, m.Status)
}

func TestMetadataRoundTripsExactlyThroughGet(t *testing.T) {
	e := openTestEngine(t)
	ns := testNS()

	want := map[string]string{"agent": "planner", "model": "sonnet"}
	runID, err := Begin(e, ns, want)
	require.NoError(t, err)

	m, err := Get(e, ns, runID)
	require.NoError(t, err)
	if diff := cmp.Diff(want, m.Metadata); diff != "" {
		t.Fatalf("metadata mismatch after round trip (-want +got):\n%s", diff)
	}
}

func TestListReturnsAllRunsInNamespace(t *testing.T) {
	e := openTestEngine(t)
	ns := testNS()

	_, err := Begin(e, ns, nil)
	require.NoError(t, err)
	_, err = Begin(e, ns, nil)
	require.NoError(t, err)

	runs, err := List(e, ns)
	require.NoError(t, err)
	require.Len(t, runs, 2)
}
