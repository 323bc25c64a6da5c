package event

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

func TestAppendAssignsIncreasingSequenceNumbers(t *testing.T) {
	e := openTestEngine(t)
	run := keyspace.NewRunId()
	ns := testNS()

	seq0, _, err := Append(e, run, ns, "started", []byte("a"))
	require.NoError(t, err)
	require.Equal(t, uint64(0), seq0)

	seq1, _, err := Append(e, run, ns, "progressed", []byte("b"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), seq1)
}

func TestScanFromReturnsEventsInOrder(t *testing.T) {
	e := openTestEngine(t)
	run := keyspace.NewRunId()
	ns := testNS()

	for i := 0; i < 5; i++ {
		_, _, err := Append(e, run, ns, "tick", []byte{byte(i)})
		require.NoError(t, err)
	}

	events, err := ScanFrom(e, run, ns, 2)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		require.Equal(t, uint64(2+i), ev.Seq)
	}
}

func TestHashChainVerifiesAndDetectsTamper(t *testing.T) {
	e := openTestEngine(t)
	run := keyspace.NewRunId()
	ns := testNS()

	for i := 0; i < 3; i++ {
		_, _, err := Append(e, run, ns, "tick", []byte{byte(i)})
		require.NoError(t, err)
	}

	events, err := ScanFrom(e, run, ns, 0)
	require.NoError(t, err)
	ok, _ := Verify(events)
	require.True(t, ok)

	events[1].Payload = []byte{99}
	ok, brokenAt := Verify(events)
	require.False(t, ok)
	require.Equal(t, uint64(1), brokenAt)
}

func TestConcurrentAppendsAllLandDistinctSequenceNumbers(t *testing.T) {
	e := openTestEngine(t)
	run := keyspace.NewRunId()
	ns := testNS()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := Append(e, run, ns, "tick", nil)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	events, err := ScanFrom(e, run, ns, 0)
	require.NoError(t, err)
	require.Len(t, events, 20)
	seen := make(map[uint64]bool)
	for _, ev := range events {
		require.False(t, seen[ev.Seq])
		seen[ev.Seq] = true
	}
}
