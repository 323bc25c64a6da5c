package state

import (
	"context"
	"fmt"
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

func TestSetGet(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	run := keyspace.NewRunId()
	ns := testNS()

	_, err := Set(ctx, e, run, ns, "counter", []byte("0"))
	require.NoError(t, err)

	got, _, ok, err := Get(ctx, e, run, ns, "counter")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("0"), got)
}

func TestUpdateOnMissingCellCreatesIt(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	run := keyspace.NewRunId()
	ns := testNS()

	_, ok, err := Update(ctx, e, run, ns, "counter", func(current []byte, exists bool) ([]byte, bool) {
		require.False(t, exists)
		return []byte("1"), true
	})
	require.NoError(t, err)
	require.True(t, ok)

	got, _, _, err := Get(ctx, e, run, ns, "counter")
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)
}

func TestUpdateDeclineLeavesCellUnchanged(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	run := keyspace.NewRunId()
	ns := testNS()

	_, err := Set(ctx, e, run, ns, "counter", []byte("5"))
	require.NoError(t, err)

	_, ok, err := Update(ctx, e, run, ns, "counter", func(current []byte, exists bool) ([]byte, bool) {
		return nil, false
	})
	require.NoError(t, err)
	require.False(t, ok)

	got, _, _, err := Get(ctx, e, run, ns, "counter")
	require.NoError(t, err)
	require.Equal(t, []byte("5"), got)
}

func TestUpdateRetriesUnderConcurrentWriters(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	run := keyspace.NewRunId()
	ns := testNS()

	_, err := Set(ctx, e, run, ns, "counter", []byte("0"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := Update(ctx, e, run, ns, "counter", func(current []byte, exists bool) ([]byte, bool) {
				var n int
				fmt.Sscanf(string(current), "%d", &n)
				return []byte(fmt.Sprintf("%d", n+1)), true
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	got, _, _, err := Get(ctx, e, run, ns, "counter")
	require.NoError(t, err)
	require.Equal(t, []byte("20"), got)
}
