package kv

import (
	"context"
	"testing"
	"time"

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

func TestPutGetDelete(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	run := keyspace.NewRunId()
	ns := testNS()

	v1, err := Put(ctx, e, run, ns, []byte("a"), []byte("1"), nil)
	require.NoError(t, err)

	got, version, ok, err := Get(ctx, e, run, ns, []byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), got)
	require.Equal(t, v1, version)

	require.NoError(t, Delete(ctx, e, run, ns, []byte("a")))
	_, _, ok, err = Get(ctx, e, run, ns, []byte("a"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCASRequiresMatchingVersion(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	run := keyspace.NewRunId()
	ns := testNS()

	v1, err := Put(ctx, e, run, ns, []byte("a"), []byte("1"), nil)
	require.NoError(t, err)

	_, err = CAS(ctx, e, run, ns, []byte("a"), v1+1, []byte("2"), nil, false)
	require.Error(t, err)

	v2, err := CAS(ctx, e, run, ns, []byte("a"), v1, []byte("2"), nil, false)
	require.NoError(t, err)
	require.Greater(t, v2, v1)
}

func TestCASCreateIfMissing(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	run := keyspace.NewRunId()
	ns := testNS()

	_, err := CAS(ctx, e, run, ns, []byte("missing"), 0, []byte("x"), nil, false)
	require.Error(t, err)

	_, err = CAS(ctx, e, run, ns, []byte("missing"), 0, []byte("x"), nil, true)
	require.NoError(t, err)
}

func TestTTLExpiry(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	run := keyspace.NewRunId()
	ns := testNS()

	ttl := -time.Second // already expired
	_, err := Put(ctx, e, run, ns, []byte("a"), []byte("1"), &ttl)
	require.NoError(t, err)

	_, _, ok, err := Get(ctx, e, run, ns, []byte("a"))
	require.NoError(t, err)
	require.False(t, ok)
}
