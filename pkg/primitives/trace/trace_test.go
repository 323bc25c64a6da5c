package trace

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

func TestStartEndSpan(t *testing.T) {
	e := openTestEngine(t)
	run := keyspace.NewRunId()
	ns := testNS()

	spanID, err := StartSpan(e, run, ns, nil, "root")
	require.NoError(t, err)
	require.NoError(t, EndSpan(e, run, ns, spanID, "ok"))

	spans, err := ScanSpans(e, run, ns)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	require.Equal(t, "root", spans[0].Name)
	require.Equal(t, "ok", spans[0].Status)
	require.NotNil(t, spans[0].EndedAt)
}

func TestEndSpanOnUnknownSpanIsNotFound(t *testing.T) {
	e := openTestEngine(t)
	run := keyspace.NewRunId()
	ns := testNS()

	err := EndSpan(e, run, ns, []byte("does-not-exist"), "ok")
	require.Error(t, err)
}

func TestScanChildrenReturnsOnlyDescendants(t *testing.T) {
	e := openTestEngine(t)
	run := keyspace.NewRunId()
	ns := testNS()

	root, err := StartSpan(e, run, ns, nil, "root")
	require.NoError(t, err)
	child1, err := StartSpan(e, run, ns, root, "child1")
	require.NoError(t, err)
	_, err = StartSpan(e, run, ns, root, "child2")
	require.NoError(t, err)
	_, err = StartSpan(e, run, ns, child1, "grandchild")
	require.NoError(t, err)

	children, err := ScanChildren(e, run, ns, root)
	require.NoError(t, err)
	require.Len(t, children, 3) // child1, child2, grandchild — all descend from root

	grandchildren, err := ScanChildren(e, run, ns, child1)
	require.NoError(t, err)
	require.Len(t, grandchildren, 1)
	require.Equal(t, "grandchild", grandchildren[0].Name)
}

func TestScanSpansReturnsEntireTree(t *testing.T) {
	e := openTestEngine(t)
	run := keyspace.NewRunId()
	ns := testNS()

	root, err := StartSpan(e, run, ns, nil, "root")
	require.NoError(t, err)
	_, err = StartSpan(e, run, ns, root, "child")
	require.NoError(t, err)

	spans, err := ScanSpans(e, run, ns)
	require.NoError(t, err)
	require.Len(t, spans, 2)
}
