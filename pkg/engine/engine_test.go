package engine

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stratadb-labs/strata-core-sub008/pkg/errs"
	"github.com/stratadb-labs/strata-core-sub008/pkg/keyspace"
)

func testNS() keyspace.Namespace {
	return keyspace.Namespace{Tenant: "t", App: "a", Agent: "ag", Run: "r"}
}

func kvKey(s string) keyspace.Key {
	return keyspace.Key{Namespace: testNS(), Type: keyspace.TypeKV, Suffix: []byte(s)}
}

func openTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.TTLSweepInterval = 0
	e, err := Open(dir, opts)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e, dir
}

func TestPutGetDeleteSurvivesReopen(t *testing.T) {
	e, dir := openTestEngine(t)
	run := keyspace.NewRunId()

	v1, err := e.Put(run, kvKey("a"), keyspace.BytesValue([]byte("1")), nil)
	require.NoError(t, err)
	require.Greater(t, v1, uint64(0))

	got, ok, err := e.Get(run, kvKey("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), got.Value.Bytes)

	require.NoError(t, e.Delete(run, kvKey("a")))
	_, ok, err = e.Get(run, kvKey("a"))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, e.Close())

	e2, err := Open(dir, DefaultOptions())
	require.NoError(t, err)
	defer e2.Close()
	_, ok, err = e2.Get(run, kvKey("a"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCrossRestartVersionsArePreserved(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	run := keyspace.NewRunId()

	e, err := Open(dir, DefaultOptions())
	require.NoError(t, err)
	v1, err := e.Put(run, kvKey("a"), keyspace.BytesValue([]byte("1")), nil)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	e2, err := Open(dir, DefaultOptions())
	require.NoError(t, err)
	defer e2.Close()
	got, ok, err := e2.Get(run, kvKey("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, v1, got.Version)
}

func TestRunLifecycleEnforcement(t *testing.T) {
	e, _ := openTestEngine(t)
	ns := testNS()

	run, err := e.BeginRun(ns, map[string]string{"k": "v"})
	require.NoError(t, err)

	m, err := e.GetRun(ns, run)
	require.NoError(t, err)
	require.Equal(t, RunActive, m.Status)

	require.NoError(t, e.EndRun(ns, run, RunCompleted))

	err = e.EndRun(ns, run, RunFailed)
	require.Error(t, err)
	require.True(t, errors.Is(err, errs.InvalidStateTransition))

	require.NoError(t, e.ArchiveRun(ns, run))
	err = e.ArchiveRun(ns, run)
	require.Error(t, err)
	require.True(t, errors.Is(err, errs.InvalidStateTransition))
}

func TestEndRunOnUnknownRunIsNotFound(t *testing.T) {
	e, _ := openTestEngine(t)
	err := e.EndRun(testNS(), keyspace.NewRunId(), RunCompleted)
	require.Error(t, err)
	require.True(t, errors.Is(err, errs.NotFound))
}

func TestPauseAndResumeRun(t *testing.T) {
	e, _ := openTestEngine(t)
	ns := testNS()
	run, err := e.BeginRun(ns, nil)
	require.NoError(t, err)

	require.NoError(t, e.PauseRun(ns, run))
	m, err := e.GetRun(ns, run)
	require.NoError(t, err)
	require.Equal(t, RunPaused, m.Status)

	err = e.EndRun(ns, run, RunCompleted)
	require.Error(t, err)
	require.True(t, errors.Is(err, errs.InvalidStateTransition))

	require.NoError(t, e.ResumeRun(ns, run))
	require.NoError(t, e.EndRun(ns, run, RunCompleted))
}
