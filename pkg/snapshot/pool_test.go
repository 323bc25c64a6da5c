package snapshot

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratadb-labs/strata-core-sub008/pkg/keyspace"
	"github.com/stratadb-labs/strata-core-sub008/pkg/storage"
)

func testNS() keyspace.Namespace {
	return keyspace.Namespace{Tenant: "t", App: "a", Agent: "ag", Run: "r1"}
}

func testKey(suffix string) keyspace.Key {
	return keyspace.Key{Namespace: testNS(), Type: keyspace.TypeKV, Suffix: []byte(suffix)}
}

func newPopulatedStore() *storage.Store {
	s := storage.New(nil)
	now := time.Now()
	s.Put(testKey("a"), keyspace.BytesValue([]byte("1")), nil, now)
	s.Put(testKey("b"), keyspace.BytesValue([]byte("2")), nil, now)
	s.Put(testKey("c"), keyspace.BytesValue([]byte("3")), nil, now)
	return s
}

func TestPoolServesResidentSnapshotUnchanged(t *testing.T) {
	store := newPopulatedStore()
	snap := store.CloneLiveView(store.CurrentVersion())

	pool := NewPool(filepath.Join(t.TempDir(), "tmp"), 1<<30) // budget large enough to stay resident
	id, err := pool.Acquire(snap, 1024)
	require.NoError(t, err)

	vv, ok, err := pool.Get(id, testKey("a"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("1"), vv.Value.Bytes)

	entries, err := pool.ScanPrefix(id, nil)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	require.NoError(t, pool.Release(id))
	assert.Equal(t, 0, pool.Outstanding())
}

func TestPoolSpillsLeastRecentlyUsedOverBudget(t *testing.T) {
	store := newPopulatedStore()
	snapA := store.CloneLiveView(store.CurrentVersion())
	snapB := store.CloneLiveView(store.CurrentVersion())

	pool := NewPool(filepath.Join(t.TempDir(), "tmp"), 150)
	idA, err := pool.Acquire(snapA, 100)
	require.NoError(t, err)
	idB, err := pool.Acquire(snapB, 100) // pushes resident size to 200, over budget of 150
	require.NoError(t, err)

	// idA was least-recently-used and should have been spilled to make room
	// for idB; both must still answer reads identically either way.
	vvA, ok, err := pool.Get(idA, testKey("b"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("2"), vvA.Value.Bytes)

	vvB, ok, err := pool.Get(idB, testKey("c"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("3"), vvB.Value.Bytes)

	require.NoError(t, pool.Release(idA))
	require.NoError(t, pool.Release(idB))
}

func TestPoolGetOnUnknownHandleErrors(t *testing.T) {
	pool := NewPool(filepath.Join(t.TempDir(), "tmp"), 1<<30)
	_, _, err := pool.Get(999, testKey("a"))
	require.Error(t, err)
}

func TestPoolReleaseIsIdempotent(t *testing.T) {
	store := newPopulatedStore()
	snap := store.CloneLiveView(store.CurrentVersion())

	pool := NewPool(filepath.Join(t.TempDir(), "tmp"), 1<<30)
	id, err := pool.Acquire(snap, 64)
	require.NoError(t, err)

	require.NoError(t, pool.Release(id))
	require.NoError(t, pool.Release(id)) // second release on an already-released id is a no-op
}
