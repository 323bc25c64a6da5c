package recovery

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stratadb-labs/strata-core-sub008/pkg/keyspace"
	"github.com/stratadb-labs/strata-core-sub008/pkg/storage"
	"github.com/stratadb-labs/strata-core-sub008/pkg/txn"
	"github.com/stratadb-labs/strata-core-sub008/pkg/wal"
)

func ns() keyspace.Namespace { return keyspace.Namespace{Tenant: "t", App: "a", Agent: "ag", Run: "r"} }

func kvKey(s string) keyspace.Key {
	return keyspace.Key{Namespace: ns(), Type: keyspace.TypeKV, Suffix: []byte(s)}
}

func TestRecoverAppliesOnlyCommittedTransactions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.log")
	run := keyspace.NewRunId()

	func() {
		w, err := wal.Open(path, wal.Options{Mode: wal.Strict})
		require.NoError(t, err)
		defer w.Close()
		store := storage.New(nil)
		mgr := txn.NewManager(store, w)

		committed := mgr.Begin(run)
		require.NoError(t, committed.Put(kvKey("a"), keyspace.BytesValue([]byte("1")), nil))
		_, err = committed.Commit()
		require.NoError(t, err)

		aborted := mgr.Begin(run)
		require.NoError(t, aborted.Put(kvKey("b"), keyspace.BytesValue([]byte("2")), nil))
		require.NoError(t, aborted.Abort())
	}()

	store2 := storage.New(nil)
	stats, err := Recover(path, store2)
	require.NoError(t, err)
	require.Equal(t, 1, stats.TransactionsCommitted)
	require.False(t, stats.TornTail)

	got, ok := store2.Get(kvKey("a"))
	require.True(t, ok)
	require.Equal(t, []byte("1"), got.Value.Bytes)

	_, ok = store2.Get(kvKey("b"))
	require.False(t, ok)
}

func TestRecoverPreservesOriginalVersions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.log")
	run := keyspace.NewRunId()

	var originalVersion uint64
	func() {
		w, err := wal.Open(path, wal.Options{Mode: wal.Strict})
		require.NoError(t, err)
		defer w.Close()
		store := storage.New(nil)
		mgr := txn.NewManager(store, w)

		tx := mgr.Begin(run)
		require.NoError(t, tx.Put(kvKey("a"), keyspace.BytesValue([]byte("1")), nil))
		res, err := tx.Commit()
		require.NoError(t, err)
		originalVersion = res.Versions[string(kvKey("a").Encode())]
	}()

	store2 := storage.New(nil)
	_, err := Recover(path, store2)
	require.NoError(t, err)

	got, ok := store2.Get(kvKey("a"))
	require.True(t, ok)
	require.Equal(t, originalVersion, got.Version)
	require.GreaterOrEqual(t, store2.CurrentVersion(), originalVersion+1)
}

func TestRecoverDiscardsOpenTransactionAfterCrash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.log")

	w, err := wal.Open(path, wal.Options{Mode: wal.Strict})
	require.NoError(t, err)
	begin, _ := wal.EncodePayload(wal.BeginPayload{TxID: 1})
	write, _ := wal.EncodePayload(wal.WritePayload{TxID: 1, Key: kvKey("never-committed").Encode(), ValueBytes: []byte("x"), Version: 1})
	require.NoError(t, w.AppendRecords([]wal.Record{
		{Type: wal.RecordBeginTx, Payload: begin},
		{Type: wal.RecordWrite, Payload: write},
	}))
	require.NoError(t, w.Close())

	store := storage.New(nil)
	stats, err := Recover(path, store)
	require.NoError(t, err)
	require.Equal(t, 0, stats.TransactionsCommitted)
	require.Equal(t, 1, stats.TransactionsDiscarded)

	_, ok := store.Get(kvKey("never-committed"))
	require.False(t, ok)
}

func TestRecoverOnMissingLogIsNoOp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.log")
	store := storage.New(nil)
	stats, err := Recover(path, store)
	require.NoError(t, err)
	require.Equal(t, 0, stats.RecordsRead)
}

func TestRecoverIsIdempotentAcrossReplays(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.log")
	run := keyspace.NewRunId()

	func() {
		w, err := wal.Open(path, wal.Options{Mode: wal.Strict})
		require.NoError(t, err)
		defer w.Close()
		store := storage.New(nil)
		mgr := txn.NewManager(store, w)
		tx := mgr.Begin(run)
		require.NoError(t, tx.Put(kvKey("a"), keyspace.BytesValue([]byte("1")), nil))
		_, err = tx.Commit()
		require.NoError(t, err)
	}()

	storeA := storage.New(nil)
	_, err := Recover(path, storeA)
	require.NoError(t, err)

	storeB := storage.New(nil)
	_, err = Recover(path, storeB)
	require.NoError(t, err)

	a, _ := storeA.Get(kvKey("a"))
	b, _ := storeB.Get(kvKey("a"))
	require.Equal(t, a.Version, b.Version)
	require.Equal(t, a.Value.Bytes, b.Value.Bytes)
}
