package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	db1, err := NewLevelDB(dir)
	require.NoError(t, err)
	require.NoError(t, db1.Put([]byte("key"), []byte("value")))
	db1.Close()

	db2, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()

	got, err := db2.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), got)

	_, err = db2.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBatchAppliesAllWrites(t *testing.T) {
	dir := t.TempDir()
	ldb, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer ldb.Close()

	for _, db := range []Database{NewMemDB(), ldb} {
		require.NoError(t, db.Put([]byte("stale"), []byte("x")))

		batch := db.NewBatch()
		batch.Put([]byte("a"), []byte("1"))
		batch.Put([]byte("b"), []byte("2"))
		batch.Delete([]byte("stale"))
		require.Equal(t, 3, batch.Len())

		ok, err := db.Has([]byte("a"))
		require.NoError(t, err)
		require.False(t, ok, "batch must not be visible before Write")

		require.NoError(t, batch.Write())

		got, err := db.Get([]byte("b"))
		require.NoError(t, err)
		require.Equal(t, []byte("2"), got)
		ok, err = db.Has([]byte("stale"))
		require.NoError(t, err)
		require.False(t, ok)
	}
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	value := []byte("abc")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'z'

	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), got)
	require.Len(t, db.Keys(), 1)
}
