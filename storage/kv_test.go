package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string
	Count uint64
}

func backends(t *testing.T) map[string]Database {
	t.Helper()
	dir := t.TempDir()
	level, err := NewLevelDB(filepath.Join(dir, "level"))
	require.NoError(t, err)
	bolt, err := NewBoltDB(filepath.Join(dir, "hub.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() {
		level.Close()
		bolt.Close()
	})
	return map[string]Database{
		"memory":  NewMemDB(),
		"leveldb": level,
		"bolt":    bolt,
	}
}

func TestKVStoreRoundTripAcrossBackends(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			kv := NewKVStore(db)

			var missing record
			ok, err := kv.KVGet([]byte("rec/1"), &missing)
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, kv.KVPut([]byte("rec/1"), record{Name: "alpha", Count: 7}))
			var got record
			ok, err = kv.KVGet([]byte("rec/1"), &got)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, record{Name: "alpha", Count: 7}, got)

			require.NoError(t, kv.KVDelete([]byte("rec/1")))
			ok, err = kv.KVGet([]byte("rec/1"), &got)
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestKVAppendDeduplicates(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			kv := NewKVStore(db)
			var empty [][]byte
			require.NoError(t, kv.KVGetList([]byte("idx"), &empty))
			require.Empty(t, empty)

			require.NoError(t, kv.KVAppend([]byte("idx"), []byte("a")))
			require.NoError(t, kv.KVAppend([]byte("idx"), []byte("b")))
			require.NoError(t, kv.KVAppend([]byte("idx"), []byte("a")))

			var list [][]byte
			require.NoError(t, kv.KVGetList([]byte("idx"), &list))
			require.Equal(t, [][]byte{[]byte("a"), []byte("b")}, list)
		})
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("rocks", t.TempDir())
	require.Error(t, err)

	db, err := Open("", "")
	require.NoError(t, err)
	_, err = db.Get([]byte("x"))
	require.ErrorIs(t, err, ErrNotFound)
}
