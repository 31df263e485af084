package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func exercise(t *testing.T, db Database) {
	t.Helper()
	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	value := []byte("snapshot")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'X'

	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "snapshot", string(got))

	require.NoError(t, db.Delete([]byte("k")))
	_, err = db.Get([]byte("k"))
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, db.Delete([]byte("k")))

	require.NoError(t, db.Put([]byte("stale"), []byte("old")))
	batch := db.NewBatch()
	batch.Put([]byte("a"), []byte("1"))
	batch.Put([]byte("b"), []byte("2"))
	batch.Delete([]byte("stale"))
	require.Equal(t, 3, batch.Len())

	_, err = db.Get([]byte("a"))
	require.ErrorIs(t, err, ErrNotFound)
	got, err = db.Get([]byte("stale"))
	require.NoError(t, err)
	require.Equal(t, "old", string(got))

	require.NoError(t, batch.Write())
	for key, want := range map[string]string{"a": "1", "b": "2"} {
		got, err := db.Get([]byte(key))
		require.NoError(t, err)
		require.Equal(t, want, string(got))
	}
	_, err = db.Get([]byte("stale"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemDB(t *testing.T) {
	exercise(t, NewMemDB())
}

func TestLevelDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db, err := NewLevelDB(path)
	require.NoError(t, err)
	exercise(t, db)

	require.NoError(t, db.Put([]byte("persist"), []byte("yes")))
	db.Close()

	reopened, err := NewLevelDB(path)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get([]byte("persist"))
	require.NoError(t, err)
	require.Equal(t, "yes", string(got))
}
