package blobstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirForDatabaseDerivesSiblingDir(t *testing.T) {
	require.Equal(t, "/data/mydb-attachments", DirForDatabase("/data/mydb.sqlite"))
	require.Equal(t, "/data/mydb-attachments", DirForDatabase("/data/mydb"))
}

func TestStoreIsIdempotentByDigest(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	key1, len1, err := store.Store(context.Background(), []byte("hello world"))
	require.NoError(t, err)
	require.True(t, len(key1) > len(keyPrefix))
	require.Equal(t, 11, len1)

	key2, len2, err := store.Store(context.Background(), []byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, key1, key2)
	require.Equal(t, len1, len2)
}

func TestReadRoundTrips(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	key, _, err := store.Store(context.Background(), []byte("payload"))
	require.NoError(t, err)

	rc, err := store.Read(key)
	require.NoError(t, err)
	defer rc.Close()

	buf := make([]byte, 7)
	n, err := rc.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "payload", string(buf[:n]))
}

func TestWriterInstallComputesDigestKey(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	w, err := store.OpenWriter()
	require.NoError(t, err)
	_, err = w.Write([]byte("streamed attachment"))
	require.NoError(t, err)

	key, length, err := w.Install()
	require.NoError(t, err)
	require.Equal(t, len("streamed attachment"), length)

	directKey, _, err := store.Store(context.Background(), []byte("streamed attachment"))
	require.NoError(t, err)
	require.Equal(t, directKey, key, "streaming install must derive the same content-addressed key as Store")
}

func TestWriterInstallRejectsDigestMismatch(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	w, err := store.OpenWriter()
	require.NoError(t, err)
	_, err = w.Write([]byte("actual content"))
	require.NoError(t, err)

	store.RememberWriter("sha1-notwhatitis==", w)

	_, _, err = w.Install()
	require.Error(t, err)
}

func TestDeleteExceptKeepsOnlyLiveKeys(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	keepKey, _, err := store.Store(context.Background(), []byte("keep me"))
	require.NoError(t, err)
	dropKey, _, err := store.Store(context.Background(), []byte("drop me"))
	require.NoError(t, err)

	deleted, err := store.DeleteExcept(map[string]bool{keepKey: true})
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	_, err = store.Read(keepKey)
	require.NoError(t, err)
	_, err = store.Read(dropKey)
	require.Error(t, err)
}

func TestDirForDatabaseHelperPath(t *testing.T) {
	dir := DirForDatabase(filepath.Join(t.TempDir(), "db.sqlite"))
	require.True(t, filepath.IsAbs(dir) || filepath.Base(dir) != "")
}
