package kvstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(context.Background(), filepath.Join(dir, "test.db"), uuid.NewString, DefaultOpenOptions())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenRunsMigrationsToCurrentVersion(t *testing.T) {
	store := setupStore(t)
	version, err := store.SchemaVersion(context.Background())
	require.NoError(t, err)
	require.Equal(t, CurrentSchemaVersion, version)
}

func TestOpenRefusesNewerSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	store, err := Open(context.Background(), path, uuid.NewString, DefaultOpenOptions())
	require.NoError(t, err)
	_, err = store.db.ExecContext(context.Background(), "PRAGMA user_version = 999")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = Open(context.Background(), path, uuid.NewString, DefaultOpenOptions())
	require.Error(t, err)
}

func TestNestedTransactionCommitsAtDepthZero(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx *Txn) error {
		if _, err := tx.Exec(ctx, `INSERT INTO docs (docid) VALUES (?)`, "outer"); err != nil {
			return err
		}
		return tx.WithNestedTx(ctx, func(inner *Txn) error {
			_, err := inner.Exec(ctx, `INSERT INTO docs (docid) VALUES (?)`, "inner")
			return err
		})
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM docs`).Scan(&count))
	require.Equal(t, 2, count)
}

func TestNestedTransactionAbortPoisonsOuterCommit(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	// A nested abort must roll back the whole transaction, including the
	// row the outer frame wrote before the nested frame began.
	err := store.WithTx(ctx, func(tx *Txn) error {
		if _, err := tx.Exec(ctx, `INSERT INTO docs (docid) VALUES (?)`, "committed"); err != nil {
			return err
		}
		if err := tx.WithNestedTx(ctx, func(inner *Txn) error {
			if _, err := inner.Exec(ctx, `INSERT INTO docs (docid) VALUES (?)`, "rolled-back"); err != nil {
				return err
			}
			return errIntentional
		}); err == nil {
			t.Fatal("expected nested transaction error to propagate")
		}
		return errIntentional
	})
	require.Error(t, err)

	var count int
	require.NoError(t, store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM docs WHERE docid IN (?, ?)`, "committed", "rolled-back").Scan(&count))
	require.Equal(t, 0, count)
}

func TestInsertOnConflictIgnore(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx *Txn) error {
		if _, err := tx.Exec(ctx, `INSERT INTO docs (docid) VALUES (?)`, "d1"); err != nil {
			return err
		}
		_, err := tx.InsertOnConflict(ctx, "docs", []string{"docid"}, []interface{}{"d1"}, ConflictIgnore)
		return err
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM docs WHERE docid = ?`, "d1").Scan(&count))
	require.Equal(t, 1, count)
}

var errIntentional = os.ErrInvalid
