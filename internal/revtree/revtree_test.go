package revtree

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vinedb/vinedb/internal/kvstore"
)

func setupTxn(t *testing.T) (*kvstore.Store, context.Context) {
	t.Helper()
	dir := t.TempDir()
	store, err := kvstore.Open(context.Background(), filepath.Join(dir, "test.db"), uuid.NewString, kvstore.DefaultOpenOptions())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, context.Background()
}

func TestParseAndFormatRevID(t *testing.T) {
	gen, suffix, err := ParseRevID("3-abc123")
	require.NoError(t, err)
	require.Equal(t, 3, gen)
	require.Equal(t, "abc123", suffix)
	require.Equal(t, "3-abc123", FormatRevID(gen, suffix))

	_, _, err = ParseRevID("not-a-revid")
	require.Error(t, err)
	_, _, err = ParseRevID("0-abc")
	require.Error(t, err)
}

func TestLessComparesByParsedGeneration(t *testing.T) {
	// Crossing a digit-count boundary: raw string compare would say
	// "9-x" > "10-y" but the parsed comparison must prefer generation 10.
	less, err := Less("9-x", "10-y")
	require.NoError(t, err)
	require.True(t, less, "9-x should order below 10-y, so 10-y is preferred under rev-id DESC")
}

func TestInsertAndWinningRevSingleLeaf(t *testing.T) {
	store, ctx := setupTxn(t)

	var numericID int64
	err := store.WithTx(ctx, func(tx *kvstore.Txn) error {
		id, _, err := ResolveDocID(ctx, tx, "doc1")
		require.NoError(t, err)
		numericID = id
		_, err = Insert(ctx, tx, id, "1-aaa", sql.NullInt64{}, true, false, []byte(`{"foo":1}`))
		return err
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx *kvstore.Txn) error {
		revID, deleted, conflict, err := WinningRev(ctx, tx, numericID)
		require.NoError(t, err)
		require.Equal(t, "1-aaa", revID)
		require.False(t, deleted)
		require.False(t, conflict)
		return nil
	})
	require.NoError(t, err)
}

func TestWinningRevDetectsConflict(t *testing.T) {
	store, ctx := setupTxn(t)

	err := store.WithTx(ctx, func(tx *kvstore.Txn) error {
		id, _, err := ResolveDocID(ctx, tx, "doc1")
		require.NoError(t, err)
		if _, err := Insert(ctx, tx, id, "1-aaa", sql.NullInt64{}, true, false, nil); err != nil {
			return err
		}
		_, err = Insert(ctx, tx, id, "1-zzz", sql.NullInt64{}, true, false, nil)
		return err
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx *kvstore.Txn) error {
		id, _, err := ResolveDocID(ctx, tx, "doc1")
		require.NoError(t, err)
		revID, _, conflict, err := WinningRev(ctx, tx, id)
		require.NoError(t, err)
		require.True(t, conflict)
		require.Equal(t, "1-zzz", revID, "rev-id DESC should prefer the lexicographically greater suffix")

		conflicts, err := Conflicts(ctx, tx, id)
		require.NoError(t, err)
		require.Equal(t, []string{"1-aaa"}, conflicts)
		return nil
	})
	require.NoError(t, err)
}

func TestHistoryWalksToRoot(t *testing.T) {
	store, ctx := setupTxn(t)

	err := store.WithTx(ctx, func(tx *kvstore.Txn) error {
		id, _, err := ResolveDocID(ctx, tx, "doc1")
		require.NoError(t, err)
		seq1, err := Insert(ctx, tx, id, "1-aaa", sql.NullInt64{}, false, false, nil)
		require.NoError(t, err)
		seq2, err := Insert(ctx, tx, id, "2-bbb", sql.NullInt64{Int64: seq1, Valid: true}, true, false, nil)
		require.NoError(t, err)

		history, err := History(ctx, tx, seq2)
		require.NoError(t, err)
		require.Len(t, history, 2)
		require.Equal(t, "2-bbb", history[0].RevID)
		require.Equal(t, "1-aaa", history[1].RevID)
		return nil
	})
	require.NoError(t, err)
}

func TestRevsSinceReturnsCurrentRevisionsAscending(t *testing.T) {
	store, ctx := setupTxn(t)

	var seq1, seq2, seq3 int64
	err := store.WithTx(ctx, func(tx *kvstore.Txn) error {
		id1, _, err := ResolveDocID(ctx, tx, "doc1")
		require.NoError(t, err)
		seq1, err = Insert(ctx, tx, id1, "1-aaa", sql.NullInt64{}, true, false, []byte(`{"v":1}`))
		require.NoError(t, err)

		id2, _, err := ResolveDocID(ctx, tx, "doc2")
		require.NoError(t, err)
		seq2, err = Insert(ctx, tx, id2, "1-bbb", sql.NullInt64{}, true, false, []byte(`{"v":2}`))
		require.NoError(t, err)

		// A non-current (superseded) revision must not appear in RevsSince.
		seq3, err = Insert(ctx, tx, id1, "2-ccc", sql.NullInt64{Int64: seq1, Valid: true}, true, false, []byte(`{"v":3}`))
		require.NoError(t, err)
		if err := MarkNotCurrent(ctx, tx, seq1); err != nil {
			return err
		}
		return nil
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx *kvstore.Txn) error {
		rows, err := RevsSince(ctx, tx, 0)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		require.Equal(t, seq2, rows[0].Sequence)
		require.Equal(t, "doc2", rows[0].DocID)
		require.Equal(t, seq3, rows[1].Sequence)
		require.Equal(t, "doc1", rows[1].DocID)

		rows, err = RevsSince(ctx, tx, seq2)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.Equal(t, seq3, rows[0].Sequence)
		return nil
	})
	require.NoError(t, err)
}

func TestPurgeWildcardRemovesEverything(t *testing.T) {
	store, ctx := setupTxn(t)

	var numericID int64
	err := store.WithTx(ctx, func(tx *kvstore.Txn) error {
		id, _, err := ResolveDocID(ctx, tx, "doc1")
		require.NoError(t, err)
		numericID = id
		_, err = Insert(ctx, tx, id, "1-aaa", sql.NullInt64{}, true, false, nil)
		return err
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx *kvstore.Txn) error {
		purged, err := Purge(ctx, tx, numericID, nil)
		require.NoError(t, err)
		require.Equal(t, []string{"1-aaa"}, purged)
		return nil
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx *kvstore.Txn) error {
		_, found, err := LookupDocID(ctx, tx, "doc1")
		require.NoError(t, err)
		require.False(t, found)
		return nil
	})
	require.NoError(t, err)
}
