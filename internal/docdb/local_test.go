package docdb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalDocumentRoundTrip(t *testing.T) {
	e, ctx := setupEngine(t)

	rev1, err := e.PutLocalDocument(ctx, "_local/checkpoint", "", map[string]interface{}{"seq": float64(5)})
	require.NoError(t, err)
	require.Equal(t, "1-local", rev1)

	doc, err := e.GetLocalDocument(ctx, "_local/checkpoint")
	require.NoError(t, err)
	require.Equal(t, float64(5), doc["seq"])
	require.Equal(t, "1-local", doc["_rev"])

	rev2, err := e.PutLocalDocument(ctx, "_local/checkpoint", rev1, map[string]interface{}{"seq": float64(9)})
	require.NoError(t, err)
	require.Equal(t, "2-local", rev2)

	_, err = e.PutLocalDocument(ctx, "_local/checkpoint", rev1, map[string]interface{}{"seq": float64(99)})
	require.ErrorIs(t, err, ErrConflict)
}

func TestLocalDocumentsAreExcludedFromTheChangeFeed(t *testing.T) {
	e, ctx := setupEngine(t)
	since := e.Feed().LastSequence()

	_, err := e.PutLocalDocument(ctx, "_local/checkpoint", "", map[string]interface{}{"a": 1})
	require.NoError(t, err)

	require.Equal(t, since, e.Feed().LastSequence(), "a local document write must not advance the change feed")
}

func TestDeleteLocalDocumentRequiresMatchingRev(t *testing.T) {
	e, ctx := setupEngine(t)
	rev, err := e.PutLocalDocument(ctx, "_local/checkpoint", "", map[string]interface{}{"a": 1})
	require.NoError(t, err)

	err = e.DeleteLocalDocument(ctx, "_local/checkpoint", "0-wrong")
	require.ErrorIs(t, err, ErrConflict)

	err = e.DeleteLocalDocument(ctx, "_local/checkpoint", rev)
	require.NoError(t, err)

	_, err = e.GetLocalDocument(ctx, "_local/checkpoint")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestIsLocalID(t *testing.T) {
	require.True(t, IsLocalID("_local/x"))
	require.False(t, IsLocalID("regular-doc"))
}
