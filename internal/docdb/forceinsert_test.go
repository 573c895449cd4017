package docdb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForceInsertGraftsFullHistory(t *testing.T) {
	e, ctx := setupEngine(t)

	history := []string{"3-ccc", "2-bbb", "1-aaa"}
	result, err := e.ForceInsert(ctx, &NewRevision{DocID: "doc1", Body: map[string]interface{}{"v": "from-peer"}}, "3-ccc", history, "http://peer.example/db")
	require.NoError(t, err)
	require.Equal(t, "3-ccc", result.RevID)

	doc, err := e.Get(ctx, "doc1", EncodeOptions{})
	require.NoError(t, err)
	require.Equal(t, "from-peer", doc["v"])

	doc2, err := e.Get(ctx, "doc1", EncodeOptions{IncludeRevsInfo: true})
	require.NoError(t, err)
	info, ok := doc2["_revs_info"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, info, 3)
}

func TestForceInsertIsIdempotent(t *testing.T) {
	e, ctx := setupEngine(t)

	history := []string{"1-aaa"}
	r1, err := e.ForceInsert(ctx, &NewRevision{DocID: "doc1", Body: map[string]interface{}{"v": 1}}, "1-aaa", history, "http://peer.example/db")
	require.NoError(t, err)

	r2, err := e.ForceInsert(ctx, &NewRevision{DocID: "doc1", Body: map[string]interface{}{"v": 1}}, "1-aaa", history, "http://peer.example/db")
	require.NoError(t, err)
	require.Equal(t, r1.Sequence, r2.Sequence, "re-inserting an already-present revision must be a no-op")
}

func TestForceInsertCreatesSiblingWhenLocalHasMovedOn(t *testing.T) {
	e, ctx := setupEngine(t)

	local, err := e.Put(ctx, &NewRevision{DocID: "doc1", Body: map[string]interface{}{"v": "local"}}, PutOptions{})
	require.NoError(t, err)
	require.Regexp(t, `^1-`, local.RevID)

	// A peer replicates in a different generation-1 revision of the same
	// document, forming a conflict rather than failing outright.
	history := []string{"1-peer00000000000000000000000"}
	_, err = e.ForceInsert(ctx, &NewRevision{DocID: "doc1", Body: map[string]interface{}{"v": "from-peer"}}, "1-peer00000000000000000000000", history, "http://peer.example/db")
	require.NoError(t, err)

	conflicts, err := e.Conflicts(ctx, "doc1")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
}

func TestForceInsertRequiresHistoryHeadMatchesRevID(t *testing.T) {
	e, ctx := setupEngine(t)
	_, err := e.ForceInsert(ctx, &NewRevision{DocID: "doc1", Body: map[string]interface{}{}}, "2-bbb", []string{"1-aaa"}, "")
	require.ErrorIs(t, err, ErrBadRequest)
}

func TestForceInsertFromRevisionsExpandsCompressedForm(t *testing.T) {
	e, ctx := setupEngine(t)

	revisions := map[string]interface{}{
		"start": 3,
		"ids":   []string{"ccc", "bbb", "aaa"},
	}
	result, err := e.ForceInsertFromRevisions(ctx, &NewRevision{DocID: "doc1", Body: map[string]interface{}{"v": "from-peer"}}, "3-ccc", revisions, "http://peer.example/db")
	require.NoError(t, err)
	require.Equal(t, "3-ccc", result.RevID)

	doc, err := e.Get(ctx, "doc1", EncodeOptions{IncludeRevsInfo: true})
	require.NoError(t, err)
	info, ok := doc["_revs_info"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, info, 3)
}
