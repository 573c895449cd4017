package docdb

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetWithIncludeAttachmentsInlinesSmallData(t *testing.T) {
	e, ctx := setupEngine(t)

	body := map[string]interface{}{
		"note.txt": map[string]interface{}{
			"content_type": "text/plain",
			"data":         base64.StdEncoding.EncodeToString([]byte("small file")),
		},
	}
	_, err := e.Put(ctx, &NewRevision{DocID: "doc1", Body: map[string]interface{}{"_attachments": body}}, PutOptions{})
	require.NoError(t, err)

	doc, err := e.Get(ctx, "doc1", EncodeOptions{IncludeAttachments: true})
	require.NoError(t, err)
	atts, ok := doc["_attachments"].(map[string]interface{})
	require.True(t, ok)
	entry := atts["note.txt"].(map[string]interface{})
	require.Equal(t, base64.StdEncoding.EncodeToString([]byte("small file")), entry["data"])
}

func TestGetWithoutIncludeAttachmentsReturnsStubs(t *testing.T) {
	e, ctx := setupEngine(t)

	body := map[string]interface{}{
		"note.txt": map[string]interface{}{
			"content_type": "text/plain",
			"data":         base64.StdEncoding.EncodeToString([]byte("small file")),
		},
	}
	_, err := e.Put(ctx, &NewRevision{DocID: "doc1", Body: map[string]interface{}{"_attachments": body}}, PutOptions{})
	require.NoError(t, err)

	doc, err := e.Get(ctx, "doc1", EncodeOptions{})
	require.NoError(t, err)
	atts := doc["_attachments"].(map[string]interface{})
	entry := atts["note.txt"].(map[string]interface{})
	require.Equal(t, true, entry["stub"])
	_, hasData := entry["data"]
	require.False(t, hasData)
}

func TestGetIncludeRevsProducesCompressedRevisions(t *testing.T) {
	e, ctx := setupEngine(t)
	r1, err := e.Put(ctx, &NewRevision{DocID: "doc1", Body: map[string]interface{}{"v": 1}}, PutOptions{})
	require.NoError(t, err)
	r2, err := e.Put(ctx, &NewRevision{DocID: "doc1", Body: map[string]interface{}{"v": 2}}, PutOptions{PrevRevID: r1.RevID})
	require.NoError(t, err)

	doc, err := e.Get(ctx, "doc1", EncodeOptions{IncludeRevs: true})
	require.NoError(t, err)
	revisions := doc["_revisions"].(map[string]interface{})
	require.Equal(t, 2, revisions["start"])
	ids := revisions["ids"].([]string)
	require.Len(t, ids, 2)
	_ = r2
}

func TestRevisionsEncodeDecodeRoundTrip(t *testing.T) {
	e, ctx := setupEngine(t)
	r1, err := e.Put(ctx, &NewRevision{DocID: "doc1", Body: map[string]interface{}{"v": 1}}, PutOptions{})
	require.NoError(t, err)
	r2, err := e.Put(ctx, &NewRevision{DocID: "doc1", Body: map[string]interface{}{"v": 2}}, PutOptions{PrevRevID: r1.RevID})
	require.NoError(t, err)
	r3, err := e.Put(ctx, &NewRevision{DocID: "doc1", Body: map[string]interface{}{"v": 3}}, PutOptions{PrevRevID: r2.RevID})
	require.NoError(t, err)

	doc, err := e.Get(ctx, "doc1", EncodeOptions{IncludeRevs: true})
	require.NoError(t, err)
	revisions := doc["_revisions"].(map[string]interface{})

	history, err := ExpandRevisions(revisions)
	require.NoError(t, err)
	require.Equal(t, []string{r3.RevID, r2.RevID, r1.RevID}, history)
}

func TestExpandRevisionsFallbackFormPassesThrough(t *testing.T) {
	history, err := ExpandRevisions(map[string]interface{}{"ids": []string{"3-ccc", "2-bbb", "1-aaa"}})
	require.NoError(t, err)
	require.Equal(t, []string{"3-ccc", "2-bbb", "1-aaa"}, history)
}

func TestExpandRevisionsRejectsMissingIDs(t *testing.T) {
	_, err := ExpandRevisions(map[string]interface{}{"start": 3})
	require.ErrorIs(t, err, ErrBadRequest)
}
