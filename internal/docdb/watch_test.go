package docdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestExternalWriteWatchingCatchesUpSecondHandle opens two Engine handles
// on the same database file, one of them watching for external writes,
// and verifies that a write made through the unwatched handle eventually
// reaches the watched handle's own change feed.
func TestExternalWriteWatchingCatchesUpSecondHandle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	ctx := context.Background()

	writer, err := Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { writer.Close() })

	watched, err := Open(ctx, path, WithExternalWriteWatching(true))
	require.NoError(t, err)
	t.Cleanup(func() { watched.Close() })

	result, err := writer.Put(ctx, &NewRevision{DocID: "doc1", Body: map[string]interface{}{"v": 1}}, PutOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return watched.Feed().LastSequence() >= 1
	}, 5*time.Second, 10*time.Millisecond, "watched handle's feed never caught up to the external write")

	changes := watched.Feed().Since(0)
	require.NotEmpty(t, changes)
	found := false
	for _, c := range changes {
		if c.DocID == "doc1" && c.RevID == result.RevID {
			found = true
		}
	}
	require.True(t, found, "external write for doc1 never appeared on the watched feed")
}
