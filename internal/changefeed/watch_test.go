package changefeed

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatchExternalWritesFiresOnFileWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	require.NoError(t, os.WriteFile(path, []byte("initial"), 0o644))

	notified := make(chan struct{}, 8)
	w, err := WatchExternalWrites(path, func() {
		select {
		case notified <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("changed"), 0o644))

	select {
	case <-notified:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a notification after an external write to the watched file")
	}
}
