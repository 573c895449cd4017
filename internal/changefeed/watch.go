package changefeed

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// ExternalWriteWatcher notices when the database file changes underneath
// the engine — another process sharing the same SQLite file in WAL mode —
// and invokes onExternalWrite so the caller can re-poll the feed's last
// sequence rather than trusting a stale in-memory cursor.
type ExternalWriteWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchExternalWrites starts watching the database file at dbPath, and its
// "-wal" sidecar if that file already exists, for writes.
func WatchExternalWrites(dbPath string, onExternalWrite func()) (*ExternalWriteWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("changefeed: failed to start file watcher: %w", err)
	}
	if err := w.Add(dbPath); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("changefeed: failed to watch %s: %w", dbPath, err)
	}
	_ = w.Add(dbPath + "-wal")

	ew := &ExternalWriteWatcher{watcher: w, done: make(chan struct{})}
	go ew.run(onExternalWrite)
	return ew, nil
}

func (ew *ExternalWriteWatcher) run(onExternalWrite func()) {
	for {
		select {
		case ev, ok := <-ew.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				onExternalWrite()
			}
		case _, ok := <-ew.watcher.Errors:
			if !ok {
				return
			}
		case <-ew.done:
			return
		}
	}
}

// Close stops the watcher.
func (ew *ExternalWriteWatcher) Close() error {
	close(ew.done)
	return ew.watcher.Close()
}
