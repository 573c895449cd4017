// Package docdb is the document put/ForceInsert engine: the transactional
// write path, conflict semantics, local-document handling, and the
// encoding contracts that project a revision into a response body. It is
// the component every application call enters through.
package docdb

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/vinedb/vinedb/internal/blobstore"
	"github.com/vinedb/vinedb/internal/changefeed"
	"github.com/vinedb/vinedb/internal/kvstore"
	"github.com/vinedb/vinedb/internal/mapindex"
	"github.com/vinedb/vinedb/internal/revtree"
)

// Logger is the injected logging sink: no process-wide singleton, every
// Engine gets its own.
type Logger interface {
	Printf(format string, args ...interface{})
}

type stdLogger struct{}

func (stdLogger) Printf(format string, args ...interface{}) { log.Printf(format, args...) }

// ReservedKeys are the only "_"-prefixed top-level body keys a Put may
// carry; anything else is BAD_REQUEST.
var ReservedKeys = map[string]bool{
	"_id": true, "_rev": true, "_attachments": true, "_deleted": true,
	"_revisions": true, "_revs_info": true, "_conflicts": true,
	"_deleted_conflicts": true, "_local_seq": true,
}

var docIDPattern = regexp.MustCompile(`^[^\s]+$`)

// ValidID reports whether docID is acceptable for a non-local document:
// non-empty, and if it starts with "_" it must begin with "_design/".
func ValidID(docID string) bool {
	if docID == "" || !docIDPattern.MatchString(docID) {
		return false
	}
	if strings.HasPrefix(docID, "_") {
		return strings.HasPrefix(docID, "_design/")
	}
	return true
}

// ValidationHook is a registered pre-commit check, run in registration
// order on every Put/ForceInsert.
type ValidationHook func(ctx context.Context, newRev *NewRevision, vctx *ValidationContext) error

// ValidationContext exposes the previous revision (nil for an initial
// Put) to a validation hook.
type ValidationContext struct {
	PrevRevID string
	PrevBody  map[string]interface{}
	IsInitial bool
}

// Engine is the storage-engine instance: one per open database, no
// process-wide state.
type Engine struct {
	store   *kvstore.Store
	blobs   *blobstore.Store
	feed    *changefeed.Feed
	views   *mapindex.Manager
	logger  Logger
	newUUID func() string

	hookNames                 []string
	hooks                     map[string]ValidationHook
	maxConcurrentIndexUpdates int
	storeOptions              kvstore.OpenOptions

	watchExternal bool
	watcher       *changefeed.ExternalWriteWatcher
}

// Option configures an Engine at Open time.
type Option func(*Engine)

// WithLogger overrides the default stdlib logger sink.
func WithLogger(l Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithUUIDFunc overrides the generator used for rev-id suffixes and
// auto-generated document ids (tests use this for deterministic ids).
func WithUUIDFunc(f func() string) Option {
	return func(e *Engine) { e.newUUID = f }
}

// defaultMaxConcurrentIndexUpdates is applied for every Engine unless
// WithMaxConcurrentIndexUpdates overrides it; cmd/vinedb reads its own
// query.max-concurrent-index-updates config value and threads it through
// that option rather than hardcoding it twice.
const defaultMaxConcurrentIndexUpdates = 4

// WithMaxConcurrentIndexUpdates bounds how many background (stale=after)
// index updates run at once.
func WithMaxConcurrentIndexUpdates(n int) Option {
	return func(e *Engine) { e.maxConcurrentIndexUpdates = n }
}

// WithStoreOptions overrides the busy-timeout/WAL pragmas the backing
// store opens with.
func WithStoreOptions(opts kvstore.OpenOptions) Option {
	return func(e *Engine) { e.storeOptions = opts }
}

// WithExternalWriteWatching starts an fsnotify watch on the database file
// when enabled. Another process sharing the same file in WAL mode commits
// revisions this Engine's own Notify calls never see; the watcher
// re-polls the backing store for revisions past the feed's last known
// sequence whenever the file changes, and replays them into the feed so
// subscribers still observe them.
func WithExternalWriteWatching(enabled bool) Option {
	return func(e *Engine) { e.watchExternal = enabled }
}

// Open opens (creating if necessary) the database file at path along with
// its attachments directory and change feed, applying any pending schema
// migrations.
func Open(ctx context.Context, path string, opts ...Option) (*Engine, error) {
	e := &Engine{
		logger:       stdLogger{},
		newUUID:      func() string { return uuid.NewString() },
		hooks:        make(map[string]ValidationHook),
		storeOptions: kvstore.DefaultOpenOptions(),
	}
	for _, opt := range opts {
		opt(e)
	}

	store, err := kvstore.Open(ctx, path, e.newUUID, e.storeOptions)
	if err != nil {
		return nil, err
	}
	e.store = store

	blobs, err := blobstore.Open(blobstore.DirForDatabase(path))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	e.blobs = blobs
	e.feed = changefeed.New()
	if e.maxConcurrentIndexUpdates < 1 {
		e.maxConcurrentIndexUpdates = defaultMaxConcurrentIndexUpdates
	}
	e.views = mapindex.NewManager(e.store, e.maxConcurrentIndexUpdates)

	if e.watchExternal {
		watcher, werr := changefeed.WatchExternalWrites(path, e.catchUpFromExternalWrite)
		if werr != nil {
			_ = store.Close()
			return nil, fmt.Errorf("%w: %v", ErrInternal, werr)
		}
		e.watcher = watcher
	}

	return e, nil
}

// catchUpFromExternalWrite re-reads every current revision committed past
// the feed's last known sequence and notifies the feed of each, bringing
// subscribers up to date with writes made by another process sharing this
// database file.
func (e *Engine) catchUpFromExternalWrite() {
	ctx := context.Background()
	since := e.feed.LastSequence()
	var rows []revtree.ChangeRow
	err := e.store.WithTx(ctx, func(tx *kvstore.Txn) error {
		r, terr := revtree.RevsSince(ctx, tx, since)
		if terr != nil {
			return terr
		}
		rows = r
		return nil
	})
	if err != nil {
		e.logger.Printf("vinedb: external-write catch-up failed: %v", err)
		return
	}
	for _, row := range rows {
		body := decodeBodyOrNil(row.Body)
		e.feed.Notify(changefeed.Change{
			Sequence: row.Sequence,
			DocID:    row.DocID,
			RevID:    row.RevID,
			Deleted:  row.Deleted,
			Body:     func() (map[string]interface{}, error) { return body, nil },
		})
	}
}

// Close releases the backing store handle, stops the change feed, and
// stops the external-write watcher if one was started.
func (e *Engine) Close() error {
	if e.watcher != nil {
		_ = e.watcher.Close()
	}
	e.feed.Close()
	return e.store.Close()
}

// RegisterValidation adds a validation hook under name, called in
// registration order on every Put/ForceInsert.
func (e *Engine) RegisterValidation(name string, hook ValidationHook) {
	if _, exists := e.hooks[name]; !exists {
		e.hookNames = append(e.hookNames, name)
	}
	e.hooks[name] = hook
}

// DeregisterValidation removes a previously registered hook.
func (e *Engine) DeregisterValidation(name string) {
	delete(e.hooks, name)
	for i, n := range e.hookNames {
		if n == name {
			e.hookNames = append(e.hookNames[:i], e.hookNames[i+1:]...)
			break
		}
	}
}

func (e *Engine) runValidation(ctx context.Context, newRev *NewRevision, vctx *ValidationContext) error {
	for _, name := range e.hookNames {
		hook := e.hooks[name]
		if hook == nil {
			continue
		}
		if err := hook(ctx, newRev, vctx); err != nil {
			return fmt.Errorf("%w: validation hook %q rejected write: %v", ErrForbidden, name, err)
		}
	}
	return nil
}

// Feed exposes the engine's change feed for subscription.
func (e *Engine) Feed() *changefeed.Feed {
	return e.feed
}

// RegisterView adds or updates a named map/reduce view.
func (e *Engine) RegisterView(ctx context.Context, view *mapindex.View) error {
	return e.views.Register(ctx, view)
}

// Query runs opts against a registered view.
func (e *Engine) Query(ctx context.Context, viewName string, opts mapindex.QueryOptions) ([]mapindex.Row, error) {
	return e.views.Query(ctx, viewName, opts)
}

// ListViews reports every registered view's indexing status.
func (e *Engine) ListViews(ctx context.Context) ([]mapindex.ViewStatus, error) {
	return e.views.ListViews(ctx)
}
