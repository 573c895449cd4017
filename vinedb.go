// Package vinedb provides the public API for the embedded document
// database: opening an Engine, the Put/ForceInsert write path, local
// documents, compaction, map-index queries, and the change feed.
//
// Most callers only need this package; internal/docdb and its siblings
// hold the implementation.
package vinedb

import (
	"github.com/vinedb/vinedb/internal/changefeed"
	"github.com/vinedb/vinedb/internal/docdb"
	"github.com/vinedb/vinedb/internal/kvstore"
	"github.com/vinedb/vinedb/internal/mapindex"
)

// Engine is an open database instance.
type Engine = docdb.Engine

// Open opens (creating if necessary) the database file at path.
var Open = docdb.Open

// Option configures an Engine at Open time.
type Option = docdb.Option

// WithLogger overrides the default stdlib logger sink.
var WithLogger = docdb.WithLogger

// WithUUIDFunc overrides the id/rev-suffix generator (tests use this for
// determinism).
var WithUUIDFunc = docdb.WithUUIDFunc

// WithMaxConcurrentIndexUpdates bounds background (stale=after) index
// update concurrency.
var WithMaxConcurrentIndexUpdates = docdb.WithMaxConcurrentIndexUpdates

// WithStoreOptions overrides the busy-timeout/WAL pragmas.
var WithStoreOptions = docdb.WithStoreOptions

// WithExternalWriteWatching enables watching the database file for
// writes committed by another process sharing it, replaying them into
// the change feed as they're noticed.
var WithExternalWriteWatching = docdb.WithExternalWriteWatching

// StoreOptions controls the backing store's busy-timeout/WAL pragmas.
type StoreOptions = kvstore.OpenOptions

// DefaultStoreOptions matches the ambient configuration defaults.
var DefaultStoreOptions = kvstore.DefaultOpenOptions

// NewRevision is the input to Put.
type NewRevision = docdb.NewRevision

// PutOptions narrows how Put resolves a revision's parent.
type PutOptions = docdb.PutOptions

// PutResult is returned by a successful Put or ForceInsert.
type PutResult = docdb.PutResult

// EncodeOptions selects which response-only projections Get/GetRev add.
type EncodeOptions = docdb.EncodeOptions

// ValidationHook is a registered write-time validator.
type ValidationHook = docdb.ValidationHook

// ValidationContext exposes the previous revision to a validation hook.
type ValidationContext = docdb.ValidationContext

// CompactResult reports what a Compact call did.
type CompactResult = docdb.CompactResult

// ValidID reports whether docID is an acceptable non-local document id.
var ValidID = docdb.ValidID

// IsLocalID reports whether docID names a _local/* document.
var IsLocalID = docdb.IsLocalID

// Error kinds. Test with errors.Is.
var (
	ErrBadRequest = docdb.ErrBadRequest
	ErrNotFound   = docdb.ErrNotFound
	ErrConflict   = docdb.ErrConflict
	ErrForbidden  = docdb.ErrForbidden
	ErrAttachment = docdb.ErrAttachment
	ErrInternal   = docdb.ErrInternal
)

// Change is one change-feed entry.
type Change = changefeed.Change

// Filter decides whether a Change is visible to a subscriber.
type Filter = changefeed.Filter

// ForDocument restricts a subscription to a single document id.
var ForDocument = changefeed.ForDocument

// Executor schedules observer callbacks.
type Executor = changefeed.Executor

// View is a named, incrementally-maintained map index.
type View = mapindex.View

// MapFunc emits (key, value) pairs for a document body.
type MapFunc = mapindex.MapFunc

// ReduceFunc folds a view's (key, value) rows.
type ReduceFunc = mapindex.ReduceFunc

// QueryOptions controls a view query's range, ordering, and grouping.
type QueryOptions = mapindex.QueryOptions

// Stale selects how fresh a query's index must be before it runs.
type Stale = mapindex.Stale

const (
	StaleNever = mapindex.StaleNever
	StaleAfter = mapindex.StaleAfter
	StaleOK    = mapindex.StaleOK
)

// Row is one result row from a view query.
type Row = mapindex.Row

// ViewStatus reports a registered view's indexing progress.
type ViewStatus = mapindex.ViewStatus

// ExpandRevisions reverses the "_revisions" projection, turning a
// {start, ids} (or plain ids) object back into a leaf-to-ancestor
// rev-id list suitable for ForceInsert.
var ExpandRevisions = docdb.ExpandRevisions
