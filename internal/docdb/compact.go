package docdb

import (
	"context"
	"fmt"

	"github.com/vinedb/vinedb/internal/attachment"
	"github.com/vinedb/vinedb/internal/kvstore"
	"github.com/vinedb/vinedb/internal/revtree"
)

// CompactResult reports what a Compact call actually did, so a caller
// can tell an already-compacted database from one that had work to do:
// compacting twice in a row removes nothing the second time.
type CompactResult struct {
	BodiesDropped     int
	AttachmentsPurged int
	BlobsDeleted      int
}

// Compact drops bodies of non-current revisions, garbage-collects
// attachment rows and blobs no longer referenced by a current revision,
// and vacuums the backing store. Compaction does exactly this and
// nothing more.
func (e *Engine) Compact(ctx context.Context) (*CompactResult, error) {
	var result CompactResult
	err := e.store.WithTx(ctx, func(tx *kvstore.Txn) error {
		res, err := tx.Exec(ctx, `
			UPDATE revs SET json = NULL
			WHERE current = 0 AND json IS NOT NULL
		`)
		if err != nil {
			return fmt.Errorf("%w: failed to drop stale bodies: %v", ErrInternal, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
		result.BodiesDropped = int(n)

		res, err = tx.Exec(ctx, `
			DELETE FROM attachments
			WHERE sequence IN (SELECT sequence FROM revs WHERE current = 0)
		`)
		if err != nil {
			return fmt.Errorf("%w: failed to purge stale attachment rows: %v", ErrInternal, err)
		}
		n, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
		result.AttachmentsPurged = int(n)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var liveKeys map[string]bool
	err = e.store.WithTx(ctx, func(tx *kvstore.Txn) error {
		keys, err := attachment.LiveKeys(ctx, tx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
		liveKeys = keys
		return nil
	})
	if err != nil {
		return nil, err
	}

	deleted, err := e.blobs.DeleteExcept(liveKeys)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	result.BlobsDeleted = deleted

	if _, err := e.store.DB().ExecContext(ctx, `VACUUM`); err != nil {
		return nil, fmt.Errorf("%w: failed to vacuum backing store: %v", ErrInternal, err)
	}

	return &result, nil
}

// PurgeRevisions physically removes revision history. revIDs == nil is
// the "*" wildcard: delete every revision of the document, including
// its docs row. Purge is the only way to
// reclaim history; it bypasses the revision tree's append-only
// discipline entirely and is not itself replicated.
func (e *Engine) PurgeRevisions(ctx context.Context, docID string, revIDs []string) ([]string, error) {
	var purged []string
	err := e.store.WithTx(ctx, func(tx *kvstore.Txn) error {
		numericID, found, err := revtree.LookupDocID(ctx, tx, docID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
		if !found {
			return fmt.Errorf("%w: document %q not found", ErrNotFound, docID)
		}
		purged, err = revtree.Purge(ctx, tx, numericID, revIDs)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return purged, nil
}
