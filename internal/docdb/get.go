package docdb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vinedb/vinedb/internal/kvstore"
	"github.com/vinedb/vinedb/internal/revtree"
)

// Get returns the winning revision of docID, including tombstones. Use
// GetExistingDocument when a tombstone should read as NotFound.
func (e *Engine) Get(ctx context.Context, docID string, opts EncodeOptions) (map[string]interface{}, error) {
	return e.getRev(ctx, docID, "", opts)
}

// GetExistingDocument is Get but a tombstone winner reports NotFound.
func (e *Engine) GetExistingDocument(ctx context.Context, docID string, opts EncodeOptions) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := e.store.WithTx(ctx, func(tx *kvstore.Txn) error {
		numericID, found, err := revtree.LookupDocID(ctx, tx, docID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
		if !found {
			return fmt.Errorf("%w: document %q not found", ErrNotFound, docID)
		}
		revID, deleted, _, err := revtree.WinningRev(ctx, tx, numericID)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: document %q not found", ErrNotFound, docID)
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
		if deleted {
			return fmt.Errorf("%w: document %q is deleted", ErrNotFound, docID)
		}
		row, found, err := revtree.LookupRev(ctx, tx, numericID, revID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
		if !found {
			return fmt.Errorf("%w: %v", ErrInternal, "winning revision row vanished")
		}
		projected, err := Project(ctx, tx, e.blobs, docID, row, opts)
		if err != nil {
			return err
		}
		out = projected
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetRev returns a specific revision of docID (any leaf or ancestor, not
// only the winner).
func (e *Engine) GetRev(ctx context.Context, docID, revID string, opts EncodeOptions) (map[string]interface{}, error) {
	return e.getRev(ctx, docID, revID, opts)
}

func (e *Engine) getRev(ctx context.Context, docID, revID string, opts EncodeOptions) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := e.store.WithTx(ctx, func(tx *kvstore.Txn) error {
		numericID, found, err := revtree.LookupDocID(ctx, tx, docID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
		if !found {
			return fmt.Errorf("%w: document %q not found", ErrNotFound, docID)
		}

		var row *revtree.Row
		if revID == "" {
			winnerRevID, _, _, werr := revtree.WinningRev(ctx, tx, numericID)
			if werr == sql.ErrNoRows {
				return fmt.Errorf("%w: document %q not found", ErrNotFound, docID)
			}
			if werr != nil {
				return fmt.Errorf("%w: %v", ErrInternal, werr)
			}
			revID = winnerRevID
		}
		row, found, err = revtree.LookupRev(ctx, tx, numericID, revID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
		if !found {
			return fmt.Errorf("%w: revision %q not found", ErrNotFound, revID)
		}
		projected, err := Project(ctx, tx, e.blobs, docID, row, opts)
		if err != nil {
			return err
		}
		out = projected
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Conflicts returns the non-deleted sibling leaves of docID's winning
// revision.
func (e *Engine) Conflicts(ctx context.Context, docID string) ([]string, error) {
	var out []string
	err := e.store.WithTx(ctx, func(tx *kvstore.Txn) error {
		numericID, found, err := revtree.LookupDocID(ctx, tx, docID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
		if !found {
			return fmt.Errorf("%w: document %q not found", ErrNotFound, docID)
		}
		conflicts, err := revtree.Conflicts(ctx, tx, numericID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
		out = conflicts
		return nil
	})
	return out, err
}
