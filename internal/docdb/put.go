package docdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vinedb/vinedb/internal/attachment"
	"github.com/vinedb/vinedb/internal/changefeed"
	"github.com/vinedb/vinedb/internal/kvstore"
	"github.com/vinedb/vinedb/internal/revtree"
)

// NewRevision is the caller-supplied input to Put.
type NewRevision struct {
	DocID   string
	Deleted bool
	Body    map[string]interface{}
}

// PutOptions narrows how Put resolves the revision's parent.
type PutOptions struct {
	// PrevRevID is the revision the caller believes is current. Empty
	// means "create": it fails CONFLICT when the document already has a
	// live current revision (unless AllowConflict, which then adds a new
	// generation-1 root), and a tombstoned winner is replaced by a child.
	PrevRevID string
	// AllowConflict permits the write to create a sibling leaf instead
	// of failing CONFLICT.
	AllowConflict bool
}

// PutResult is returned by a successful Put or ForceInsert.
type PutResult struct {
	DocID    string
	RevID    string
	Sequence int64
}

func (e *Engine) newRevSuffix() string {
	return strings.ReplaceAll(e.newUUID(), "-", "")
}

// Put resolves the revision's parent, validates, and inserts the new
// revision in one transaction, then notifies the change feed once that
// transaction has committed.
func (e *Engine) Put(ctx context.Context, newRev *NewRevision, opts PutOptions) (*PutResult, error) {
	if newRev.Deleted && newRev.DocID == "" {
		return nil, fmt.Errorf("%w: _deleted requires a document id", ErrBadRequest)
	}
	if newRev.DocID != "" && !ValidID(newRev.DocID) {
		return nil, fmt.Errorf("%w: invalid document id %q", ErrBadRequest, newRev.DocID)
	}
	if opts.PrevRevID != "" && newRev.DocID == "" {
		return nil, fmt.Errorf("%w: prev_rev given without a document id", ErrBadRequest)
	}

	docID := newRev.DocID
	if docID == "" {
		docID = e.newUUID()
	}

	body, attachments, err := encodeBody(newRev.Body)
	if err != nil {
		return nil, err
	}

	var result PutResult
	var change changefeed.Change
	err = e.store.WithTx(ctx, func(tx *kvstore.Txn) error {
		numericID, _, err := revtree.ResolveDocID(ctx, tx, docID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}

		var parentSequence sql.NullInt64
		var parentRevID string
		var parentBody map[string]interface{}
		generation := 1

		if opts.PrevRevID != "" {
			row, found, err := revtree.LookupRev(ctx, tx, numericID, opts.PrevRevID)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInternal, err)
			}
			if !found {
				_, _, _, werr := revtree.WinningRev(ctx, tx, numericID)
				if werr == sql.ErrNoRows {
					return fmt.Errorf("%w: document %q not found", ErrNotFound, docID)
				}
				return fmt.Errorf("%w: revision %q not found", ErrConflict, opts.PrevRevID)
			}
			if !opts.AllowConflict && !row.Current {
				return fmt.Errorf("%w: revision %q is not current", ErrConflict, opts.PrevRevID)
			}
			if err := revtree.MarkNotCurrent(ctx, tx, row.Sequence); err != nil {
				return err
			}
			parentSequence = sql.NullInt64{Int64: row.Sequence, Valid: true}
			parentRevID = row.RevID
			parentBody = decodeBodyOrNil(row.Body)
			gen, _, perr := revtree.ParseRevID(row.RevID)
			if perr != nil {
				return fmt.Errorf("%w: %v", ErrInternal, perr)
			}
			generation = gen + 1
		} else {
			winnerRevID, winnerDeleted, _, werr := revtree.WinningRev(ctx, tx, numericID)
			switch {
			case werr == sql.ErrNoRows:
				// fresh document, no current revision yet.
			case werr != nil:
				return fmt.Errorf("%w: %v", ErrInternal, werr)
			case !winnerDeleted:
				if !opts.AllowConflict {
					return fmt.Errorf("%w: document %q already has a current revision", ErrConflict, docID)
				}
			default: // winner exists and is a tombstone: this write replaces it.
				row, found, lerr := revtree.LookupRev(ctx, tx, numericID, winnerRevID)
				if lerr != nil {
					return fmt.Errorf("%w: %v", ErrInternal, lerr)
				}
				if found {
					if err := revtree.MarkNotCurrent(ctx, tx, row.Sequence); err != nil {
						return err
					}
					parentSequence = sql.NullInt64{Int64: row.Sequence, Valid: true}
					parentRevID = row.RevID
					parentBody = decodeBodyOrNil(row.Body)
					gen, _, perr := revtree.ParseRevID(row.RevID)
					if perr != nil {
						return fmt.Errorf("%w: %v", ErrInternal, perr)
					}
					generation = gen + 1
				}
			}
		}

		vctx := &ValidationContext{
			PrevRevID: parentRevID,
			PrevBody:  parentBody,
			IsInitial: !parentSequence.Valid,
		}
		if err := e.runValidation(ctx, newRev, vctx); err != nil {
			return err
		}

		newRevID := revtree.FormatRevID(generation, e.newRevSuffix())

		bodyJSON, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: failed to encode body: %v", ErrBadRequest, err)
		}
		sequence, err := revtree.Insert(ctx, tx, numericID, newRevID, parentSequence, true, newRev.Deleted, bodyJSON)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}

		stubs, err := attachment.Process(ctx, tx, e.blobs, numericID, sequence, parentSequence, generation, newRev.Deleted, attachments)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAttachment, err)
		}
		if stubs != nil {
			body["_attachments"] = stubs
			bodyJSON, err = json.Marshal(body)
			if err != nil {
				return fmt.Errorf("%w: failed to encode body: %v", ErrBadRequest, err)
			}
			if _, err := tx.Exec(ctx, `UPDATE revs SET json = ? WHERE sequence = ?`, string(bodyJSON), sequence); err != nil {
				return fmt.Errorf("%w: %v", ErrInternal, err)
			}
		}

		result = PutResult{DocID: docID, RevID: newRevID, Sequence: sequence}
		notifyBody := body
		change = changefeed.Change{
			Sequence: sequence,
			DocID:    docID,
			RevID:    newRevID,
			Deleted:  newRev.Deleted,
			Body:     func() (map[string]interface{}, error) { return notifyBody, nil },
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.feed.Notify(change)
	return &result, nil
}

func decodeBodyOrNil(raw []byte) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
