package docdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/vinedb/vinedb/internal/attachment"
	"github.com/vinedb/vinedb/internal/changefeed"
	"github.com/vinedb/vinedb/internal/kvstore"
	"github.com/vinedb/vinedb/internal/revtree"
)

// ForceInsert is the replication pull write path: it grafts a revision
// whose full ancestry is known (or partially known) onto the local tree
// without conflict-checking, creating a sibling leaf rather than failing
// when the document has moved on locally.
//
// history is ordered leaf-to-ancestor, with history[0] == revID.
func (e *Engine) ForceInsert(ctx context.Context, rev *NewRevision, revID string, history []string, sourceURL string) (*PutResult, error) {
	if rev.DocID == "" || !ValidID(rev.DocID) {
		return nil, fmt.Errorf("%w: invalid document id %q", ErrBadRequest, rev.DocID)
	}
	if len(history) == 0 || history[0] != revID {
		return nil, fmt.Errorf("%w: rev_history[0] must equal the inserted rev id", ErrBadRequest)
	}

	body, attachments, err := encodeBody(rev.Body)
	if err != nil {
		return nil, err
	}

	var result PutResult
	var change *changefeed.Change
	err = e.store.WithTx(ctx, func(tx *kvstore.Txn) error {
		numericID, _, err := revtree.ResolveDocID(ctx, tx, rev.DocID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}

		var walkSequence sql.NullInt64
		var localParentSequence sql.NullInt64

		for i := len(history) - 1; i >= 0; i-- {
			ancestorRevID := history[i]
			isLeaf := i == 0

			row, found, lerr := revtree.LookupRev(ctx, tx, numericID, ancestorRevID)
			if lerr != nil {
				return fmt.Errorf("%w: %v", ErrInternal, lerr)
			}
			if found {
				walkSequence = sql.NullInt64{Int64: row.Sequence, Valid: true}
				localParentSequence = walkSequence
				if isLeaf {
					// Already present: ForceInsert is idempotent.
					result = PutResult{DocID: rev.DocID, RevID: ancestorRevID, Sequence: row.Sequence}
					return nil
				}
				continue
			}

			generation, _, perr := revtree.ParseRevID(ancestorRevID)
			if perr != nil {
				return fmt.Errorf("%w: %v", ErrBadRequest, perr)
			}

			if !isLeaf {
				seq, ierr := revtree.Insert(ctx, tx, numericID, ancestorRevID, walkSequence, false, false, nil)
				if ierr != nil {
					return fmt.Errorf("%w: %v", ErrInternal, ierr)
				}
				walkSequence = sql.NullInt64{Int64: seq, Valid: true}
				continue
			}

			vctx := &ValidationContext{IsInitial: !walkSequence.Valid}
			if walkSequence.Valid {
				parentRow, _, prerr := revtree.RevBySequence(ctx, tx, walkSequence.Int64)
				if prerr != nil {
					return fmt.Errorf("%w: %v", ErrInternal, prerr)
				}
				if parentRow != nil {
					vctx.PrevRevID = parentRow.RevID
					vctx.PrevBody = decodeBodyOrNil(parentRow.Body)
				}
			}
			if verr := e.runValidation(ctx, rev, vctx); verr != nil {
				return verr
			}

			bodyJSON, merr := json.Marshal(body)
			if merr != nil {
				return fmt.Errorf("%w: failed to encode body: %v", ErrBadRequest, merr)
			}
			seq, ierr := revtree.Insert(ctx, tx, numericID, ancestorRevID, walkSequence, true, rev.Deleted, bodyJSON)
			if ierr != nil {
				return fmt.Errorf("%w: %v", ErrInternal, ierr)
			}

			stubs, aerr := attachment.Process(ctx, tx, e.blobs, numericID, seq, localParentSequence, generation, rev.Deleted, attachments)
			if aerr != nil {
				return fmt.Errorf("%w: %v", ErrAttachment, aerr)
			}
			if stubs != nil {
				body["_attachments"] = stubs
				bodyJSON, merr = json.Marshal(body)
				if merr != nil {
					return fmt.Errorf("%w: failed to encode body: %v", ErrBadRequest, merr)
				}
				if _, uerr := tx.Exec(ctx, `UPDATE revs SET json = ? WHERE sequence = ?`, string(bodyJSON), seq); uerr != nil {
					return fmt.Errorf("%w: %v", ErrInternal, uerr)
				}
			}

			if localParentSequence.Valid && localParentSequence.Int64 != seq {
				if merr := revtree.MarkNotCurrent(ctx, tx, localParentSequence.Int64); merr != nil {
					return merr
				}
			}

			result = PutResult{DocID: rev.DocID, RevID: ancestorRevID, Sequence: seq}
			notifyBody := body
			change = &changefeed.Change{
				Sequence: seq,
				DocID:    rev.DocID,
				RevID:    ancestorRevID,
				Deleted:  rev.Deleted,
				Body:     func() (map[string]interface{}, error) { return notifyBody, nil },
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if change != nil {
		e.feed.Notify(*change)
	}
	return &result, nil
}

// ForceInsertFromRevisions is ForceInsert for a peer payload that
// carries its ancestry as a "_revisions" object (the {start, ids}
// compressed form, or the plain ids fallback) rather than an already
// expanded rev-id slice — the shape a replication pull handler receives
// on the wire.
func (e *Engine) ForceInsertFromRevisions(ctx context.Context, rev *NewRevision, revID string, revisions map[string]interface{}, sourceURL string) (*PutResult, error) {
	history, err := ExpandRevisions(revisions)
	if err != nil {
		return nil, err
	}
	return e.ForceInsert(ctx, rev, revID, history, sourceURL)
}
