package docdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/vinedb/vinedb/internal/kvstore"
)

const localDocPrefix = "_local/"

// IsLocalID reports whether docID names a local document: excluded from
// replication, the sequence feed, and attachments.
func IsLocalID(docID string) bool {
	return strings.HasPrefix(docID, localDocPrefix)
}

// GetLocalDocument reads a _local/* document. Its single revision chain
// is numbered "<n>-local", not the usual "<n>-<uuid>" form.
func (e *Engine) GetLocalDocument(ctx context.Context, docID string) (map[string]interface{}, error) {
	if !IsLocalID(docID) {
		return nil, fmt.Errorf("%w: %q is not a local document id", ErrBadRequest, docID)
	}
	var out map[string]interface{}
	err := e.store.WithTx(ctx, func(tx *kvstore.Txn) error {
		row := tx.QueryRow(ctx, `SELECT revid, json FROM localdocs WHERE docid = ?`, docID)
		var revID string
		var body []byte
		if err := row.Scan(&revID, &body); err == sql.ErrNoRows {
			return fmt.Errorf("%w: local document %q not found", ErrNotFound, docID)
		} else if err != nil {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
		decoded := decodeBodyOrNil(body)
		if decoded == nil {
			decoded = map[string]interface{}{}
		}
		decoded["_id"] = docID
		decoded["_rev"] = revID
		out = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PutLocalDocument writes a _local/* document. prevRevID must match the
// stored revision unless the document doesn't exist yet, mirroring Put's
// optimistic-concurrency check without participating in the revision
// tree, attachments, or the change feed.
func (e *Engine) PutLocalDocument(ctx context.Context, docID string, prevRevID string, body map[string]interface{}) (string, error) {
	if !IsLocalID(docID) {
		return "", fmt.Errorf("%w: %q is not a local document id", ErrBadRequest, docID)
	}

	var newRevID string
	err := e.store.WithTx(ctx, func(tx *kvstore.Txn) error {
		row := tx.QueryRow(ctx, `SELECT revid FROM localdocs WHERE docid = ?`, docID)
		var existingRevID string
		err := row.Scan(&existingRevID)
		switch {
		case err == sql.ErrNoRows:
			if prevRevID != "" {
				return fmt.Errorf("%w: local document %q not found", ErrNotFound, docID)
			}
			newRevID = "1-local"
		case err != nil:
			return fmt.Errorf("%w: %v", ErrInternal, err)
		default:
			if prevRevID != existingRevID {
				return fmt.Errorf("%w: local document %q revision mismatch", ErrConflict, docID)
			}
			n, perr := localGeneration(existingRevID)
			if perr != nil {
				return fmt.Errorf("%w: %v", ErrInternal, perr)
			}
			newRevID = fmt.Sprintf("%d-local", n+1)
		}

		clean := map[string]interface{}{}
		for k, v := range body {
			if strings.HasPrefix(k, "_") {
				continue
			}
			clean[k] = v
		}
		bodyJSON, merr := json.Marshal(clean)
		if merr != nil {
			return fmt.Errorf("%w: failed to encode body: %v", ErrBadRequest, merr)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO localdocs (docid, revid, json) VALUES (?, ?, ?)
			ON CONFLICT(docid) DO UPDATE SET revid = excluded.revid, json = excluded.json
		`, docID, newRevID, string(bodyJSON))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return newRevID, nil
}

// DeleteLocalDocument removes a _local/* document outright; local
// documents have no tombstone form.
func (e *Engine) DeleteLocalDocument(ctx context.Context, docID, prevRevID string) error {
	if !IsLocalID(docID) {
		return fmt.Errorf("%w: %q is not a local document id", ErrBadRequest, docID)
	}
	return e.store.WithTx(ctx, func(tx *kvstore.Txn) error {
		row := tx.QueryRow(ctx, `SELECT revid FROM localdocs WHERE docid = ?`, docID)
		var existingRevID string
		if err := row.Scan(&existingRevID); err == sql.ErrNoRows {
			return fmt.Errorf("%w: local document %q not found", ErrNotFound, docID)
		} else if err != nil {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
		if prevRevID != existingRevID {
			return fmt.Errorf("%w: local document %q revision mismatch", ErrConflict, docID)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM localdocs WHERE docid = ?`, docID); err != nil {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
		return nil
	})
}

func localGeneration(revID string) (int, error) {
	suffix := "-local"
	if !strings.HasSuffix(revID, suffix) {
		return 0, fmt.Errorf("malformed local rev-id %q", revID)
	}
	return strconv.Atoi(strings.TrimSuffix(revID, suffix))
}
