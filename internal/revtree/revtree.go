// Package revtree implements the per-document revision tree: the
// doc/revs rows, sequence assignment, parent-chain walks, and the
// winning-revision selection rule.
package revtree

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/vinedb/vinedb/internal/kvstore"
)

// Row is one revision row as stored in the revs table.
type Row struct {
	Sequence       int64
	DocNumericID   int64
	RevID          string
	ParentSequence sql.NullInt64
	Current        bool
	Deleted        bool
	Body           []byte
}

// ResolveDocID returns the numeric doc_id for docID, creating the docs
// row if it doesn't exist yet. created reports whether a new row was
// inserted.
func ResolveDocID(ctx context.Context, tx *kvstore.Txn, docID string) (numericID int64, created bool, err error) {
	var id int64
	err = tx.QueryRow(ctx, `SELECT doc_id FROM docs WHERE docid = ?`, docID).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("failed to look up document: %w", err)
	}
	res, err := tx.Exec(ctx, `INSERT INTO docs (docid) VALUES (?)`, docID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create document row: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read new document id: %w", err)
	}
	return id, true, nil
}

// LookupDocID returns the numeric doc_id for docID without creating it.
func LookupDocID(ctx context.Context, tx *kvstore.Txn, docID string) (numericID int64, found bool, err error) {
	var id int64
	err = tx.QueryRow(ctx, `SELECT doc_id FROM docs WHERE docid = ?`, docID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up document: %w", err)
	}
	return id, true, nil
}

// LookupRev finds the row for (docNumericID, revID).
func LookupRev(ctx context.Context, tx *kvstore.Txn, docNumericID int64, revID string) (*Row, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT sequence, doc_id, revid, parent, current, deleted, json
		FROM revs WHERE doc_id = ? AND revid = ?
	`, docNumericID, revID)
	return scanRow(row)
}

// RevBySequence looks a revision row up by its sequence.
func RevBySequence(ctx context.Context, tx *kvstore.Txn, sequence int64) (*Row, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT sequence, doc_id, revid, parent, current, deleted, json
		FROM revs WHERE sequence = ?
	`, sequence)
	return scanRow(row)
}

func scanRow(row *sql.Row) (*Row, bool, error) {
	var r Row
	var current, deleted int
	var body sql.NullString
	err := row.Scan(&r.Sequence, &r.DocNumericID, &r.RevID, &r.ParentSequence, &current, &deleted, &body)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to scan revision row: %w", err)
	}
	r.Current = current != 0
	r.Deleted = deleted != 0
	if body.Valid {
		r.Body = []byte(body.String)
	}
	return &r, true, nil
}

// AllRevs returns every revision of a document (or only the current
// leaves), ordered by sequence descending.
func AllRevs(ctx context.Context, tx *kvstore.Txn, docNumericID int64, onlyCurrent bool) ([]Row, error) {
	query := `
		SELECT sequence, doc_id, revid, parent, current, deleted, json
		FROM revs WHERE doc_id = ?`
	if onlyCurrent {
		query += ` AND current = 1`
	}
	query += ` ORDER BY sequence DESC`

	rows, err := tx.Query(ctx, query, docNumericID)
	if err != nil {
		return nil, fmt.Errorf("failed to query revisions: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var current, deleted int
		var body sql.NullString
		if err := rows.Scan(&r.Sequence, &r.DocNumericID, &r.RevID, &r.ParentSequence, &current, &deleted, &body); err != nil {
			return nil, fmt.Errorf("failed to scan revision row: %w", err)
		}
		r.Current = current != 0
		r.Deleted = deleted != 0
		if body.Valid {
			r.Body = []byte(body.String)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating revisions: %w", err)
	}
	return out, nil
}

// WinningRev selects the document's winning revision: among current=true
// rows, order deleted ASC then rev-id DESC (compared as parsed
// (generation, suffix) pairs); conflict iff at least two current,
// non-deleted rows exist.
func WinningRev(ctx context.Context, tx *kvstore.Txn, docNumericID int64) (revID string, deleted bool, conflict bool, err error) {
	current, err := AllRevs(ctx, tx, docNumericID, true)
	if err != nil {
		return "", false, false, err
	}
	if len(current) == 0 {
		return "", false, false, sql.ErrNoRows
	}

	sort.SliceStable(current, func(i, j int) bool {
		if current[i].Deleted != current[j].Deleted {
			return !current[i].Deleted // deleted ASC: non-deleted first
		}
		less, lerr := Less(current[j].RevID, current[i].RevID) // rev-id DESC
		if lerr != nil {
			return false
		}
		return less
	})

	winner := current[0]

	nonDeletedCount := 0
	for _, r := range current {
		if !r.Deleted {
			nonDeletedCount++
		}
	}

	return winner.RevID, winner.Deleted, nonDeletedCount >= 2, nil
}

// Conflicts returns the rev-ids of every non-deleted current leaf other
// than the winning revision.
func Conflicts(ctx context.Context, tx *kvstore.Txn, docNumericID int64) ([]string, error) {
	current, err := AllRevs(ctx, tx, docNumericID, true)
	if err != nil {
		return nil, err
	}
	winner, _, _, err := WinningRev(ctx, tx, docNumericID)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, r := range current {
		if r.Deleted || r.RevID == winner {
			continue
		}
		out = append(out, r.RevID)
	}
	return out, nil
}

// ParentOf returns the immediate ancestor of a revision, if any.
func ParentOf(ctx context.Context, tx *kvstore.Txn, sequence int64) (*Row, bool, error) {
	row, ok, err := RevBySequence(ctx, tx, sequence)
	if err != nil || !ok || !row.ParentSequence.Valid {
		return nil, false, err
	}
	return RevBySequence(ctx, tx, row.ParentSequence.Int64)
}

// History walks parent edges from sequence back to the root, returning
// rows leaf-first (reverse-chronological).
func History(ctx context.Context, tx *kvstore.Txn, sequence int64) ([]Row, error) {
	var out []Row
	seq := sequence
	for {
		row, ok, err := RevBySequence(ctx, tx, seq)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("revtree: sequence %d not found while walking history", seq)
		}
		out = append(out, *row)
		if !row.ParentSequence.Valid {
			break
		}
		seq = row.ParentSequence.Int64
	}
	return out, nil
}

// MarkNotCurrent clears the current flag on a revision row. Callers are
// responsible for marking the correct sibling non-current before
// inserting a new current leaf.
func MarkNotCurrent(ctx context.Context, tx *kvstore.Txn, sequence int64) error {
	_, err := tx.Exec(ctx, `UPDATE revs SET current = 0 WHERE sequence = ?`, sequence)
	if err != nil {
		return fmt.Errorf("failed to clear current flag: %w", err)
	}
	return nil
}

// Insert atomically allocates the next sequence and stores a revision
// row. When current is true, the caller must have already cleared the
// current flag on any sibling.
func Insert(ctx context.Context, tx *kvstore.Txn, docNumericID int64, revID string, parentSequence sql.NullInt64, current, deleted bool, body []byte) (int64, error) {
	currentInt, deletedInt := 0, 0
	if current {
		currentInt = 1
	}
	if deleted {
		deletedInt = 1
	}
	var bodyArg interface{}
	if body != nil {
		bodyArg = string(body)
	}
	res, err := tx.Exec(ctx, `
		INSERT INTO revs (doc_id, revid, parent, current, deleted, json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, docNumericID, revID, parentSequence, currentInt, deletedInt, bodyArg)
	if err != nil {
		return 0, fmt.Errorf("failed to insert revision: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read new sequence: %w", err)
	}
	return seq, nil
}

// ChangeRow is one current revision paired with its external document
// id, as returned by RevsSince.
type ChangeRow struct {
	Row
	DocID string
}

// RevsSince returns every current revision with a sequence greater than
// since, ordered ascending by sequence. It is used to catch the feed up
// after an external write is detected on the backing file (another
// process sharing the same database in WAL mode), since that writer's
// commits never went through this engine's own Notify calls.
func RevsSince(ctx context.Context, tx *kvstore.Txn, since int64) ([]ChangeRow, error) {
	rows, err := tx.Query(ctx, `
		SELECT revs.sequence, revs.doc_id, docs.docid, revs.revid, revs.parent, revs.current, revs.deleted, revs.json
		FROM revs JOIN docs ON docs.doc_id = revs.doc_id
		WHERE revs.current = 1 AND revs.sequence > ?
		ORDER BY revs.sequence ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query revisions since sequence %d: %w", since, err)
	}
	defer rows.Close()

	var out []ChangeRow
	for rows.Next() {
		var c ChangeRow
		var current, deleted int
		var body sql.NullString
		if err := rows.Scan(&c.Sequence, &c.DocNumericID, &c.DocID, &c.RevID, &c.ParentSequence, &current, &deleted, &body); err != nil {
			return nil, fmt.Errorf("failed to scan revision row: %w", err)
		}
		c.Current = current != 0
		c.Deleted = deleted != 0
		if body.Valid {
			c.Body = []byte(body.String)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating revisions: %w", err)
	}
	return out, nil
}

// Purge physically deletes revision rows. revIDs == nil means "*": every
// revision of the document. Returns the
// purged rev-ids.
func Purge(ctx context.Context, tx *kvstore.Txn, docNumericID int64, revIDs []string) ([]string, error) {
	if revIDs == nil {
		rows, err := AllRevs(ctx, tx, docNumericID, false)
		if err != nil {
			return nil, err
		}
		var purged []string
		for _, r := range rows {
			if _, err := tx.Exec(ctx, `DELETE FROM attachments WHERE sequence = ?`, r.Sequence); err != nil {
				return nil, fmt.Errorf("failed to purge attachment rows: %w", err)
			}
			if _, err := tx.Exec(ctx, `DELETE FROM revs WHERE sequence = ?`, r.Sequence); err != nil {
				return nil, fmt.Errorf("failed to purge revision: %w", err)
			}
			purged = append(purged, r.RevID)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM docs WHERE doc_id = ?`, docNumericID); err != nil {
			return nil, fmt.Errorf("failed to purge document row: %w", err)
		}
		return purged, nil
	}

	var purged []string
	for _, revID := range revIDs {
		row, ok, err := LookupRev(ctx, tx, docNumericID, revID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if _, err := tx.Exec(ctx, `DELETE FROM attachments WHERE sequence = ?`, row.Sequence); err != nil {
			return nil, fmt.Errorf("failed to purge attachment rows: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM revs WHERE sequence = ?`, row.Sequence); err != nil {
			return nil, fmt.Errorf("failed to purge revision: %w", err)
		}
		purged = append(purged, revID)
	}
	return purged, nil
}
