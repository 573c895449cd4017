// Package attachment binds inline/follows/stub attachment entries in a
// revision body to attachment rows and blob-store content, inheriting
// stub rows from the parent revision, and rewriting the body to stub
// form.
package attachment

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"

	"github.com/vinedb/vinedb/internal/blobstore"
	"github.com/vinedb/vinedb/internal/kvstore"
)

// ErrNotFound is returned when a stub attachment references a filename
// that doesn't exist on the parent revision.
var ErrNotFound = fmt.Errorf("attachment: stub has no matching parent entry")

// ErrInvalidRevpos is returned when an incoming attachment's revpos
// exceeds the revision's own generation; rejected rather than clamped.
var ErrInvalidRevpos = fmt.Errorf("attachment: revpos exceeds revision generation")

// Row mirrors one row of the attachments table.
type Row struct {
	Sequence    int64
	Filename    string
	Key         string
	ContentType string
	Length      int
	Encoding    string
	RevPos      int
}

// Process walks body's "_attachments" map (already unmarshalled), inserts
// or inherits attachment rows for the newly-inserted revision at
// sequence, and returns the rewritten "_attachments" map in stub form.
// If deleted is true, any attachment content is ignored and nil is
// returned.
func Process(ctx context.Context, tx *kvstore.Txn, blobs *blobstore.Store, docNumericID, sequence int64, parentSequence sql.NullInt64, generation int, deleted bool, attachments map[string]interface{}) (map[string]interface{}, error) {
	if deleted {
		return nil, nil
	}
	if len(attachments) == 0 {
		return nil, nil
	}

	out := make(map[string]interface{}, len(attachments))
	for filename, raw := range attachments {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("attachment %q: malformed entry", filename)
		}

		switch {
		case truthy(entry["follows"]):
			row, err := processFollows(blobs, filename, entry, generation)
			if err != nil {
				return nil, err
			}
			if err := insertRow(ctx, tx, sequence, row); err != nil {
				return nil, err
			}
			out[filename] = stubForm(row)

		case truthy(entry["stub"]):
			row, err := inheritStub(ctx, tx, parentSequence, filename)
			if err != nil {
				return nil, err
			}
			row.Sequence = sequence
			if err := insertRow(ctx, tx, sequence, row); err != nil {
				return nil, err
			}
			out[filename] = stubForm(row)

		default:
			row, err := processInline(ctx, blobs, filename, entry, generation)
			if err != nil {
				return nil, err
			}
			if err := insertRow(ctx, tx, sequence, row); err != nil {
				return nil, err
			}
			out[filename] = stubForm(row)
		}
	}
	return out, nil
}

func truthy(v interface{}) bool {
	b, ok := v.(bool)
	return ok && b
}

func resolveRevpos(entry map[string]interface{}, generation int) (int, error) {
	raw, ok := entry["revpos"]
	if !ok {
		return generation, nil
	}
	revpos, ok := asInt(raw)
	if !ok {
		return 0, fmt.Errorf("attachment: malformed revpos")
	}
	if revpos > generation {
		return 0, ErrInvalidRevpos
	}
	if revpos <= 0 {
		return generation, nil
	}
	return revpos, nil
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func processInline(ctx context.Context, blobs *blobstore.Store, filename string, entry map[string]interface{}, generation int) (Row, error) {
	dataStr, _ := entry["data"].(string)
	raw, err := base64.StdEncoding.DecodeString(dataStr)
	if err != nil {
		return Row{}, fmt.Errorf("attachment %q: invalid base64 data: %w", filename, err)
	}
	key, length, err := blobs.Store(ctx, raw)
	if err != nil {
		return Row{}, fmt.Errorf("attachment %q: %w", filename, err)
	}
	revpos, err := resolveRevpos(entry, generation)
	if err != nil {
		return Row{}, fmt.Errorf("attachment %q: %w", filename, err)
	}
	contentType, _ := entry["content_type"].(string)
	encoding := "none"
	if enc, _ := entry["encoding"].(string); enc == "gzip" {
		encoding = "gzip"
	}
	return Row{Filename: filename, Key: key, ContentType: contentType, Length: length, Encoding: encoding, RevPos: revpos}, nil
}

func processFollows(blobs *blobstore.Store, filename string, entry map[string]interface{}, generation int) (Row, error) {
	digest, _ := entry["digest"].(string)
	if digest == "" {
		return Row{}, fmt.Errorf("attachment %q: follows entry missing digest", filename)
	}
	w, ok := blobs.PendingWriter(digest)
	if !ok {
		return Row{}, fmt.Errorf("attachment %q: no pending writer for digest %s", filename, digest)
	}
	key, length, err := w.Install()
	if err != nil {
		return Row{}, fmt.Errorf("attachment %q: %w", filename, err)
	}
	revpos, err := resolveRevpos(entry, generation)
	if err != nil {
		return Row{}, fmt.Errorf("attachment %q: %w", filename, err)
	}
	contentType, _ := entry["content_type"].(string)
	encoding := "none"
	if enc, _ := entry["encoding"].(string); enc == "gzip" {
		encoding = "gzip"
	}
	return Row{Filename: filename, Key: key, ContentType: contentType, Length: length, Encoding: encoding, RevPos: revpos}, nil
}

func inheritStub(ctx context.Context, tx *kvstore.Txn, parentSequence sql.NullInt64, filename string) (Row, error) {
	if !parentSequence.Valid {
		return Row{}, ErrNotFound
	}
	row := tx.QueryRow(ctx, `
		SELECT key, type, length, encoding, revpos
		FROM attachments WHERE sequence = ? AND filename = ?
	`, parentSequence.Int64, filename)
	var r Row
	r.Filename = filename
	err := row.Scan(&r.Key, &r.ContentType, &r.Length, &r.Encoding, &r.RevPos)
	if err == sql.ErrNoRows {
		return Row{}, ErrNotFound
	}
	if err != nil {
		return Row{}, fmt.Errorf("attachment %q: failed to inherit stub: %w", filename, err)
	}
	return r, nil
}

func insertRow(ctx context.Context, tx *kvstore.Txn, sequence int64, row Row) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO attachments (sequence, filename, key, type, length, revpos, encoding)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sequence, row.Filename, row.Key, row.ContentType, row.Length, row.RevPos, row.Encoding)
	if err != nil {
		return fmt.Errorf("attachment %q: failed to insert row: %w", row.Filename, err)
	}
	return nil
}

func stubForm(row Row) map[string]interface{} {
	m := map[string]interface{}{
		"stub":         true,
		"digest":       row.Key,
		"content_type": row.ContentType,
		"length":       row.Length,
		"revpos":       row.RevPos,
	}
	if row.Encoding != "" && row.Encoding != "none" {
		m["encoding"] = row.Encoding
	}
	return m
}

// ForRevision returns every attachment row bound to a revision's
// sequence, used by the response-encoding path.
func ForRevision(ctx context.Context, tx *kvstore.Txn, sequence int64) ([]Row, error) {
	rows, err := tx.Query(ctx, `
		SELECT filename, key, type, length, encoding, revpos
		FROM attachments WHERE sequence = ?
	`, sequence)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		r.Sequence = sequence
		if err := rows.Scan(&r.Filename, &r.Key, &r.ContentType, &r.Length, &r.Encoding, &r.RevPos); err != nil {
			return nil, fmt.Errorf("failed to scan attachment row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LiveKeys returns the set of blob keys referenced by any attachment row
// bound to a current revision: the retained set for blob GC.
func LiveKeys(ctx context.Context, tx *kvstore.Txn) (map[string]bool, error) {
	rows, err := tx.Query(ctx, `
		SELECT DISTINCT a.key
		FROM attachments a
		JOIN revs r ON r.sequence = a.sequence
		WHERE r.current = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query live attachment keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan attachment key: %w", err)
		}
		keys[k] = true
	}
	return keys, rows.Err()
}
