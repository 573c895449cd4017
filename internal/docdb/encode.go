package docdb

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/vinedb/vinedb/internal/attachment"
	"github.com/vinedb/vinedb/internal/kvstore"
	"github.com/vinedb/vinedb/internal/revtree"
)

// encodeBody validates and splits an incoming Put body into its
// persisted form and the raw "_attachments" map: every top-level
// "_"-prefixed key other than the reserved set is BAD_REQUEST, and
// "_attachments" is pulled out for the attachment manager rather than
// stored as-is.
func encodeBody(raw map[string]interface{}) (body map[string]interface{}, attachments map[string]interface{}, err error) {
	body = make(map[string]interface{}, len(raw))
	for k, v := range raw {
		if !strings.HasPrefix(k, "_") {
			body[k] = v
			continue
		}
		if !ReservedKeys[k] {
			return nil, nil, fmt.Errorf("%w: unknown reserved key %q", ErrBadRequest, k)
		}
		switch k {
		case "_attachments":
			m, ok := v.(map[string]interface{})
			if !ok {
				return nil, nil, fmt.Errorf("%w: _attachments must be an object", ErrBadRequest)
			}
			attachments = m
		case "_id", "_rev", "_deleted":
			// these are derived by the engine, never persisted verbatim.
		default:
			// _revisions/_revs_info/_conflicts/_deleted_conflicts/_local_seq
			// are response-only projections; silently dropped on write.
		}
	}
	return body, attachments, nil
}

// EncodeOptions selects which response-only projections Project adds to a
// revision's body.
type EncodeOptions struct {
	IncludeAttachments   bool
	BigAttachmentsFollow bool
	IncludeLocalSeq      bool
	IncludeRevs          bool
	IncludeRevsInfo      bool
	IncludeConflicts     bool
	NoBody               bool
}

const bigAttachmentThreshold = 16384

// Project builds the response body for row, decorated per opts. docID
// is the external document id (row only knows the numeric one); row
// must be the revision being projected, not necessarily the winner.
func Project(ctx context.Context, tx *kvstore.Txn, blobs blobReader, docID string, row *revtree.Row, opts EncodeOptions) (map[string]interface{}, error) {
	out := map[string]interface{}{
		"_id":  docID,
		"_rev": row.RevID,
	}
	if row.Deleted {
		out["_deleted"] = true
	}
	if !opts.NoBody && len(row.Body) > 0 {
		decoded := decodeBodyOrNil(row.Body)
		for k, v := range decoded {
			if k == "_attachments" {
				continue
			}
			out[k] = v
		}
	}

	rows, err := attachment.ForRevision(ctx, tx, row.Sequence)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if len(rows) > 0 {
		atts := make(map[string]interface{}, len(rows))
		for _, a := range rows {
			entry := map[string]interface{}{
				"digest":       a.Key,
				"content_type": a.ContentType,
				"length":       a.Length,
				"revpos":       a.RevPos,
			}
			if a.Encoding != "" && a.Encoding != "none" {
				entry["encoding"] = a.Encoding
			}
			if opts.IncludeAttachments {
				if a.Length < bigAttachmentThreshold || !opts.BigAttachmentsFollow {
					if blobs != nil {
						data, rerr := blobs.Read(a.Key)
						if rerr == nil {
							buf := make([]byte, a.Length)
							if _, rerr := io.ReadFull(data, buf); rerr == nil {
								entry["data"] = base64.StdEncoding.EncodeToString(buf)
							}
							data.Close()
						}
					}
				} else {
					entry["follows"] = true
				}
			} else {
				entry["stub"] = true
			}
			atts[a.Filename] = entry
		}
		out["_attachments"] = atts
	}

	if opts.IncludeRevs {
		history, err := revtree.History(ctx, tx, row.Sequence)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInternal, err)
		}
		out["_revisions"] = compressRevisions(history)
	}

	if opts.IncludeRevsInfo {
		history, err := revtree.History(ctx, tx, row.Sequence)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInternal, err)
		}
		info := make([]map[string]interface{}, 0, len(history))
		for _, h := range history {
			status := "available"
			if h.Deleted {
				status = "deleted"
			} else if len(h.Body) == 0 {
				status = "missing"
			}
			info = append(info, map[string]interface{}{"rev": h.RevID, "status": status})
		}
		out["_revs_info"] = info
	}

	if opts.IncludeConflicts {
		conflicts, err := revtree.Conflicts(ctx, tx, row.DocNumericID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInternal, err)
		}
		if len(conflicts) > 0 {
			out["_conflicts"] = conflicts
		}
	}

	if opts.IncludeLocalSeq {
		out["_local_seq"] = row.Sequence
	}

	return out, nil
}

// blobReader is the slice of blobstore.Store that Project needs; kept as
// an interface so tests can stub it.
type blobReader interface {
	Read(key string) (io.ReadCloser, error)
}

// compressRevisions builds the "_revisions" projection: a {start, ids}
// suffix-compressed form when every step in history is a strict
// single-generation decrement with a non-empty suffix, falling back to
// the full rev-id list otherwise.
func compressRevisions(history []revtree.Row) map[string]interface{} {
	if len(history) == 0 {
		return map[string]interface{}{"start": 0, "ids": []string{}}
	}
	leafGen, _, err := revtree.ParseRevID(history[0].RevID)
	if err != nil {
		return fallbackRevisions(history)
	}

	ids := make([]string, 0, len(history))
	prevGen := leafGen + 1
	for _, h := range history {
		gen, suffix, err := revtree.ParseRevID(h.RevID)
		if err != nil || suffix == "" || gen != prevGen-1 {
			return fallbackRevisions(history)
		}
		ids = append(ids, suffix)
		prevGen = gen
	}
	return map[string]interface{}{"start": leafGen, "ids": ids}
}

func fallbackRevisions(history []revtree.Row) map[string]interface{} {
	ids := make([]string, 0, len(history))
	for _, h := range history {
		ids = append(ids, h.RevID)
	}
	return map[string]interface{}{"ids": ids}
}

// ExpandRevisions reverses compressRevisions/fallbackRevisions: given a
// decoded "_revisions" object (as produced by Project, or as supplied by
// a replication peer on ForceInsert), it returns the leaf-to-ancestor
// rev-id list suitable for the rev_history argument to ForceInsert. The
// {start, ids} suffix-compressed form is expanded by pairing each
// suffix with its descending generation starting at start; the
// fallback form (full rev ids already in "ids", no "start") is returned
// unchanged.
func ExpandRevisions(revisions map[string]interface{}) ([]string, error) {
	rawIDs, ok := revisions["ids"]
	if !ok {
		return nil, fmt.Errorf("%w: _revisions missing ids", ErrBadRequest)
	}
	ids, err := toStringSlice(rawIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: _revisions.ids must be a list of strings", ErrBadRequest)
	}

	rawStart, hasStart := revisions["start"]
	if !hasStart {
		return ids, nil
	}
	start, err := toInt(rawStart)
	if err != nil {
		return nil, fmt.Errorf("%w: _revisions.start must be an integer", ErrBadRequest)
	}

	out := make([]string, len(ids))
	for i, suffix := range ids {
		out[i] = revtree.FormatRevID(start-i, suffix)
	}
	return out, nil
}

func toStringSlice(raw interface{}) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, len(v))
		for i, elem := range v {
			s, ok := elem.(string)
			if !ok {
				return nil, fmt.Errorf("element %d is not a string", i)
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", raw)
	}
}

func toInt(raw interface{}) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, err
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported type %T", raw)
	}
}
