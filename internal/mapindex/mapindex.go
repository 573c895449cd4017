// Package mapindex is a per-named-view incremental index over document
// bodies, kept current by re-running a map function for every revision
// committed since the view's last-indexed sequence, and queried with
// CouchDB-style range, grouping, and reduce options.
package mapindex

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/vinedb/vinedb/internal/kvstore"
)

// Emit is one (key, value) pair produced by a MapFunc for a document.
type Emit struct {
	Key   interface{}
	Value interface{}
}

// MapFunc projects a document body into zero or more index rows.
type MapFunc func(docID string, body map[string]interface{}) []Emit

// ReduceFunc folds a view's rows down to a single value. Both grouped
// (group/group_level) and ungrouped queries call it once per result row
// over raw map output, always with rereduce=false; this package never
// re-reduces previously reduced values.
type ReduceFunc func(keys []interface{}, values []interface{}, rereduce bool) (interface{}, error)

// View is a named index definition. Version changes invalidate the
// existing index, identified by the pair (map_fn_version, last_indexed_sequence).
type View struct {
	Name    string
	Version string
	Map     MapFunc
	Reduce  ReduceFunc
}

// Stale selects how fresh a query's backing index must be.
type Stale int

const (
	// StaleNever updates the index to the latest sequence before
	// querying.
	StaleNever Stale = iota
	// StaleAfter serves the current index as-is and schedules an
	// asynchronous update.
	StaleAfter
	// StaleOK serves the current index as-is with no update scheduled.
	StaleOK
)

// QueryOptions controls a view query's range, ordering, and grouping.
type QueryOptions struct {
	Stale Stale

	StartKey       interface{}
	EndKey         interface{}
	HasStartKey    bool
	HasEndKey      bool
	InclusiveStart bool
	InclusiveEnd   bool
	Descending     bool
	Keys           []interface{}

	Limit int
	Skip  int

	Group      bool
	GroupLevel int

	// Reduce overrides whether a registered reduce function runs;
	// nil defers to "run it if registered".
	Reduce *bool
}

// Row is one result row from a view query.
type Row struct {
	Key   interface{}
	Value interface{}
	DocID string
}

type registration struct {
	view  *View
	mu    sync.Mutex // serializes index updates for this view
	docID int64      // view_id in the views table
}

// Manager owns every registered view's index state and executes updates
// and queries against the kv store.
type Manager struct {
	store *kvstore.Store

	mu    sync.RWMutex
	views map[string]*registration

	updateSem *semaphore.Weighted
}

// NewManager creates a Manager bounded to maxConcurrentUpdates background
// index updates at a time (the query.max-concurrent-index-updates
// configuration setting).
func NewManager(store *kvstore.Store, maxConcurrentUpdates int) *Manager {
	if maxConcurrentUpdates < 1 {
		maxConcurrentUpdates = 1
	}
	return &Manager{
		store:     store,
		views:     make(map[string]*registration),
		updateSem: semaphore.NewWeighted(int64(maxConcurrentUpdates)),
	}
}

// Register adds or replaces a view definition. If a view of the same
// name was previously indexed under a different Version, its index rows
// are dropped and last_indexed_sequence resets to 0.
func (m *Manager) Register(ctx context.Context, view *View) error {
	var viewID int64
	err := m.store.WithTx(ctx, func(tx *kvstore.Txn) error {
		row := tx.QueryRow(ctx, `SELECT view_id, version FROM views WHERE name = ?`, view.Name)
		var id int64
		var version string
		err := row.Scan(&id, &version)
		if err == nil {
			viewID = id
			if version != view.Version {
				if _, err := tx.Exec(ctx, `DELETE FROM maps WHERE view_id = ?`, id); err != nil {
					return fmt.Errorf("failed to clear stale view rows: %w", err)
				}
				if _, err := tx.Exec(ctx, `UPDATE views SET version = ?, last_indexed_sequence = 0 WHERE view_id = ?`, view.Version, id); err != nil {
					return fmt.Errorf("failed to reset view: %w", err)
				}
			}
			return nil
		}
		res, err := tx.Exec(ctx, `INSERT INTO views (name, version, last_indexed_sequence) VALUES (?, ?, 0)`, view.Name, view.Version)
		if err != nil {
			return fmt.Errorf("failed to register view: %w", err)
		}
		viewID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read new view id: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.views[view.Name] = &registration{view: view, docID: viewID}
	m.mu.Unlock()
	return nil
}

// ViewStatus summarizes one registered view's indexing progress: the
// data backing the "views list" operator surface for inspecting index
// freshness.
type ViewStatus struct {
	Name                string
	Version             string
	LastIndexedSequence int64
}

// ListViews reports every registered view's name, version, and
// last-indexed sequence.
func (m *Manager) ListViews(ctx context.Context) ([]ViewStatus, error) {
	var out []ViewStatus
	err := m.store.WithTx(ctx, func(tx *kvstore.Txn) error {
		rows, err := tx.Query(ctx, `SELECT name, version, last_indexed_sequence FROM views ORDER BY name`)
		if err != nil {
			return fmt.Errorf("failed to list views: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var s ViewStatus
			if err := rows.Scan(&s.Name, &s.Version, &s.LastIndexedSequence); err != nil {
				return fmt.Errorf("failed to scan view row: %w", err)
			}
			out = append(out, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) lookup(name string) (*registration, error) {
	m.mu.RLock()
	reg, ok := m.views[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("mapindex: view %q is not registered", name)
	}
	return reg, nil
}

// Query runs opts against the named view, updating the index first
// according to opts.Stale.
func (m *Manager) Query(ctx context.Context, name string, opts QueryOptions) ([]Row, error) {
	reg, err := m.lookup(name)
	if err != nil {
		return nil, err
	}

	switch opts.Stale {
	case StaleNever:
		if err := m.updateIndex(ctx, reg); err != nil {
			return nil, err
		}
	case StaleAfter:
		go func() {
			bg := context.Background()
			if acquireErr := m.updateSem.Acquire(bg, 1); acquireErr != nil {
				return
			}
			defer m.updateSem.Release(1)
			_ = m.updateIndex(bg, reg)
		}()
	case StaleOK:
		// serve as-is.
	}

	rows, err := m.readRows(ctx, reg)
	if err != nil {
		return nil, err
	}
	rows = applyKeyRange(rows, opts)
	if opts.Group || opts.GroupLevel > 0 {
		rows, err = groupRows(rows, reg.view.Reduce, opts)
		if err != nil {
			return nil, err
		}
	} else if reg.view.Reduce != nil && (opts.Reduce == nil || *opts.Reduce) {
		rows, err = reduceAll(rows, reg.view.Reduce)
		if err != nil {
			return nil, err
		}
	}
	rows = applyLimitSkip(rows, opts)
	return rows, nil
}

// updateIndex brings a view's index up to the latest committed sequence:
// re-run the map function for every current revision since
// last_indexed_sequence, replacing that document's prior rows.
func (m *Manager) updateIndex(ctx context.Context, reg *registration) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	return m.store.WithTx(ctx, func(tx *kvstore.Txn) error {
		var lastIndexed int64
		row := tx.QueryRow(ctx, `SELECT last_indexed_sequence FROM views WHERE view_id = ?`, reg.docID)
		if err := row.Scan(&lastIndexed); err != nil {
			return fmt.Errorf("failed to read view state: %w", err)
		}

		rows, err := tx.Query(ctx, `
			SELECT r.sequence, r.json, d.docid
			FROM revs r JOIN docs d ON d.doc_id = r.doc_id
			WHERE r.current = 1 AND r.sequence > ?
			ORDER BY r.sequence ASC
		`, lastIndexed)
		if err != nil {
			return fmt.Errorf("failed to query pending revisions: %w", err)
		}
		defer rows.Close()

		type pending struct {
			sequence int64
			docID    string
			body     []byte
		}
		var batch []pending
		maxSeq := lastIndexed
		for rows.Next() {
			var p pending
			var body []byte
			if err := rows.Scan(&p.sequence, &body, &p.docID); err != nil {
				return fmt.Errorf("failed to scan pending revision: %w", err)
			}
			p.body = body
			batch = append(batch, p)
			if p.sequence > maxSeq {
				maxSeq = p.sequence
			}
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating pending revisions: %w", err)
		}

		for _, p := range batch {
			if _, err := tx.Exec(ctx, `
				DELETE FROM maps WHERE view_id = ? AND sequence IN (
					SELECT sequence FROM revs WHERE doc_id = (SELECT doc_id FROM docs WHERE docid = ?)
				)
			`, reg.docID, p.docID); err != nil {
				return fmt.Errorf("failed to clear prior rows for %s: %w", p.docID, err)
			}

			var body map[string]interface{}
			if len(p.body) > 0 {
				if err := json.Unmarshal(p.body, &body); err != nil {
					return fmt.Errorf("failed to decode body for %s: %w", p.docID, err)
				}
			}
			for _, emit := range reg.view.Map(p.docID, body) {
				keyJSON, err := json.Marshal(emit.Key)
				if err != nil {
					return fmt.Errorf("failed to encode emitted key: %w", err)
				}
				valJSON, err := json.Marshal(emit.Value)
				if err != nil {
					return fmt.Errorf("failed to encode emitted value: %w", err)
				}
				if _, err := tx.Exec(ctx, `
					INSERT INTO maps (view_id, sequence, key, value) VALUES (?, ?, ?, ?)
				`, reg.docID, p.sequence, string(keyJSON), string(valJSON)); err != nil {
					return fmt.Errorf("failed to insert index row: %w", err)
				}
			}
		}

		if _, err := tx.Exec(ctx, `UPDATE views SET last_indexed_sequence = ? WHERE view_id = ?`, maxSeq, reg.docID); err != nil {
			return fmt.Errorf("failed to advance view cursor: %w", err)
		}
		return nil
	})
}

func (m *Manager) readRows(ctx context.Context, reg *registration) ([]Row, error) {
	var out []Row
	err := m.store.WithTx(ctx, func(tx *kvstore.Txn) error {
		rows, err := tx.Query(ctx, `
			SELECT a.key, a.value, d.docid
			FROM maps a
			JOIN revs r ON r.sequence = a.sequence
			JOIN docs d ON d.doc_id = r.doc_id
			WHERE a.view_id = ?
		`, reg.docID)
		if err != nil {
			return fmt.Errorf("failed to query view rows: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var keyJSON, valJSON string
			var docID string
			if err := rows.Scan(&keyJSON, &valJSON, &docID); err != nil {
				return fmt.Errorf("failed to scan view row: %w", err)
			}
			var key, value interface{}
			if err := json.Unmarshal([]byte(keyJSON), &key); err != nil {
				return fmt.Errorf("failed to decode view key: %w", err)
			}
			if err := json.Unmarshal([]byte(valJSON), &value); err != nil {
				return fmt.Errorf("failed to decode view value: %w", err)
			}
			out = append(out, Row{Key: key, Value: value, DocID: docID})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return Less(out[i].Key, out[j].Key) })
	return out, nil
}
