package kvstore

import (
	"context"
	"database/sql"
	"fmt"
)

// ConflictPolicy selects the ON CONFLICT behavior for InsertOnConflict.
type ConflictPolicy int

const (
	ConflictAbort ConflictPolicy = iota
	ConflictIgnore
	ConflictReplace
)

func (p ConflictPolicy) sqlKeyword() string {
	switch p {
	case ConflictIgnore:
		return "OR IGNORE"
	case ConflictReplace:
		return "OR REPLACE"
	default:
		return ""
	}
}

// Txn is the nestable transaction controller. The outermost Begin opens
// a real SQL transaction; every nested Begin opens a SAVEPOINT instead.
// Only the outermost End(true) materializes changes;
// any End(false) at any depth poisons the whole transaction so that the
// eventual outermost End always rolls back, even if the caller mistakenly
// passes commit=true for the outer frame after a nested abort.
type Txn struct {
	sqlTx    *sql.Tx
	depth    int
	poisoned bool
}

// Begin opens the outermost transaction for a Store.
func (s *Store) Begin(ctx context.Context) (*Txn, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Txn{sqlTx: sqlTx, depth: 1}, nil
}

func savepointName(depth int) string {
	return fmt.Sprintf("kvstore_sp_%d", depth)
}

// Begin increments the nesting depth, issuing a SAVEPOINT for every frame
// past the first.
func (t *Txn) Begin(ctx context.Context) error {
	t.depth++
	if t.depth == 1 {
		return nil
	}
	if _, err := t.sqlTx.ExecContext(ctx, "SAVEPOINT "+savepointName(t.depth)); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}
	return nil
}

// End closes one nesting frame. commit=false poisons the entire
// transaction: the current frame is rolled back to its savepoint (or the
// whole transaction is rolled back, at depth 0) and every enclosing End
// is forced to roll back regardless of the commit flag it's called with.
func (t *Txn) End(ctx context.Context, commit bool) error {
	if t.depth <= 0 {
		return fmt.Errorf("kvstore: End called with no open transaction frame")
	}
	if !commit {
		t.poisoned = true
	}

	if t.depth > 1 {
		name := savepointName(t.depth)
		t.depth--
		if !commit {
			_, err := t.sqlTx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name)
			if err != nil {
				return fmt.Errorf("failed to roll back to savepoint: %w", err)
			}
			// Releasing after rollback-to keeps the savepoint stack clean.
			_, err = t.sqlTx.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
			if err != nil {
				return fmt.Errorf("failed to release savepoint after rollback: %w", err)
			}
			return nil
		}
		_, err := t.sqlTx.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
		if err != nil {
			return fmt.Errorf("failed to release savepoint: %w", err)
		}
		return nil
	}

	// Outermost frame: materialize or discard everything.
	t.depth = 0
	if t.poisoned {
		if err := t.sqlTx.Rollback(); err != nil && err != sql.ErrTxDone {
			return fmt.Errorf("failed to roll back transaction: %w", err)
		}
		return nil
	}
	if err := t.sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Exec runs a statement within the transaction.
func (t *Txn) Exec(ctx context.Context, stmt string, args ...interface{}) (sql.Result, error) {
	return t.sqlTx.ExecContext(ctx, stmt, args...)
}

// Query runs a statement within the transaction and returns a cursor.
func (t *Txn) Query(ctx context.Context, stmt string, args ...interface{}) (*sql.Rows, error) {
	return t.sqlTx.QueryContext(ctx, stmt, args...)
}

// QueryRow runs a statement within the transaction expecting at most one row.
func (t *Txn) QueryRow(ctx context.Context, stmt string, args ...interface{}) *sql.Row {
	return t.sqlTx.QueryRowContext(ctx, stmt, args...)
}

// InsertOnConflict builds and runs an INSERT ... VALUES (...) statement
// with the given conflict policy.
func (t *Txn) InsertOnConflict(ctx context.Context, table string, columns []string, values []interface{}, policy ConflictPolicy) (sql.Result, error) {
	if len(columns) != len(values) {
		return nil, fmt.Errorf("kvstore: column/value count mismatch for %s", table)
	}
	placeholders := make([]string, len(columns))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	stmt := fmt.Sprintf("INSERT %s INTO %s (%s) VALUES (%s)",
		policy.sqlKeyword(), table, joinCommas(columns), joinCommas(placeholders))
	return t.Exec(ctx, stmt, values...)
}

func joinCommas(items []string) string {
	out := ""
	for i, it := range items {
		if i > 0 {
			out += ", "
		}
		out += it
	}
	return out
}

// WithTx runs fn inside a new outermost transaction, committing or
// rolling back based on fn's return value. A panic inside fn rolls back
// and repanics.
func (s *Store) WithTx(ctx context.Context, fn func(*Txn) error) (err error) {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.End(ctx, false)
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if endErr := tx.End(ctx, false); endErr != nil {
			return fmt.Errorf("%w (and rollback failed: %v)", err, endErr)
		}
		return err
	}
	return tx.End(ctx, true)
}

// WithNestedTx runs fn inside a nested frame of an already-open Txn.
func (tx *Txn) WithNestedTx(ctx context.Context, fn func(*Txn) error) (err error) {
	if err := tx.Begin(ctx); err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.End(ctx, false)
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if endErr := tx.End(ctx, false); endErr != nil {
			return fmt.Errorf("%w (and rollback failed: %v)", err, endErr)
		}
		return err
	}
	return tx.End(ctx, true)
}
