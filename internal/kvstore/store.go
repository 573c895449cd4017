// Package kvstore is the backing-store adapter: a thin, synchronous
// layer over an embedded SQL engine providing atomic nestable
// transactions, statement execution, cursor iteration, and a
// schema-version pragma. It wraps github.com/ncruces/go-sqlite3, a
// pure-Go (no cgo) SQLite driver.
package kvstore

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/vinedb/vinedb/internal/kvstore/migrations"
)

// CurrentSchemaVersion is the highest schema version this build knows how
// to run against. A database with a stored version greater than this
// refuses to open.
const CurrentSchemaVersion = 4

// Store is the backing-store handle for one database file. It owns a
// single *sql.DB; write transactions are serialized (single-writer
// model) by capping the pool to one connection.
type Store struct {
	db   *sql.DB
	Path string
}

// OpenOptions carries the ambient store.busy-timeout / store.wal
// configuration into the pragma string built by Open.
type OpenOptions struct {
	BusyTimeoutMillis int
	WAL               bool
}

// DefaultOpenOptions returns the default busy-timeout/WAL pragmas.
func DefaultOpenOptions() OpenOptions {
	return OpenOptions{BusyTimeoutMillis: 5000, WAL: true}
}

// Open opens (creating if necessary) the SQLite database at path, runs
// any pending migrations, and returns a ready Store.
func Open(ctx context.Context, path string, newUUID func() string, opts OpenOptions) (*Store, error) {
	journalMode := "delete"
	if opts.WAL {
		journalMode = "wal"
	}
	if opts.BusyTimeoutMillis <= 0 {
		opts.BusyTimeoutMillis = 5000
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(%s)&_pragma=foreign_keys(1)",
		url.PathEscape(path), opts.BusyTimeoutMillis, journalMode)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open backing store: %w", err)
	}
	// Single-writer model: one physical connection avoids SQLITE_BUSY
	// storms between goroutines and gives the nestable transaction
	// controller a single serialized view of the database.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, Path: path}
	if err := s.migrate(ctx, newUUID); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SchemaVersion reads the current schema version pragma.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

func (s *Store) setSchemaVersion(ctx context.Context, v int) error {
	// PRAGMA does not accept bound parameters in most SQLite drivers.
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, v))
	if err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

func (s *Store) migrate(ctx context.Context, newUUID func() string) error {
	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than this build supports (max %d)", version, CurrentSchemaVersion)
	}

	if version < 1 {
		if _, err := s.db.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("failed to create initial schema: %w", err)
		}
		version = 1
		if err := s.setSchemaVersion(ctx, version); err != nil {
			return err
		}
	}

	if version < 2 {
		if err := migrations.MigrateAttachmentRevpos(s.db); err != nil {
			return err
		}
		version = 2
		if err := s.setSchemaVersion(ctx, version); err != nil {
			return err
		}
	}

	if version < 3 {
		if err := migrations.MigrateLocalDocs(s.db); err != nil {
			return err
		}
		version = 3
		if err := s.setSchemaVersion(ctx, version); err != nil {
			return err
		}
	}

	if version < 4 {
		if err := migrations.MigrateInfo(s.db, newUUID); err != nil {
			return err
		}
		version = 4
		if err := s.setSchemaVersion(ctx, version); err != nil {
			return err
		}
	}

	return nil
}

// DB exposes the underlying connection pool for callers (revtree,
// attachment, mapindex) that need to build their own statements. Kept
// deliberately narrow: read-only helpers use it directly, writes go
// through a Txn.
func (s *Store) DB() *sql.DB {
	return s.db
}
