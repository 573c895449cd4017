// Package migrations holds the additive schema upgrades. Each function
// is idempotent: it checks the current shape of the database before
// altering it, so running the same migration twice is a no-op.
package migrations

import (
	"database/sql"
	"fmt"
)

func hasColumn(db *sql.DB, table, column string) (bool, error) {
	var name string
	err := db.QueryRow(fmt.Sprintf(`SELECT name FROM pragma_table_info('%s') WHERE name = ?`, table), column).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func hasTable(db *sql.DB, table string) (bool, error) {
	var name string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MigrateAttachmentRevpos adds attachments.revpos (schema version 2).
func MigrateAttachmentRevpos(db *sql.DB) error {
	ok, err := hasColumn(db, "attachments", "revpos")
	if err != nil {
		return fmt.Errorf("failed to check attachments.revpos: %w", err)
	}
	if ok {
		return nil
	}
	if _, err := db.Exec(`ALTER TABLE attachments ADD COLUMN revpos INTEGER NOT NULL DEFAULT 0`); err != nil {
		return fmt.Errorf("failed to add attachments.revpos: %w", err)
	}
	if _, err := db.Exec(`ALTER TABLE attachments ADD COLUMN encoded_length INTEGER`); err != nil {
		return fmt.Errorf("failed to add attachments.encoded_length: %w", err)
	}
	return nil
}

// MigrateLocalDocs creates the localdocs table (schema version 3).
func MigrateLocalDocs(db *sql.DB) error {
	ok, err := hasTable(db, "localdocs")
	if err != nil {
		return fmt.Errorf("failed to check localdocs table: %w", err)
	}
	if ok {
		return nil
	}
	_, err = db.Exec(`
		CREATE TABLE localdocs (
			docid TEXT NOT NULL UNIQUE,
			revid TEXT NOT NULL,
			json  BLOB
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create localdocs table: %w", err)
	}
	return nil
}

// MigrateInfo creates the info table and seeds the private/public database
// UUIDs (schema version 4).
func MigrateInfo(db *sql.DB, newUUID func() string) error {
	ok, err := hasTable(db, "info")
	if err != nil {
		return fmt.Errorf("failed to check info table: %w", err)
	}
	if ok {
		return nil
	}
	if _, err := db.Exec(`CREATE TABLE info (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create info table: %w", err)
	}
	for _, key := range []string{"privateUUID", "publicUUID"} {
		if _, err := db.Exec(`INSERT OR IGNORE INTO info (key, value) VALUES (?, ?)`, key, newUUID()); err != nil {
			return fmt.Errorf("failed to seed info.%s: %w", key, err)
		}
	}
	return nil
}
