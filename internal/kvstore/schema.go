package kvstore

// schema is the version-1 logical layout. Later schema versions are
// applied as additive migrations in migrations.go; this string only
// ever describes what a brand new database looks like before any
// migration runs.
const schema = `
CREATE TABLE IF NOT EXISTS docs (
    doc_id INTEGER PRIMARY KEY AUTOINCREMENT,
    docid  TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS revs (
    sequence        INTEGER PRIMARY KEY AUTOINCREMENT,
    doc_id          INTEGER NOT NULL REFERENCES docs(doc_id),
    revid           TEXT NOT NULL,
    parent          INTEGER REFERENCES revs(sequence),
    current         INTEGER NOT NULL DEFAULT 0,
    deleted         INTEGER NOT NULL DEFAULT 0,
    json            BLOB
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_revs_docid_revid ON revs(doc_id, revid);
CREATE INDEX IF NOT EXISTS idx_revs_doc_current ON revs(doc_id, current);
CREATE INDEX IF NOT EXISTS idx_revs_parent ON revs(parent);

CREATE TABLE IF NOT EXISTS views (
    view_id               INTEGER PRIMARY KEY AUTOINCREMENT,
    name                  TEXT NOT NULL UNIQUE,
    version               TEXT NOT NULL DEFAULT '',
    last_indexed_sequence INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS maps (
    view_id  INTEGER NOT NULL REFERENCES views(view_id),
    sequence INTEGER NOT NULL REFERENCES revs(sequence),
    key      TEXT NOT NULL,
    value    TEXT
);

CREATE INDEX IF NOT EXISTS idx_maps_view_key ON maps(view_id, key);
CREATE INDEX IF NOT EXISTS idx_maps_view_sequence ON maps(view_id, sequence);

-- revpos is added by migration 2 (schema version 2); a freshly created
-- database runs every migration before first use, so this table is never
-- observed without it, but the column is intentionally absent here to
-- mirror the additive-migration history.
CREATE TABLE IF NOT EXISTS attachments (
    sequence INTEGER NOT NULL REFERENCES revs(sequence),
    filename TEXT NOT NULL,
    key      TEXT NOT NULL,
    type     TEXT NOT NULL DEFAULT '',
    length   INTEGER NOT NULL DEFAULT 0,
    encoding TEXT NOT NULL DEFAULT 'none'
);

CREATE INDEX IF NOT EXISTS idx_attachments_sequence_filename ON attachments(sequence, filename);

CREATE TABLE IF NOT EXISTS replicators (
    remote        TEXT NOT NULL,
    push          INTEGER NOT NULL,
    last_sequence TEXT NOT NULL DEFAULT '',
    UNIQUE(remote, push)
);
`
