package store

// schema contains the SQL statements to create the namelens database schema.
const schema = `
-- Default mapping version per guild. Absent means latest.
CREATE TABLE IF NOT EXISTS guild_defaults (
    guild      TEXT PRIMARY KEY,
    version    TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

-- One row per finished dataset build or reload
CREATE TABLE IF NOT EXISTS builds (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    build_id     TEXT,
    version      TEXT NOT NULL,
    kind         TEXT NOT NULL,
    outcome      TEXT NOT NULL,
    error        TEXT,
    records_json TEXT,
    owners       INTEGER DEFAULT 0,
    duration_ms  INTEGER NOT NULL,
    finished_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_builds_version ON builds(version);
CREATE INDEX IF NOT EXISTS idx_builds_outcome ON builds(outcome);

-- Metadata table for store info
CREATE TABLE IF NOT EXISTS metadata (
    key   TEXT PRIMARY KEY,
    value TEXT
);
`
