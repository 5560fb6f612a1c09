package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"gitlab.com/tozd/go/errors"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.Base("not found")

// Store handles persistence of guild defaults and build history to SQLite.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open creates or opens the namelens database at dbPath, creating its
// directory if needed.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Errorf("creating %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Errorf("opening database: %w", err)
	}
	// A single connection serialises writers so upserts never see SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Errorf("setting pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Errorf("creating schema: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DBPath returns the path to the database file.
func (s *Store) DBPath() string {
	return s.dbPath
}

// GetDefault returns the default version of guild. ok is false when the
// guild has none.
func (s *Store) GetDefault(ctx context.Context, guild string) (version string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, "SELECT version FROM guild_defaults WHERE guild = ?", guild).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Errorf("reading default for %s: %w", guild, err)
	}
	return version, true, nil
}

// SetDefault stores version as the default of guild, replacing any previous one.
func (s *Store) SetDefault(ctx context.Context, guild, version string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guild_defaults (guild, version, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(guild) DO UPDATE SET
			version = excluded.version,
			updated_at = excluded.updated_at
	`, guild, version, formatTime(time.Now()))
	if err != nil {
		return errors.Errorf("setting default for %s: %w", guild, err)
	}
	return nil
}

// ClearDefault removes the default of guild. It reports whether one existed.
func (s *Store) ClearDefault(ctx context.Context, guild string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM guild_defaults WHERE guild = ?", guild)
	if err != nil {
		return false, errors.Errorf("clearing default for %s: %w", guild, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListDefaults returns every guild default ordered by guild.
func (s *Store) ListDefaults(ctx context.Context) ([]GuildDefault, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT guild, version, updated_at FROM guild_defaults ORDER BY guild")
	if err != nil {
		return nil, errors.Errorf("querying defaults: %w", err)
	}
	defer rows.Close()

	var out []GuildDefault
	for rows.Next() {
		var d GuildDefault
		var updated string
		if err := rows.Scan(&d.Guild, &d.Version, &updated); err != nil {
			return nil, errors.Errorf("scanning default: %w", err)
		}
		d.UpdatedAt = parseTime(updated)
		out = append(out, d)
	}
	return out, rows.Err()
}

// RecordBuild appends b to the build history and stamps the last build time.
func (s *Store) RecordBuild(ctx context.Context, b *Build) (BuildID, error) {
	if b.FinishedAt.IsZero() {
		b.FinishedAt = time.Now()
	}
	var records []byte
	if len(b.Records) > 0 {
		var err error
		records, err = json.Marshal(b.Records)
		if err != nil {
			return 0, errors.Errorf("encoding record counts: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO builds (build_id, version, kind, outcome, error, records_json, owners, duration_ms, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, nullString(b.BuildID), b.Version, b.Kind, b.Outcome, nullString(b.Error), nullString(string(records)),
		b.Owners, b.Duration.Milliseconds(), formatTime(b.FinishedAt))
	if err != nil {
		return 0, errors.Errorf("inserting build: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if err := setMetadata(ctx, tx, "last_build_at", formatTime(b.FinishedAt)); err != nil {
		return 0, errors.Errorf("stamping metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Errorf("committing build: %w", err)
	}
	b.ID = BuildID(id)
	return b.ID, nil
}

// ListBuilds returns the most recent builds, newest first. An empty version
// lists builds of every version. limit <= 0 means no limit.
func (s *Store) ListBuilds(ctx context.Context, version string, limit int) ([]Build, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(build_id, ''), version, kind, outcome, COALESCE(error, ''),
		       COALESCE(records_json, ''), owners, duration_ms, finished_at
		FROM builds
		WHERE ? = '' OR version = ?
		ORDER BY id DESC
		LIMIT ?
	`, version, version, limit)
	if err != nil {
		return nil, errors.Errorf("querying builds: %w", err)
	}
	defer rows.Close()

	var out []Build
	for rows.Next() {
		var b Build
		var records, finished string
		var durationMS int64
		if err := rows.Scan(&b.ID, &b.BuildID, &b.Version, &b.Kind, &b.Outcome, &b.Error,
			&records, &b.Owners, &durationMS, &finished); err != nil {
			return nil, errors.Errorf("scanning build: %w", err)
		}
		if records != "" {
			if err := json.Unmarshal([]byte(records), &b.Records); err != nil {
				return nil, errors.Errorf("decoding record counts of build %d: %w", b.ID, err)
			}
		}
		b.Duration = time.Duration(durationMS) * time.Millisecond
		b.FinishedAt = parseTime(finished)
		out = append(out, b)
	}
	return out, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// setMetadata stores a key-value pair in the metadata table.
func setMetadata(ctx context.Context, db execer, key, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO metadata (key, value)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// GetMetadata retrieves a value from the metadata table.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

// Stats holds statistics about the stored data.
type Stats struct {
	GuildDefaults int       `json:"guild_defaults"`
	Builds        int       `json:"builds"`
	FailedBuilds  int       `json:"failed_builds"`
	LastBuildAt   time.Time `json:"last_build_at,omitzero"`
}

// GetStats returns statistics about the stored data.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	rows := []struct {
		name  string
		query string
		dest  *int
	}{
		{"guild defaults", "SELECT COUNT(*) FROM guild_defaults", &stats.GuildDefaults},
		{"builds", "SELECT COUNT(*) FROM builds", &stats.Builds},
		{"failed builds", "SELECT COUNT(*) FROM builds WHERE outcome != 'ok'", &stats.FailedBuilds},
	}
	for _, r := range rows {
		if err := s.db.QueryRowContext(ctx, r.query).Scan(r.dest); err != nil {
			return nil, errors.Errorf("counting %s: %w", r.name, err)
		}
	}

	if ts, err := s.GetMetadata(ctx, "last_build_at"); err == nil {
		stats.LastBuildAt = parseTime(ts)
	}

	return stats, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
