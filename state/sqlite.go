package state

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// DBFileName is the SQLite database inside the state directory.
const DBFileName = "synced_ids.db"

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS synced_ids (
	seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	id        TEXT NOT NULL UNIQUE,
	synced_at DATETIME NOT NULL
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}

// SQLiteSet keeps synced ids in an embedded SQLite database.
// Rows are only ever inserted.
type SQLiteSet struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewSQLiteSet(dbPath string) (*SQLiteSet, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=FULL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting synchronous mode: %w", err)
	}

	s := &SQLiteSet{db: db, now: time.Now}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteSet) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

func (s *SQLiteSet) Load(ctx context.Context) (IDs, error) {
	var rows []string
	if err := s.db.SelectContext(ctx, &rows, "SELECT id FROM synced_ids ORDER BY seq"); err != nil {
		return nil, fmt.Errorf("selecting synced ids: %w", err)
	}

	ids := make(IDs, len(rows))
	for _, id := range rows {
		ids[id] = struct{}{}
	}
	return ids, nil
}

// Ordered returns every id in insertion order.
func (s *SQLiteSet) Ordered(ctx context.Context) ([]string, error) {
	var rows []string
	if err := s.db.SelectContext(ctx, &rows, "SELECT id FROM synced_ids ORDER BY seq"); err != nil {
		return nil, fmt.Errorf("selecting synced ids: %w", err)
	}
	return rows, nil
}

// Append inserts ids in one transaction. Ids already present are ignored.
func (s *SQLiteSet) Append(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := validateIDs(ids); err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, "INSERT OR IGNORE INTO synced_ids (id, synced_at) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	syncedAt := s.now().UTC()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id, syncedAt); err != nil {
			return fmt.Errorf("inserting synced id %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing synced ids: %w", err)
	}
	return nil
}

func (s *SQLiteSet) Close() error {
	return s.db.Close()
}
