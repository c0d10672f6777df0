package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"
)

// migration upgrades the schema by one version inside a transaction.
type migration struct {
	version     int
	description string
	up          func(tx *sql.Tx) error
}

// migrations is the ordered schema history. Append only; never edit a shipped entry.
var migrations = []migration{
	{1, "baseline: account, member, member_transition, audit_event", migrateBaseline},
	{2, "member lookup indexes for roster matching", migrateMatchIndexes},
}

// LatestSchemaVersion is the version MigrateDB brings a database to.
// PRE: none
// POST: Returns the highest migration version
func LatestSchemaVersion() int {
	return migrations[len(migrations)-1].version
}

// DSN returns the modernc sqlite connection string for path with WAL,
// busy timeout and foreign keys enabled.
func DSN(path string) string {
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)"
}

// Open opens the database at path, checks it is reachable and brings the
// schema up to date.
// PRE: path is a file path or ":memory:"
// POST: Returns a migrated pool, or an error naming the failed step
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// WAL allows concurrent readers; writes still serialise on the busy timeout
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	if strings.HasPrefix(path, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	if err := MigrateDB(db, path); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// SchemaVersion reports the applied schema version, 0 for an unmigrated database.
// PRE: db is a valid database connection
// POST: Returns the highest recorded version
func SchemaVersion(db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'`).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("check schema_version table: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}
	var v sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return int(v.Int64), nil
}

// MigrateDB applies every pending migration in order, each in its own transaction.
// File databases with existing data are copied to <dbPath>.bak-v<N> before upgrading.
// PRE: db is a valid database connection; dbPath is its file path or ":memory:"
// POST: Schema is at LatestSchemaVersion, or an error names the failed step
func MigrateDB(db *sql.DB, dbPath string) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
	)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	current, err := SchemaVersion(db)
	if err != nil {
		return err
	}
	if current >= LatestSchemaVersion() {
		return nil
	}

	if current > 0 && dbPath != "" && !strings.HasPrefix(dbPath, ":memory:") {
		backup := fmt.Sprintf("%s.bak-v%d", dbPath, current)
		if _, err := db.Exec(`VACUUM INTO ?`, backup); err != nil {
			return fmt.Errorf("backup before migration: %w", err)
		}
		slog.Info("schema_backup", "path", backup, "version", current)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
		}
		slog.Info("schema_migrated", "version", m.version, "description", m.description)
	}
	return nil
}

func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := m.up(tx); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO schema_version (version, description) VALUES (?, ?)`, m.version, m.description); err != nil {
		return err
	}
	return tx.Commit()
}

func migrateBaseline(tx *sql.Tx) error {
	_, err := tx.Exec(`
	CREATE TABLE IF NOT EXISTS account (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		created_at TEXT NOT NULL,
		failed_logins INTEGER NOT NULL DEFAULT 0,
		locked_until TEXT,
		password_change_required INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS member (
		id TEXT PRIMARY KEY,
		unit_id TEXT NOT NULL,
		external_id TEXT,
		name TEXT NOT NULL,
		date_of_birth TEXT,
		section TEXT NOT NULL DEFAULT '',
		member_number TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS member_transition (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		section TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		FOREIGN KEY (member_id) REFERENCES member(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS audit_event (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		category TEXT NOT NULL,
		action TEXT NOT NULL,
		severity TEXT NOT NULL,
		actor_id TEXT NOT NULL DEFAULT '',
		actor_email TEXT NOT NULL DEFAULT '',
		actor_role TEXT NOT NULL DEFAULT '',
		resource_id TEXT NOT NULL DEFAULT '',
		resource_type TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		ip_address TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT ''
	);
	`)
	return err
}

func migrateMatchIndexes(tx *sql.Tx) error {
	// external ids are unique when present
	var dupes int
	err := tx.QueryRow(`SELECT COUNT(*) FROM (
		SELECT external_id FROM member WHERE external_id IS NOT NULL AND external_id != ''
		GROUP BY external_id HAVING COUNT(*) > 1
	)`).Scan(&dupes)
	if err != nil {
		return err
	}
	if dupes > 0 {
		return errors.New("member.external_id has duplicates; resolve them before upgrading")
	}
	_, err = tx.Exec(`
	CREATE UNIQUE INDEX IF NOT EXISTS idx_member_external_id ON member(external_id) WHERE external_id IS NOT NULL AND external_id != '';
	CREATE INDEX IF NOT EXISTS idx_member_unit ON member(unit_id);
	CREATE INDEX IF NOT EXISTS idx_member_number ON member(member_number);
	CREATE INDEX IF NOT EXISTS idx_transition_member ON member_transition(member_id, date);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_event(timestamp);
	`)
	return err
}
