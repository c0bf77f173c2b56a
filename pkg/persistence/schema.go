package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// CurrentSchemaVersion defines the current schema version for migration support.
const CurrentSchemaVersion = 2

// initializeSchemaWithMigrations ensures the database schema is at the current version.
func initializeSchemaWithMigrations(db *sql.DB) error {
	currentVersion, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	if currentVersion > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", currentVersion, CurrentSchemaVersion)
	}

	for version := currentVersion + 1; version <= CurrentSchemaVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}
		if err := setSchemaVersion(db, version); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", version, err)
		}
	}
	return nil
}

// runMigration applies a specific version migration.
func runMigration(db *sql.DB, version int) error {
	switch version {
	case 1:
		return migrateToVersion1(db)
	case 2:
		return migrateToVersion2(db)
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}
}

// migrateToVersion1 creates the run and task tables.
func migrateToVersion1(db *sql.DB) error {
	return execAll(db,
		`CREATE TABLE IF NOT EXISTS crew_runs (
			id TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			instructions_fingerprint TEXT NOT NULL,
			instructions_chars INTEGER NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('succeeded', 'failed')),
			error TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS crew_task_runs (
			run_id TEXT NOT NULL REFERENCES crew_runs(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			task TEXT NOT NULL,
			role TEXT NOT NULL,
			status TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (run_id, seq)
		)`,
	)
}

// migrateToVersion2 records output sizes and indexes runs by start time.
func migrateToVersion2(db *sql.DB) error {
	return execAll(db,
		"ALTER TABLE crew_task_runs ADD COLUMN output_chars INTEGER NOT NULL DEFAULT 0",
		"CREATE INDEX IF NOT EXISTS idx_crew_runs_started ON crew_runs(started_at)",
		"CREATE INDEX IF NOT EXISTS idx_crew_runs_fingerprint ON crew_runs(instructions_fingerprint)",
	)
}

func execAll(db *sql.DB, statements ...string) error {
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute migration: %s: %w", stmt, err)
		}
	}
	return nil
}

func setSchemaVersion(db *sql.DB, version int) error {
	_, err := db.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, version)
	if err != nil {
		return fmt.Errorf("database exec error: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the current schema version from the database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("schema version scan error: %w", err)
	}
	return version, nil
}
