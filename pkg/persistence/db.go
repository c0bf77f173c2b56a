// Package persistence stores the crew run ledger in SQLite. The ledger holds
// operational telemetry only: instruction fingerprints, statuses, durations and
// token counts. Conversation text is never written.
package persistence

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/ioannisbasmatzidis/code-assistant/pkg/logx"
)

// MemoryPath opens a private in-memory ledger, used by tests.
const MemoryPath = ":memory:"

// Ledger is the crew run ledger. It is safe for concurrent use.
type Ledger struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open opens (creating if needed) the ledger database at path and brings its schema up to date.
func Open(path string) (*Ledger, error) {
	dsn := path
	if path != MemoryPath {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create ledger directory %s: %w", dir, err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer; a single connection also keeps :memory: alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if path == MemoryPath {
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	if err := initializeSchemaWithMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	l := &Ledger{db: db, logger: logx.NewLogger("persistence")}
	l.logger.Info("📦 Crew run ledger opened: %s", path)
	return l, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
