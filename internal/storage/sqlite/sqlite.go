// Package sqlite provides a SQLite-backed implementation of every storage
// interface the ledger core depends on. It uses the pure-Go modernc.org/sqlite
// driver so the module never needs cgo, exactly like the teacher's
// internal/storage/sqlite package.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store bundles every storage.* interface implementation over one *sql.DB.
type Store struct {
	db *sql.DB
}

// Open creates (or attaches to) a SQLite database at dbPath, creating parent
// directories and running migrations, matching the teacher's sqlite.New.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite only allows one writer; force the driver to serialize instead
	// of surfacing SQLITE_BUSY under the concurrent writes the scope lock
	// otherwise allows in parallel across scopes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
