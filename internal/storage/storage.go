// Package storage provides persistent storage for watched swaps using SQLite.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
)

// DBFile is the database file name inside the data directory.
const DBFile = "htlc.db"

// Storage provides persistent storage for the swap watcher.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New creates a new Storage instance.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBFile)

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Storage) Path() string {
	return s.dbPath
}

// initSchema creates all database tables.
func (s *Storage) initSchema() error {
	schema := `
	-- Swaps being watched. Scripts and addresses are never stored; they
	-- are recomputed from the parameters.
	CREATE TABLE IF NOT EXISTS swaps (
		id TEXT PRIMARY KEY,
		chain TEXT NOT NULL,
		network TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'watching',

		-- Swap parameters
		value INTEGER NOT NULL,
		recipient_address TEXT NOT NULL,
		refund_address TEXT NOT NULL,
		secret_hash TEXT NOT NULL,
		expiration INTEGER NOT NULL,

		-- Progress
		initiation_txid TEXT,
		initiation_height INTEGER,
		claim_txid TEXT,
		claim_height INTEGER,
		secret TEXT,
		last_error TEXT,

		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,

		UNIQUE (chain, network, secret_hash)
	);

	CREATE INDEX IF NOT EXISTS idx_swaps_status ON swaps(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// isUniqueConstraintError reports whether err is a SQLite UNIQUE violation.
func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
