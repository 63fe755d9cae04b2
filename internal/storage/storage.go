// Package storage provides persistent swap storage using SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage is the durable swap repository.
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

	dbPath := filepath.Join(dataDir, "swaps.db")

	// Open database
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	// Initialize schema
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

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// initSchema creates all database tables.
func (s *Storage) initSchema() error {
	schema := `
	-- Swaps table (one row per atomic swap, keyed by swap id)
	CREATE TABLE IF NOT EXISTS swaps (
		id TEXT PRIMARY KEY,
		secret_hash TEXT NOT NULL,

		-- The secret itself (only after reveal)
		secret TEXT,

		state TEXT NOT NULL DEFAULT 'initiated',

		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_swaps_state ON swaps(state);
	CREATE INDEX IF NOT EXISTS idx_swaps_hash ON swaps(secret_hash);

	-- Swap legs table (each side of the swap tracked separately)
	-- A swap has at most two legs; position 0 locks first
	CREATE TABLE IF NOT EXISTS swap_legs (
		id TEXT PRIMARY KEY,
		swap_id TEXT NOT NULL,
		position INTEGER NOT NULL,

		-- Leg identification
		symbol TEXT NOT NULL,
		network TEXT NOT NULL,
		kind TEXT NOT NULL,

		-- Where value is locked: escrow address or contract swap id
		locator TEXT NOT NULL,

		-- Amount as a decimal string (account legs exceed int64)
		amount TEXT NOT NULL,

		-- Absolute unix refund timelock
		timelock INTEGER NOT NULL,

		state TEXT NOT NULL DEFAULT 'open',

		-- Settlement transactions
		claim_txid TEXT,
		refund_txid TEXT,

		UNIQUE(swap_id, position),
		FOREIGN KEY (swap_id) REFERENCES swaps(id)
	);

	CREATE INDEX IF NOT EXISTS idx_swap_legs_swap ON swap_legs(swap_id);
	CREATE INDEX IF NOT EXISTS idx_swap_legs_state ON swap_legs(state);
	CREATE INDEX IF NOT EXISTS idx_swap_legs_timelock ON swap_legs(timelock);
	`

	_, err := s.db.Exec(schema)
	return err
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
