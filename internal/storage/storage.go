// Package storage provides persistent storage using SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage provides persistent storage for the harbor daemon. The database
// is the sole coordination point between API handlers, the deposit monitor
// and the sweeper; all cross-goroutine state transitions go through
// conditional SQL updates.
type Storage struct {
	db     *sql.DB
	dbPath string
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New creates a new Storage instance.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "harbor.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
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

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// initSchema creates all database tables.
func (s *Storage) initSchema() error {
	schema := `
	-- Per-network address derivation counters. seq is only ever moved by
	-- the atomic upsert in NextIndex; index 0 (the master wallet) is never
	-- handed out because the first allocation returns 1.
	CREATE TABLE IF NOT EXISTS address_counters (
		network_key TEXT PRIMARY KEY,
		seq INTEGER NOT NULL DEFAULT 0
	);

	-- Payment orders. The on-chain fields (network, address,
	-- derivation_path, address_index, tx_hash, confirmations) are the
	-- contract between the ledger, the deposit monitor and the sweeper.
	CREATE TABLE IF NOT EXISTS orders (
		order_id TEXT PRIMARY KEY,
		kind TEXT NOT NULL DEFAULT 'package',
		status TEXT NOT NULL DEFAULT 'pending',

		network TEXT NOT NULL,
		address TEXT NOT NULL,
		derivation_path TEXT NOT NULL,
		address_index INTEGER NOT NULL,

		user_email TEXT NOT NULL,
		amount_fiat TEXT NOT NULL,
		fiat_currency TEXT NOT NULL DEFAULT 'USD',
		amount_crypto TEXT NOT NULL,
		observed_crypto TEXT NOT NULL DEFAULT '0',
		package_return TEXT,

		tx_hash TEXT,
		confirmations INTEGER NOT NULL DEFAULT 0,

		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		completed_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
	CREATE INDEX IF NOT EXISTS idx_orders_network ON orders(network);
	CREATE INDEX IF NOT EXISTS idx_orders_expires ON orders(expires_at);

	-- Withdrawals, gated on a smaller verification deposit arriving first.
	CREATE TABLE IF NOT EXISTS withdrawals (
		withdrawal_id TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'pending',
		user_email TEXT NOT NULL,
		network TEXT NOT NULL,
		destination TEXT NOT NULL,
		amount_crypto TEXT NOT NULL,
		tx_hash TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS verification_payments (
		verification_id TEXT PRIMARY KEY,
		withdrawal_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',

		network TEXT NOT NULL,
		address TEXT NOT NULL,
		derivation_path TEXT NOT NULL,
		address_index INTEGER NOT NULL,
		amount_crypto TEXT NOT NULL,

		tx_hash TEXT,
		confirmations INTEGER NOT NULL DEFAULT 0,

		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,

		FOREIGN KEY (withdrawal_id) REFERENCES withdrawals(withdrawal_id)
	);

	CREATE INDEX IF NOT EXISTS idx_verification_status ON verification_payments(status);

	-- Cached fiat prices fetched from the market data API.
	CREATE TABLE IF NOT EXISTS prices (
		price_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		price TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (price_id, currency)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
