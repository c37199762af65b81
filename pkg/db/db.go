// Package db provides shared SQLite database utilities for the event store.
package db

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// DefaultDBPath returns the default path of the event store database,
// honoring LACE_DIR when set.
func DefaultDBPath() (string, error) {
	if basePath := os.Getenv("LACE_DIR"); basePath != "" {
		return filepath.Join(basePath, "lace.db"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get home directory")
	}
	return filepath.Join(home, ".lace", "lace.db"), nil
}

// Open opens or creates a SQLite database at the given path with WAL mode
// configured for durable single-writer appends.
func Open(ctx context.Context, dbPath string) (*sqlx.DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create database directory")
	}

	sqlDB, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	if err := Configure(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(err, "failed to configure database")
	}

	return sqlDB, nil
}

// Configure sets up SQLite pragmas for WAL mode with a single writer.
func Configure(ctx context.Context, sqlDB *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=1000",
		"PRAGMA temp_store=memory",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}

	for _, pragma := range pragmas {
		if _, err := sqlDB.ExecContext(ctx, pragma); err != nil {
			return errors.Wrapf(err, "failed to execute pragma: %s", pragma)
		}
	}

	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(1)

	var journalMode string
	if err := sqlDB.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return errors.Wrap(err, "failed to query journal mode")
	}

	// In-memory databases report "memory"; that is fine for tests.
	if mode := strings.ToLower(journalMode); mode != "wal" && mode != "memory" {
		return errors.Errorf("WAL mode not enabled. Current mode: %s", journalMode)
	}

	return nil
}
