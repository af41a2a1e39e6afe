package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const defaultDBName = "cockpit.db"

type Config struct {
	// Dir holds the run history database. Empty means ".cockpit".
	Dir string
}

// Path returns the database file for cfg.
func Path(cfg Config) string {
	dir := cfg.Dir
	if dir == "" {
		dir = ".cockpit"
	}
	return filepath.Join(dir, defaultDBName)
}

// Open opens the run history database with a single connection, creating
// its directory.
func Open(cfg Config) (*sql.DB, error) {
	path := Path(cfg)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	return conn, nil
}
