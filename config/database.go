package config

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"idevicedesk/logs"

	_ "github.com/mattn/go-sqlite3"
)

const DatabasePath = "./data/idevicedesk.db"

const migrations = `
CREATE TABLE IF NOT EXISTS backups (
	backup_path  TEXT PRIMARY KEY,
	id           TEXT NOT NULL,
	device_udid  TEXT NOT NULL,
	device_name  TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL,
	size         INTEGER NOT NULL DEFAULT 0,
	is_encrypted INTEGER NOT NULL DEFAULT 0,
	ios_version  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_backups_device_udid ON backups (device_udid);
`

// InitDatabase opens the SQLite database at path and runs migrations.
// ":memory:" is accepted for tests.
func InitDatabase(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases alive and serialises writers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logs.Logger.WithField("path", path).Info("Database initialized successfully")
	return db, nil
}

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(migrations)
	return err
}
