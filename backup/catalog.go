package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"idevicedesk/models"
)

// ErrNotCataloged is returned when a backup path has no catalog entry
var ErrNotCataloged = errors.New("backup not cataloged")

// createdLayout is fixed width so created_at sorts as text
const createdLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Catalog indexes known backups in SQLite, keyed by backup path
type Catalog struct {
	db *sql.DB
}

func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

// Upsert inserts or replaces the entry for info.BackupPath
func (c *Catalog) Upsert(ctx context.Context, info models.BackupInfo) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO backups (backup_path, id, device_udid, device_name, created_at, size, is_encrypted, ios_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(backup_path) DO UPDATE SET
			id = excluded.id,
			device_udid = excluded.device_udid,
			device_name = excluded.device_name,
			created_at = excluded.created_at,
			size = excluded.size,
			is_encrypted = excluded.is_encrypted,
			ios_version = excluded.ios_version`,
		info.BackupPath, info.ID, info.DeviceUDID, info.DeviceName,
		info.CreatedAt.UTC().Format(createdLayout), info.Size, info.IsEncrypted, info.IOSVersion,
	)
	if err != nil {
		return fmt.Errorf("catalog upsert %s: %w", info.BackupPath, err)
	}
	return nil
}

// Get returns the entry stored for path
func (c *Catalog) Get(ctx context.Context, path string) (models.BackupInfo, error) {
	row := c.db.QueryRowContext(ctx, selectBackups+` WHERE backup_path = ?`, path)
	info, err := scanBackup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return info, fmt.Errorf("%s: %w", path, ErrNotCataloged)
	}
	return info, err
}

// List returns all entries, newest first
func (c *Catalog) List(ctx context.Context) ([]models.BackupInfo, error) {
	return c.query(ctx, selectBackups+` ORDER BY created_at DESC`)
}

// ListByDevice returns the entries of one device, newest first
func (c *Catalog) ListByDevice(ctx context.Context, udid string) ([]models.BackupInfo, error) {
	return c.query(ctx, selectBackups+` WHERE device_udid = ? ORDER BY created_at DESC`, udid)
}

// Delete removes the entry for path. Deleting a missing entry is not an error.
func (c *Catalog) Delete(ctx context.Context, path string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM backups WHERE backup_path = ?`, path); err != nil {
		return fmt.Errorf("catalog delete %s: %w", path, err)
	}
	return nil
}

const selectBackups = `SELECT backup_path, id, device_udid, device_name, created_at, size, is_encrypted, ios_version FROM backups`

type scanner interface {
	Scan(dest ...any) error
}

func scanBackup(s scanner) (models.BackupInfo, error) {
	var (
		info    models.BackupInfo
		created string
	)
	if err := s.Scan(&info.BackupPath, &info.ID, &info.DeviceUDID, &info.DeviceName,
		&created, &info.Size, &info.IsEncrypted, &info.IOSVersion); err != nil {
		return info, err
	}
	t, err := time.Parse(createdLayout, created)
	if err != nil {
		return info, fmt.Errorf("catalog created_at %q: %w", created, err)
	}
	info.CreatedAt = t
	return info, nil
}

func (c *Catalog) query(ctx context.Context, q string, args ...any) ([]models.BackupInfo, error) {
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog query: %w", err)
	}
	defer rows.Close()

	backups := []models.BackupInfo{}
	for rows.Next() {
		info, err := scanBackup(rows)
		if err != nil {
			return nil, err
		}
		backups = append(backups, info)
	}
	return backups, rows.Err()
}
