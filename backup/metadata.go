package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"idevicedesk/models"
	"idevicedesk/propertylist"
)

// Files inside a backup directory
const (
	InfoFile     = "Info.plist"
	ManifestFile = "Manifest.plist"
	SidecarFile  = "idevicedesk-backup.json"
)

const (
	unknownDevice  = "Unknown device"
	unknownVersion = "Unknown version"
)

// ErrNotBackup is returned for directories without an Info.plist
var ErrNotBackup = errors.New("not a backup directory")

// ReadBackup describes the backup stored in dir. The sidecar written by
// this program is preferred, Info.plist is the fallback.
func ReadBackup(dir string) (models.BackupInfo, error) {
	infoPath := filepath.Join(dir, InfoFile)
	stat, err := os.Stat(infoPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.BackupInfo{}, fmt.Errorf("%s: %w", dir, ErrNotBackup)
		}
		return models.BackupInfo{}, err
	}

	info := models.BackupInfo{
		ID:         filepath.Base(dir),
		DeviceUDID: filepath.Base(dir),
		DeviceName: unknownDevice,
		IOSVersion: unknownVersion,
		BackupPath: dir,
		CreatedAt:  stat.ModTime(),
		Size:       dirSize(dir),
	}

	if side, err := readSidecar(dir); err == nil {
		if side.ID != "" {
			info.ID = side.ID
		}
		if side.DeviceUDID != "" {
			info.DeviceUDID = side.DeviceUDID
		}
		info.DeviceName = orDefault(side.DeviceName, unknownDevice)
		info.IOSVersion = orDefault(side.IOSVersion, unknownVersion)
		if !side.CreatedAt.IsZero() {
			info.CreatedAt = side.CreatedAt
		}
		info.IsEncrypted = side.IsEncrypted
		return info, nil
	}

	if dict, err := propertylist.ReadFile(infoPath); err == nil {
		info.DeviceName = orDefault(dict.String("Device Name"), unknownDevice)
		info.IOSVersion = orDefault(dict.String("Product Version"), unknownVersion)
		if udid := dict.String("Unique Identifier"); udid != "" {
			info.DeviceUDID = udid
		}
		if t, ok := dict.Time("Last Backup Date"); ok {
			info.CreatedAt = t
		}
	}
	info.IsEncrypted = IsEncrypted(dir)
	return info, nil
}

// IsEncrypted reads the IsEncrypted flag from the backup's Manifest.plist
func IsEncrypted(dir string) bool {
	dict, err := propertylist.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return false
	}
	return dict.Bool("IsEncrypted")
}

// ListBackups returns every backup directory directly under root. A root
// that does not exist yields an empty list.
func ListBackups(root string) ([]models.BackupInfo, error) {
	backups := []models.BackupInfo{}
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return backups, nil
		}
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := ReadBackup(filepath.Join(root, entry.Name()))
		if err != nil {
			continue
		}
		backups = append(backups, info)
	}
	return backups, nil
}

func writeSidecar(info models.BackupInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(info.BackupPath, SidecarFile), data, 0644)
}

func readSidecar(dir string) (models.BackupInfo, error) {
	var info models.BackupInfo
	data, err := os.ReadFile(filepath.Join(dir, SidecarFile))
	if err != nil {
		return info, err
	}
	err = json.Unmarshal(data, &info)
	return info, err
}

func dirSize(dir string) int64 {
	var size int64
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			size += fi.Size()
		}
		return nil
	})
	return size
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
