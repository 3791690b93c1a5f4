package models

import "time"

// Backup phases reported in BackupProgress.Status
const (
	BackupPreparing = "preparing"
	BackupRunning   = "backing_up"
	BackupFinishing = "finishing"
	BackupCompleted = "completed"
	BackupFailed    = "failed"
	BackupUnknown   = "unknown"
)

// BackupInfo describes a completed backup on disk
type BackupInfo struct {
	ID          string    `json:"id"`
	DeviceUDID  string    `json:"device_udid"`
	DeviceName  string    `json:"device_name"`
	BackupPath  string    `json:"backup_path"`
	CreatedAt   time.Time `json:"created_at"`
	Size        int64     `json:"size"` // bytes
	IsEncrypted bool      `json:"is_encrypted"`
	IOSVersion  string    `json:"ios_version"`
}

// BackupProgress is the transient status of one running backup
type BackupProgress struct {
	Status      string  `json:"status"`   // preparing, backing_up, finishing, completed, failed
	Progress    float64 `json:"progress"` // 0-100
	CurrentFile string  `json:"current_file"`
	Error       string  `json:"error"`
}

// Terminal reports whether the backup has finished, successfully or not.
func (p BackupProgress) Terminal() bool {
	return p.Status == BackupCompleted || p.Status == BackupFailed
}

// BackupRequest starts a backup of one device
type BackupRequest struct {
	BackupDir string `json:"backup_dir"`
	Encrypt   bool   `json:"encrypt"`
	Password  string `json:"password,omitempty"`
}

// RestoreRequest restores a backup directory onto a device
type RestoreRequest struct {
	BackupDir string `json:"backup_dir"`
	Password  string `json:"password,omitempty"`
}

// EncryptionRequest toggles device-side backup encryption
type EncryptionRequest struct {
	Enable   bool   `json:"enable"`
	Password string `json:"password"`
}
