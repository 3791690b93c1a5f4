package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"idevicedesk/logs"
	"idevicedesk/models"
	"idevicedesk/propertylist"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrDeviceNotConnected = errors.New("device not connected")
	ErrPasswordRequired   = errors.New("password required")
	ErrOutsideRoot        = errors.New("path is outside the backup directory")
	ErrUnknownBackup      = errors.New("unknown backup id")
)

// DefaultRetention is how long a finished run stays queryable
const DefaultRetention = 10 * time.Minute

// Device is the device surface the service drives
type Device interface {
	IsConnected(ctx context.Context, udid string) bool
	GetDeviceInfo(ctx context.Context, udid string) (models.DeviceInfo, error)
	EncryptionEnabled(ctx context.Context, udid string) (bool, error)
	SetEncryption(ctx context.Context, udid string, enable bool, password string) error
	Backup(ctx context.Context, udid, dir string, onLine func(string)) error
	Restore(ctx context.Context, udid, dir, password string) error
}

// Service runs backups in the background and manages backups on disk
type Service struct {
	device  Device
	tracker *Tracker
	catalog *Catalog
	root    string
	log     *logrus.Entry
	now     func() time.Time

	mu        sync.Mutex
	cancels   map[string]context.CancelFunc
	expiries  map[string]*time.Timer
	retention time.Duration
	closed    bool
	wg        sync.WaitGroup
}

// NewService creates a service storing backups under root. catalog may be
// nil, in which case nothing is indexed.
func NewService(device Device, tracker *Tracker, catalog *Catalog, root string) *Service {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &Service{
		device:    device,
		tracker:   tracker,
		catalog:   catalog,
		root:      root,
		log:       logs.Logger.WithField("component", "backup"),
		now:       time.Now,
		cancels:   make(map[string]context.CancelFunc),
		expiries:  make(map[string]*time.Timer),
		retention: DefaultRetention,
	}
}

// SetRetention sets how long finished runs are kept before their progress
// is forgotten. Zero forgets them as soon as they finish.
func (s *Service) SetRetention(d time.Duration) {
	s.mu.Lock()
	s.retention = d
	s.mu.Unlock()
}

// DefaultDir is the directory backups go to when a request names none
func (s *Service) DefaultDir() string {
	return s.root
}

// StartBackup validates the request, starts a full backup of udid in the
// background and returns its id. Progress is available from Progress(id).
func (s *Service) StartBackup(ctx context.Context, udid string, req models.BackupRequest) (string, error) {
	if !s.device.IsConnected(ctx, udid) {
		return "", ErrDeviceNotConnected
	}

	if req.Encrypt {
		if req.Password == "" {
			return "", ErrPasswordRequired
		}
		// the device encrypts; once enabled every backup is encrypted
		enabled, err := s.device.EncryptionEnabled(ctx, udid)
		if err != nil {
			return "", err
		}
		if !enabled {
			if err := s.device.SetEncryption(ctx, udid, true, req.Password); err != nil {
				return "", err
			}
		}
	}

	dir := req.BackupDir
	if dir == "" {
		dir = s.root
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}

	detail, err := s.device.GetDeviceInfo(ctx, udid)
	if err != nil {
		return "", fmt.Errorf("read device info: %w", err)
	}

	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[id] = cancel
	s.mu.Unlock()

	s.tracker.Start(id)
	s.log.WithFields(logrus.Fields{"udid": udid, "id": id, "dir": dir}).Info("Backup started")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.expire(id)
		defer s.release(id)
		s.run(runCtx, id, udid, dir, detail)
	}()
	return id, nil
}

// Progress returns the progress of a backup started by this service
func (s *Service) Progress(id string) models.BackupProgress {
	return s.tracker.Get(id)
}

// AllProgress returns the progress of every run still tracked
func (s *Service) AllProgress() map[string]models.BackupProgress {
	return s.tracker.GetAll()
}

// Cancel stops a running backup
func (s *Service) Cancel(id string) error {
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownBackup
	}
	cancel()
	return nil
}

// Close cancels running backups and waits for them to stop
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	for _, cancel := range s.cancels {
		cancel()
	}
	for id, timer := range s.expiries {
		timer.Stop()
		delete(s.expiries, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Service) release(id string) {
	s.mu.Lock()
	if cancel, ok := s.cancels[id]; ok {
		cancel()
		delete(s.cancels, id)
	}
	s.mu.Unlock()
}

// expire forgets the finished run id once the retention period has passed
func (s *Service) expire(id string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.retention > 0 {
		s.expiries[id] = time.AfterFunc(s.retention, func() {
			s.mu.Lock()
			delete(s.expiries, id)
			s.mu.Unlock()
			s.tracker.Remove(id)
		})
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.tracker.Remove(id)
}

func (s *Service) run(ctx context.Context, id, udid, dir string, detail models.DeviceInfo) {
	log := s.log.WithFields(logrus.Fields{"udid": udid, "id": id})
	s.tracker.Update(id, models.BackupRunning, 0, "")

	err := s.device.Backup(ctx, udid, dir, func(line string) {
		ev := parseLine(line)
		status := models.BackupRunning
		if ev.finishing {
			status = models.BackupFinishing
		}
		s.tracker.Update(id, status, ev.percent, ev.file)
	})
	if err != nil {
		log.WithError(err).Error("Backup failed")
		s.tracker.Fail(id, fmt.Errorf("backup failed: %w", err))
		return
	}

	s.tracker.Update(id, models.BackupFinishing, 0, "")
	info, err := s.finalize(ctx, id, udid, dir, detail)
	if err != nil {
		log.WithError(err).Error("Backup finalization failed")
		s.tracker.Fail(id, err)
		return
	}
	s.tracker.Complete(id)
	log.WithField("path", info.BackupPath).Info("Backup completed")
}

// finalize renames <dir>/<udid> to <dir>/<udid>_<timestamp>, records its
// metadata next to it and indexes it
func (s *Service) finalize(ctx context.Context, id, udid, dir string, detail models.DeviceInfo) (models.BackupInfo, error) {
	created := s.now()
	src := filepath.Join(dir, udid)
	dst := filepath.Join(dir, udid+"_"+created.Format("20060102_150405"))

	if _, err := os.Stat(src); err != nil {
		return models.BackupInfo{}, fmt.Errorf("backup output missing: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return models.BackupInfo{}, fmt.Errorf("rename backup directory: %w", err)
	}

	info := models.BackupInfo{
		ID:         id,
		DeviceUDID: udid,
		DeviceName: orDefault(firstOf(detail, "DeviceName", "Name"), unknownDevice),
		BackupPath: dst,
		CreatedAt:  created,
		IOSVersion: orDefault(firstOf(detail, "ProductVersion", "iOS Version"), unknownVersion),
	}
	if dict, err := propertylist.ReadFile(filepath.Join(dst, InfoFile)); err == nil {
		info.DeviceName = orDefault(dict.String("Device Name"), info.DeviceName)
		info.IOSVersion = orDefault(dict.String("Product Version"), info.IOSVersion)
	}
	info.IsEncrypted = IsEncrypted(dst)
	info.Size = dirSize(dst)

	if err := writeSidecar(info); err != nil {
		return info, fmt.Errorf("write backup metadata: %w", err)
	}
	s.index(ctx, info)
	return info, nil
}

// ListBackups lists the backups in dir (the default directory when empty)
// and refreshes their catalog entries
func (s *Service) ListBackups(ctx context.Context, dir string) ([]models.BackupInfo, error) {
	if dir == "" {
		dir = s.root
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	backups, err := ListBackups(dir)
	if err != nil {
		return nil, err
	}
	for _, b := range backups {
		s.index(ctx, b)
	}
	return backups, nil
}

// History returns the cataloged backups of udid, or of every device when
// udid is empty
func (s *Service) History(ctx context.Context, udid string) ([]models.BackupInfo, error) {
	if s.catalog == nil {
		return []models.BackupInfo{}, nil
	}
	if udid == "" {
		return s.catalog.List(ctx)
	}
	return s.catalog.ListByDevice(ctx, udid)
}

// GetBackupInfo reads the backup stored at path. When the directory is
// there but its metadata cannot be read, the cataloged entry is returned.
// A cataloged directory that no longer exists is dropped from the catalog.
func (s *Service) GetBackupInfo(ctx context.Context, path string) (models.BackupInfo, error) {
	info, err := ReadBackup(path)
	if err == nil || s.catalog == nil {
		return info, err
	}
	abs, absErr := filepath.Abs(path)
	if absErr != nil {
		return info, err
	}

	if _, statErr := os.Stat(abs); errors.Is(statErr, fs.ErrNotExist) {
		if derr := s.catalog.Delete(ctx, abs); derr != nil {
			s.log.WithError(derr).Warn("Failed to drop catalog entry")
		}
		return info, err
	}
	cached, cerr := s.catalog.Get(ctx, abs)
	if cerr != nil {
		return info, err
	}
	s.log.WithError(err).WithField("path", abs).Warn("Backup metadata unreadable, using catalog entry")
	return cached, nil
}

// DeleteBackup removes a backup directory. Only directories below the
// backup root can be deleted.
func (s *Service) DeleteBackup(ctx context.Context, path string) error {
	abs, err := s.within(path)
	if err != nil {
		return err
	}
	if _, err := ReadBackup(abs); err != nil {
		return err
	}
	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("delete backup: %w", err)
	}
	if s.catalog != nil {
		if err := s.catalog.Delete(ctx, abs); err != nil {
			s.log.WithError(err).Warn("Failed to drop catalog entry")
		}
	}
	s.log.WithField("path", abs).Info("Backup deleted")
	return nil
}

// Restore restores the backup in dir onto udid. Encrypted backups need the
// password, a password given for a plain backup is ignored.
func (s *Service) Restore(ctx context.Context, udid string, req models.RestoreRequest) error {
	if !s.device.IsConnected(ctx, udid) {
		return ErrDeviceNotConnected
	}
	if _, err := ReadBackup(req.BackupDir); err != nil {
		return err
	}

	password := req.Password
	if IsEncrypted(req.BackupDir) {
		if password == "" {
			return ErrPasswordRequired
		}
	} else if password != "" {
		s.log.WithField("path", req.BackupDir).Warn("Backup is not encrypted, ignoring password")
		password = ""
	}

	s.log.WithFields(logrus.Fields{"udid": udid, "path": req.BackupDir}).Info("Restore started")
	return s.device.Restore(ctx, udid, req.BackupDir, password)
}

// EncryptionEnabled reports whether udid encrypts its backups
func (s *Service) EncryptionEnabled(ctx context.Context, udid string) (bool, error) {
	if !s.device.IsConnected(ctx, udid) {
		return false, ErrDeviceNotConnected
	}
	return s.device.EncryptionEnabled(ctx, udid)
}

// SetEncryption turns device backup encryption on or off. Both directions
// need the backup password.
func (s *Service) SetEncryption(ctx context.Context, udid string, req models.EncryptionRequest) error {
	if !s.device.IsConnected(ctx, udid) {
		return ErrDeviceNotConnected
	}
	if req.Password == "" {
		return ErrPasswordRequired
	}
	return s.device.SetEncryption(ctx, udid, req.Enable, req.Password)
}

func (s *Service) index(ctx context.Context, info models.BackupInfo) {
	if s.catalog == nil {
		return
	}
	if err := s.catalog.Upsert(ctx, info); err != nil {
		s.log.WithError(err).Warn("Failed to index backup")
	}
}

// within resolves path and checks that it lies strictly below the root
func (s *Service) within(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return abs, nil
}

func firstOf(m models.DeviceInfo, keys ...string) string {
	for _, k := range keys {
		if v := m[k]; v != "" {
			return v
		}
	}
	return ""
}
