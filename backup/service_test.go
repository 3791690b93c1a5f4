package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"idevicedesk/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errToolFailed = errors.New("idevicebackup2: exit status 1")

// fakeDevice emulates idevicebackup2 by writing a backup directory
type fakeDevice struct {
	mu         sync.Mutex
	connected  bool
	encrypted  bool
	backupErr  error
	lines      []string
	block      chan struct{}
	restored   []string
	encryption []bool
}

func (f *fakeDevice) IsConnected(ctx context.Context, udid string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeDevice) GetDeviceInfo(ctx context.Context, udid string) (models.DeviceInfo, error) {
	return models.DeviceInfo{"DeviceName": "Test iPhone", "ProductVersion": "17.4"}, nil
}

func (f *fakeDevice) EncryptionEnabled(ctx context.Context, udid string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.encrypted, nil
}

func (f *fakeDevice) SetEncryption(ctx context.Context, udid string, enable bool, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.encrypted = enable
	f.encryption = append(f.encryption, enable)
	return nil
}

func (f *fakeDevice) Backup(ctx context.Context, udid, dir string, onLine func(string)) error {
	f.mu.Lock()
	lines, err, block, enc := f.lines, f.backupErr, f.block, f.encrypted
	f.mu.Unlock()

	for _, l := range lines {
		onLine(l)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}

	out := filepath.Join(dir, udid)
	if err := os.MkdirAll(out, 0755); err != nil {
		return err
	}
	os.WriteFile(filepath.Join(out, InfoFile), []byte(infoPlist("Plist Name", "17.4.1", udid)), 0644)
	os.WriteFile(filepath.Join(out, ManifestFile), []byte(manifestPlist(enc)), 0644)
	return nil
}

func (f *fakeDevice) Restore(ctx context.Context, udid, dir, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restored = append(f.restored, dir+"|"+password)
	return nil
}

func newTestService(t *testing.T, dev *fakeDevice) (*Service, string) {
	t.Helper()
	root := t.TempDir()
	s := NewService(dev, NewTracker(), newTestCatalog(t), root)
	s.now = func() time.Time { return time.Date(2024, 6, 1, 8, 9, 10, 0, time.UTC) }
	t.Cleanup(s.Close)
	return s, root
}

func waitTerminal(t *testing.T, s *Service, id string) models.BackupProgress {
	t.Helper()
	require.Eventually(t, func() bool { return s.Progress(id).Terminal() }, 5*time.Second, 5*time.Millisecond)
	return s.Progress(id)
}

func TestStartBackup_Completes(t *testing.T) {
	dev := &fakeDevice{connected: true, lines: []string{"[==   ] 40% Finished", "Backup Successful."}}
	s, root := newTestService(t, dev)

	id, err := s.StartBackup(context.Background(), "udid-1", models.BackupRequest{})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	p := waitTerminal(t, s, id)
	assert.Equal(t, models.BackupCompleted, p.Status)
	assert.Equal(t, 100.0, p.Progress)

	final := filepath.Join(root, "udid-1_20240601_080910")
	info, err := s.GetBackupInfo(context.Background(), final)
	require.NoError(t, err)
	assert.Equal(t, id, info.ID)
	assert.Equal(t, "udid-1", info.DeviceUDID)
	assert.Equal(t, "Plist Name", info.DeviceName)
	assert.Equal(t, "17.4.1", info.IOSVersion)
	assert.False(t, info.IsEncrypted)

	history, err := s.History(context.Background(), "udid-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, final, history[0].BackupPath)
}

func TestStartBackup_ToolFailure(t *testing.T) {
	dev := &fakeDevice{connected: true, backupErr: errToolFailed, lines: []string{"[=    ] 10%"}}
	s, _ := newTestService(t, dev)

	id, err := s.StartBackup(context.Background(), "udid-1", models.BackupRequest{})
	require.NoError(t, err)

	p := waitTerminal(t, s, id)
	assert.Equal(t, models.BackupFailed, p.Status)
	assert.Equal(t, 10.0, p.Progress)
	assert.Contains(t, p.Error, "exit status 1")
}

func TestStartBackup_FinishingPhaseSticks(t *testing.T) {
	block := make(chan struct{})
	dev := &fakeDevice{
		connected: true,
		block:     block,
		lines:     []string{"[==   ] 40% Finished", "Backup Successful.", "Sending 'Manifest.db' (12 KB)"},
	}
	s, _ := newTestService(t, dev)

	id, err := s.StartBackup(context.Background(), "udid-1", models.BackupRequest{})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.Progress(id).CurrentFile == "Manifest.db" }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, models.BackupFinishing, s.Progress(id).Status)

	close(block)
	assert.Equal(t, models.BackupCompleted, waitTerminal(t, s, id).Status)
}

func TestStartBackup_FinishedRunsExpire(t *testing.T) {
	dev := &fakeDevice{connected: true}
	s, _ := newTestService(t, dev)
	var (
		mu      sync.Mutex
		removed []string
	)
	s.tracker.OnRemove(func(id string) {
		mu.Lock()
		removed = append(removed, id)
		mu.Unlock()
	})
	s.SetRetention(20 * time.Millisecond)

	id, err := s.StartBackup(context.Background(), "udid-1", models.BackupRequest{})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.Progress(id).Status == models.BackupUnknown }, 5*time.Second, 5*time.Millisecond)
	assert.Empty(t, s.AllProgress())
	mu.Lock()
	assert.Equal(t, []string{id}, removed)
	mu.Unlock()
}

func TestStartBackup_RunsKeptUntilRetention(t *testing.T) {
	s, _ := newTestService(t, &fakeDevice{connected: true})

	id, err := s.StartBackup(context.Background(), "udid-1", models.BackupRequest{})
	require.NoError(t, err)
	waitTerminal(t, s, id)

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, scheduled := s.expiries[id]
		return scheduled
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, models.BackupCompleted, s.AllProgress()[id].Status)
}

func TestGetBackupInfo_CatalogFallback(t *testing.T) {
	s, root := newTestService(t, &fakeDevice{connected: true})

	id, err := s.StartBackup(context.Background(), "udid-1", models.BackupRequest{})
	require.NoError(t, err)
	waitTerminal(t, s, id)
	final := filepath.Join(root, "udid-1_20240601_080910")

	// metadata gone, directory still there: the catalog answers
	require.NoError(t, os.Remove(filepath.Join(final, InfoFile)))
	info, err := s.GetBackupInfo(context.Background(), final)
	require.NoError(t, err)
	assert.Equal(t, id, info.ID)
	assert.Equal(t, "Plist Name", info.DeviceName)

	// directory gone: the entry is dropped
	require.NoError(t, os.RemoveAll(final))
	_, err = s.GetBackupInfo(context.Background(), final)
	assert.ErrorIs(t, err, ErrNotBackup)
	history, err := s.History(context.Background(), "udid-1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestStartBackup_NotConnected(t *testing.T) {
	s, _ := newTestService(t, &fakeDevice{})
	_, err := s.StartBackup(context.Background(), "udid-1", models.BackupRequest{})
	assert.ErrorIs(t, err, ErrDeviceNotConnected)
}

func TestStartBackup_EncryptEnablesDeviceEncryption(t *testing.T) {
	dev := &fakeDevice{connected: true}
	s, _ := newTestService(t, dev)

	_, err := s.StartBackup(context.Background(), "udid-1", models.BackupRequest{Encrypt: true})
	assert.ErrorIs(t, err, ErrPasswordRequired)

	id, err := s.StartBackup(context.Background(), "udid-1", models.BackupRequest{Encrypt: true, Password: "pw"})
	require.NoError(t, err)
	waitTerminal(t, s, id)

	dev.mu.Lock()
	assert.Equal(t, []bool{true}, dev.encryption)
	dev.mu.Unlock()

	backups, err := s.ListBackups(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.True(t, backups[0].IsEncrypted)
}

func TestCancel(t *testing.T) {
	dev := &fakeDevice{connected: true, block: make(chan struct{})}
	s, _ := newTestService(t, dev)

	id, err := s.StartBackup(context.Background(), "udid-1", models.BackupRequest{})
	require.NoError(t, err)
	require.NoError(t, s.Cancel(id))

	assert.Equal(t, models.BackupFailed, waitTerminal(t, s, id).Status)
	assert.ErrorIs(t, s.Cancel("missing"), ErrUnknownBackup)
}

func TestDeleteBackup(t *testing.T) {
	s, root := newTestService(t, &fakeDevice{})
	dir := filepath.Join(root, "udid-1_x")
	writeBackupDir(t, dir, "One", "udid-1", false)
	_, err := s.ListBackups(context.Background(), "")
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteBackup(context.Background(), root), ErrOutsideRoot)
	assert.ErrorIs(t, s.DeleteBackup(context.Background(), filepath.Join(root, "..")), ErrOutsideRoot)
	assert.ErrorIs(t, s.DeleteBackup(context.Background(), t.TempDir()), ErrOutsideRoot)

	require.NoError(t, s.DeleteBackup(context.Background(), dir))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	history, err := s.History(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestDeleteBackup_NotBackup(t *testing.T) {
	s, root := newTestService(t, &fakeDevice{})
	dir := filepath.Join(root, "random")
	require.NoError(t, os.MkdirAll(dir, 0755))

	assert.ErrorIs(t, s.DeleteBackup(context.Background(), dir), ErrNotBackup)
	_, err := os.Stat(dir)
	assert.NoError(t, err)
}

func TestRestore_PasswordRules(t *testing.T) {
	dev := &fakeDevice{connected: true}
	s, root := newTestService(t, dev)
	plain := filepath.Join(root, "plain")
	locked := filepath.Join(root, "locked")
	writeBackupDir(t, plain, "P", "u", false)
	writeBackupDir(t, locked, "L", "u", true)
	ctx := context.Background()

	assert.ErrorIs(t, s.Restore(ctx, "u", models.RestoreRequest{BackupDir: locked}), ErrPasswordRequired)
	require.NoError(t, s.Restore(ctx, "u", models.RestoreRequest{BackupDir: locked, Password: "pw"}))
	require.NoError(t, s.Restore(ctx, "u", models.RestoreRequest{BackupDir: plain, Password: "ignored"}))

	dev.mu.Lock()
	assert.Equal(t, []string{locked + "|pw", plain + "|"}, dev.restored)
	dev.mu.Unlock()

	dev.mu.Lock()
	dev.connected = false
	dev.mu.Unlock()
	assert.ErrorIs(t, s.Restore(ctx, "u", models.RestoreRequest{BackupDir: plain}), ErrDeviceNotConnected)
}

func TestEncryption(t *testing.T) {
	dev := &fakeDevice{connected: true}
	s, _ := newTestService(t, dev)
	ctx := context.Background()

	on, err := s.EncryptionEnabled(ctx, "u")
	require.NoError(t, err)
	assert.False(t, on)

	assert.ErrorIs(t, s.SetEncryption(ctx, "u", models.EncryptionRequest{Enable: true}), ErrPasswordRequired)
	require.NoError(t, s.SetEncryption(ctx, "u", models.EncryptionRequest{Enable: true, Password: "pw"}))

	on, err = s.EncryptionEnabled(ctx, "u")
	require.NoError(t, err)
	assert.True(t, on)
}

func TestDefaultDir(t *testing.T) {
	s, root := newTestService(t, &fakeDevice{})
	abs, _ := filepath.Abs(root)
	assert.Equal(t, abs, s.DefaultDir())
}
