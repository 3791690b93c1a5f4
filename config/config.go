package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// Backend modes
	ModeAuto   = "auto"   // local libimobiledevice tools, mock data when missing
	ModeLocal  = "local"  // same as auto; kept for explicit config files
	ModeRemote = "remote" // another idevicedesk backend over HTTP
	ModeMock   = "mock"   // always synthetic data

	EnvPrefix = "IDEVICEDESK"
)

type Config struct {
	Server   ServerConfig
	Backend  BackendConfig
	IDevice  IDeviceConfig
	Backup   BackupConfig
	Database DatabaseConfig
	Logging  LoggingConfig
	Session  SessionConfig
}

type ServerConfig struct {
	Address string
}

type BackendConfig struct {
	Mode      string
	RemoteURL string
	Timeout   time.Duration
}

type IDeviceConfig struct {
	ToolsDir string // directory holding idevice_id, ideviceinfo, ...; empty uses PATH
}

type BackupConfig struct {
	Dir       string
	Retention time.Duration // how long finished runs stay queryable
}

type DatabaseConfig struct {
	Path string
}

type LoggingConfig struct {
	Level  string
	Format string
	Dir    string
}

type SessionConfig struct {
	PollInterval time.Duration
}

// Load reads configuration from defaults, an optional idevicedesk.yaml and
// IDEVICEDESK_* environment variables. An explicit file path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("idevicedesk")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".idevicedesk"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{
		Server: ServerConfig{Address: v.GetString("server.address")},
		Backend: BackendConfig{
			Mode:      strings.ToLower(v.GetString("backend.mode")),
			RemoteURL: v.GetString("backend.remote_url"),
			Timeout:   v.GetDuration("backend.timeout"),
		},
		IDevice: IDeviceConfig{ToolsDir: v.GetString("idevice.tools_dir")},
		Backup: BackupConfig{
			Dir:       v.GetString("backup.dir"),
			Retention: v.GetDuration("backup.retention"),
		},
		Database: DatabaseConfig{Path: v.GetString("database.path")},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
			Dir:    v.GetString("logging.dir"),
		},
		Session: SessionConfig{PollInterval: v.GetDuration("session.poll_interval")},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Backend.Mode {
	case ModeAuto, ModeLocal, ModeMock:
	case ModeRemote:
		if c.Backend.RemoteURL == "" {
			return errors.New("backend.remote_url is required in remote mode")
		}
	default:
		return fmt.Errorf("unknown backend.mode %q", c.Backend.Mode)
	}
	if c.Backend.Timeout <= 0 {
		return errors.New("backend.timeout must be positive")
	}
	if c.Backup.Retention < 0 {
		return errors.New("backup.retention must not be negative")
	}
	if c.Session.PollInterval < 0 {
		return errors.New("session.poll_interval must not be negative")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("backend.mode", ModeAuto)
	v.SetDefault("backend.remote_url", "")
	v.SetDefault("backend.timeout", 5*time.Second)
	v.SetDefault("idevice.tools_dir", "")
	v.SetDefault("backup.dir", DefaultBackupDir())
	v.SetDefault("backup.retention", 10*time.Minute)
	v.SetDefault("database.path", DatabasePath)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.dir", "log")
	v.SetDefault("session.poll_interval", 5*time.Second)
}

// DefaultBackupDir returns the per-OS default backup directory without
// creating it. Documents/idevicedesk/backups on macOS and Windows,
// ~/.idevicedesk/backups elsewhere, ./backups when there is no home.
func DefaultBackupDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		wd, _ := os.Getwd()
		return filepath.Join(wd, "backups")
	}
	switch runtime.GOOS {
	case "darwin", "windows":
		return filepath.Join(home, "Documents", "idevicedesk", "backups")
	default:
		return filepath.Join(home, ".idevicedesk", "backups")
	}
}

// EnsureBackupDir creates dir, falling back to a directory under the
// system temp dir when that fails. It returns the directory actually usable.
func EnsureBackupDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err == nil {
		return dir, nil
	}
	tmp := filepath.Join(os.TempDir(), "idevicedesk", "backups")
	if err := os.MkdirAll(tmp, 0755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	return tmp, nil
}
