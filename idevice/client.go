package idevice

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"idevicedesk/logs"
	"idevicedesk/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Tool binaries used by the client
const (
	toolList        = "idevice_id"
	toolInfo        = "ideviceinfo"
	toolPair        = "idevicepair"
	toolDiagnostics = "idevicediagnostics"
	toolBackup      = "idevicebackup2"
)

// requiredTools must all resolve for the backend to count as available
var requiredTools = []string{toolList, toolInfo}

// Client talks to attached iOS devices through libimobiledevice
type Client struct {
	runner Runner
	log    *logrus.Entry
}

// NewClient creates a client running tools from toolsDir, or PATH when empty
func NewClient(toolsDir string) *Client {
	return NewClientWithRunner(ExecRunner{ToolsDir: toolsDir})
}

func NewClientWithRunner(r Runner) *Client {
	return &Client{
		runner: r,
		log:    logs.Logger.WithField("component", "idevice"),
	}
}

// Probe reports whether the libimobiledevice tools can be found right now
func (c *Client) Probe() bool {
	for _, tool := range requiredTools {
		if _, err := c.runner.LookPath(tool); err != nil {
			return false
		}
	}
	return true
}

// GetDevices lists attached devices. A device whose name and model cannot
// be read is reported as needing to be paired (the trust prompt is still
// pending on the device).
func (c *Client) GetDevices(ctx context.Context) ([]models.Device, error) {
	udids, err := c.listUDIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	devices := make([]models.Device, len(udids))
	g, gctx := errgroup.WithContext(ctx)
	for i, udid := range udids {
		i, udid := i, udid
		g.Go(func() error {
			devices[i] = c.describe(gctx, udid)
			return nil
		})
	}
	g.Wait()

	return devices, nil
}

func (c *Client) describe(ctx context.Context, udid string) models.Device {
	name, nameErr := c.value(ctx, udid, "DeviceName")
	model, modelErr := c.value(ctx, udid, "ProductType")

	if nameErr != nil && modelErr != nil {
		c.log.WithField("udid", udid).WithError(nameErr).Warn("Device not readable, pairing required")
		return models.Device{
			UDID:   udid,
			Name:   "Trust this computer on the device",
			Model:  "Tap \"Trust\" on the device",
			Status: models.StatusPairingRequired,
		}
	}
	if name == "" {
		name = "Unnamed device"
	}
	if model == "" {
		model = "Unknown model"
	}
	return models.Device{UDID: udid, Name: name, Model: model, Status: models.StatusConnected}
}

// IsConnected reports whether udid is currently listed
func (c *Client) IsConnected(ctx context.Context, udid string) bool {
	udids, err := c.listUDIDs(ctx)
	if err != nil {
		return false
	}
	for _, u := range udids {
		if u == udid {
			return true
		}
	}
	return false
}

// GetDeviceInfo returns the raw lockdown values of udid plus a set of
// readable summary keys. An unpaired device yields a partial sheet.
func (c *Client) GetDeviceInfo(ctx context.Context, udid string) (models.DeviceInfo, error) {
	if !c.isPaired(ctx, udid) {
		return models.DeviceInfo{
			"UDID":   udid,
			"Status": models.StatusPairingRequired,
			"Name":   "Trust this computer on the device",
		}, nil
	}

	// lockdown values and battery diagnostics are independent queries
	var (
		raw     map[string]string
		battery map[string]string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := c.runner.Run(gctx, nil, toolInfo, "-u", udid)
		if err != nil {
			return fmt.Errorf("failed to read device info: %w", err)
		}
		raw = ParseKeyValues(string(out))
		return nil
	})
	g.Go(func() error {
		b, err := c.batteryInfo(gctx, udid)
		if err != nil {
			c.log.WithField("udid", udid).WithError(err).Debug("Battery diagnostics unavailable")
			return nil
		}
		battery = b
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	info := models.DeviceInfo(raw)
	for k, v := range summarize(udid, raw, battery) {
		info[k] = v
	}
	return info, nil
}

// EncryptionEnabled reports whether the device encrypts its backups
func (c *Client) EncryptionEnabled(ctx context.Context, udid string) (bool, error) {
	out, err := c.runner.Run(ctx, nil, toolInfo, "-u", udid, "-q", "com.apple.mobile.backup")
	if err != nil {
		return false, fmt.Errorf("failed to read backup domain: %w", err)
	}
	kv := ParseKeyValues(string(out))
	return kv["WillEncrypt"] == "true" || kv["PasswordProtected"] == "true", nil
}

// SetEncryption turns device-side backup encryption on or off
func (c *Client) SetEncryption(ctx context.Context, udid string, enable bool, password string) error {
	mode := "off"
	if enable {
		mode = "on"
	}
	// interactive mode keeps the password off the command line; enabling
	// asks for it twice
	input := password + "\n"
	if enable {
		input += password + "\n"
	}
	if _, err := c.runner.Run(ctx, strings.NewReader(input), toolBackup, "-u", udid, "encryption", mode, "-i"); err != nil {
		return fmt.Errorf("failed to set backup encryption %s: %w", mode, err)
	}
	return nil
}

// Backup runs a full backup of udid into dir/<udid>. Tool output lines are
// passed to onLine as they arrive.
func (c *Client) Backup(ctx context.Context, udid, dir string, onLine func(string)) error {
	return c.runner.Stream(ctx, onLine, toolBackup, "-u", udid, "backup", "--full", dir)
}

// Restore restores the backup in dir onto udid. dir is a single backup
// directory; the tool wants its parent plus the directory name as source.
// The password of an encrypted backup is answered on stdin.
func (c *Client) Restore(ctx context.Context, udid, dir, password string) error {
	args := []string{"-u", udid, "restore", "--system", "--settings"}
	var stdin io.Reader
	if password != "" {
		args = append(args, "-i")
		stdin = strings.NewReader(password + "\n")
	}
	args = append(args, "--source", filepath.Base(dir), filepath.Dir(dir))

	out, err := c.runner.Run(ctx, stdin, toolBackup, args...)
	if err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}
	c.log.WithField("udid", udid).Debugf("Restore output: %s", out)
	return nil
}

func (c *Client) listUDIDs(ctx context.Context) ([]string, error) {
	out, err := c.runner.Run(ctx, nil, toolList, "-l")
	if err != nil {
		return nil, err
	}
	var udids []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(string(out), "\n") {
		// newer idevice_id prints "<udid> (USB)" / "(Network)"
		fields := strings.Fields(line)
		if len(fields) == 0 || seen[fields[0]] {
			continue
		}
		seen[fields[0]] = true
		udids = append(udids, fields[0])
	}
	return udids, nil
}

func (c *Client) value(ctx context.Context, udid, key string) (string, error) {
	out, err := c.runner.Run(ctx, nil, toolInfo, "-u", udid, "-k", key)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *Client) isPaired(ctx context.Context, udid string) bool {
	_, err := c.runner.Run(ctx, nil, toolPair, "-u", udid, "validate")
	return err == nil
}

func (c *Client) batteryInfo(ctx context.Context, udid string) (map[string]string, error) {
	out, err := c.runner.Run(ctx, nil, toolDiagnostics, "-u", udid, "ioregentry", "AppleSmartBattery")
	if err != nil {
		return nil, err
	}
	return parseIORegistry(string(out)), nil
}
