package session

import (
	"context"
	"fmt"

	"idevicedesk/models"
)

// Backend is the device-management surface the session layer consumes.
// It is implemented by the local libimobiledevice client and by the
// remote HTTP client.
type Backend interface {
	GetDevices(ctx context.Context) ([]models.Device, error)
	GetDeviceInfo(ctx context.Context, udid string) (models.DeviceInfo, error)
}

// BridgeError is returned when the backend rejects a call
type BridgeError struct {
	Op   string // GetDevices, GetDeviceInfo
	UDID string
	Err  error
}

func (e *BridgeError) Error() string {
	if e.UDID != "" {
		return fmt.Sprintf("%s(%s): %v", e.Op, e.UDID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *BridgeError) Unwrap() error { return e.Err }

// Bridge is a thin typed proxy over a Backend. It never touches session
// state.
type Bridge struct {
	backend Backend
}

func NewBridge(backend Backend) *Bridge {
	return &Bridge{backend: backend}
}

func (b *Bridge) GetDevices(ctx context.Context) ([]models.Device, error) {
	devices, err := b.backend.GetDevices(ctx)
	if err != nil {
		return nil, &BridgeError{Op: "GetDevices", Err: err}
	}
	if devices == nil {
		devices = []models.Device{}
	}
	return devices, nil
}

// GetDeviceInfo returns whatever the backend knows about udid. An unknown
// device may come back empty or partial; that is not an error.
func (b *Bridge) GetDeviceInfo(ctx context.Context, udid string) (models.DeviceInfo, error) {
	info, err := b.backend.GetDeviceInfo(ctx, udid)
	if err != nil {
		return nil, &BridgeError{Op: "GetDeviceInfo", UDID: udid, Err: err}
	}
	if info == nil {
		info = models.DeviceInfo{}
	}
	return info, nil
}

// WithFallback returns a Backend that uses backend while capability probes
// true and the mock dataset otherwise, the same rule the Store applies
func WithFallback(capability Capability, backend Backend) Backend {
	if capability == nil {
		capability = Unavailable
	}
	return fallback{capability: capability, backend: backend}
}

type fallback struct {
	capability Capability
	backend    Backend
}

func (f fallback) pick() Backend {
	if f.backend != nil && f.capability.Probe() {
		return f.backend
	}
	return MockBackend{}
}

func (f fallback) GetDevices(ctx context.Context) ([]models.Device, error) {
	return f.pick().GetDevices(ctx)
}

func (f fallback) GetDeviceInfo(ctx context.Context, udid string) (models.DeviceInfo, error) {
	return f.pick().GetDeviceInfo(ctx, udid)
}
