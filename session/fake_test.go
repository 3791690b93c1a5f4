package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"idevicedesk/models"
)

var errTransport = errors.New("transport closed")

// fakeBackend is a scriptable Backend
type fakeBackend struct {
	mu      sync.Mutex
	devices []models.Device
	info    map[string]models.DeviceInfo
	devErr  error
	infoErr error

	// gates, when set, block GetDeviceInfo for a udid until closed
	gates map[string]chan struct{}
	// started receives the udid each time GetDeviceInfo begins
	started chan string
	// devGate, when set, blocks GetDevices until closed; devStarted is
	// signalled when GetDevices begins
	devGate    chan struct{}
	devStarted chan struct{}

	deviceCalls atomic.Int32
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		info:  make(map[string]models.DeviceInfo),
		gates: make(map[string]chan struct{}),
	}
}

func (f *fakeBackend) GetDevices(ctx context.Context) ([]models.Device, error) {
	f.deviceCalls.Add(1)
	f.mu.Lock()
	gate, started := f.devGate, f.devStarted
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.devErr != nil {
		return nil, f.devErr
	}
	out := make([]models.Device, len(f.devices))
	copy(out, f.devices)
	return out, nil
}

func (f *fakeBackend) GetDeviceInfo(ctx context.Context, udid string) (models.DeviceInfo, error) {
	f.mu.Lock()
	gate := f.gates[udid]
	started := f.started
	f.mu.Unlock()

	if started != nil {
		started <- udid
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return f.info[udid].Clone(), nil
}

func (f *fakeBackend) setDevices(devices ...models.Device) {
	f.mu.Lock()
	f.devices = devices
	f.mu.Unlock()
}

func (f *fakeBackend) setDevErr(err error) {
	f.mu.Lock()
	f.devErr = err
	f.mu.Unlock()
}

func (f *fakeBackend) setInfoErr(err error) {
	f.mu.Lock()
	f.infoErr = err
	f.mu.Unlock()
}

// switchable capability toggled by tests
type switchable struct{ on atomic.Bool }

func (s *switchable) Probe() bool { return s.on.Load() }

func available() *switchable {
	s := &switchable{}
	s.on.Store(true)
	return s
}

func dev(udid, status string) models.Device {
	return models.Device{UDID: udid, Name: "name-" + udid, Model: "model-" + udid, Status: status}
}
