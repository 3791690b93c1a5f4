package session

import (
	"context"
	"sync"

	"idevicedesk/logs"
	"idevicedesk/models"

	"github.com/sirupsen/logrus"
)

// Snapshot is a copy of the store's read surface, valid until the next
// mutation.
type Snapshot struct {
	Devices          []models.Device       `json:"devices"`
	CurrentDevice    *models.CurrentDevice `json:"currentDevice"`
	IsLoading        bool                  `json:"isLoading"`
	Error            string                `json:"error,omitempty"`
	ConnectedDevices []models.Device       `json:"connectedDevices"`
	DeviceCount      int                   `json:"deviceCount"`
}

// Store holds the device collection and the current device for one UI
// session. It is the only writer of that state. Fetches pick the mock
// provider or the backend bridge by probing the capability on every call.
type Store struct {
	capability Capability
	bridge     *Bridge
	mock       MockProvider
	log        *logrus.Entry

	mu            sync.RWMutex
	devices       []models.Device
	currentDevice *models.CurrentDevice
	loading       int // in-flight non-silent operations
	errMsg        string

	// infoToken orders writes to currentDevice: only the response of the
	// most recently issued request is applied.
	infoToken uint64

	subMu  sync.Mutex
	subs   map[int]func(Snapshot)
	nextID int
}

// NewStore creates an empty store. A nil capability behaves as Unavailable.
func NewStore(capability Capability, backend Backend) *Store {
	if capability == nil {
		capability = Unavailable
	}
	var bridge *Bridge
	if backend != nil {
		bridge = NewBridge(backend)
	}
	return &Store{
		capability: capability,
		bridge:     bridge,
		devices:    []models.Device{},
		log:        logs.Logger.WithField("component", "session"),
		subs:       make(map[int]func(Snapshot)),
	}
}

func (s *Store) backendAvailable() bool {
	return s.bridge != nil && s.capability.Probe()
}

// FetchDevices replaces the device collection with a fresh list. On failure
// the previous list is kept, Error is set and an empty slice is returned.
func (s *Store) FetchDevices(ctx context.Context) []models.Device {
	devices, err := s.fetchDevices(ctx)
	if err != nil {
		return []models.Device{}
	}
	return devices
}

func (s *Store) fetchDevices(ctx context.Context) ([]models.Device, error) {
	s.beginLoading()
	defer s.endLoading()
	s.setError("")

	var (
		devices []models.Device
		err     error
	)
	if s.backendAvailable() {
		devices, err = s.bridge.GetDevices(ctx)
	} else {
		s.log.Debug("Backend unavailable, using mock device list")
		devices = s.mock.ListMockDevices()
	}
	if err != nil {
		s.log.WithError(err).Warn("Failed to fetch devices")
		s.setError("failed to fetch devices: " + err.Error())
		return nil, err
	}

	devices = dedupe(devices)

	s.mu.Lock()
	s.devices = devices
	s.mu.Unlock()
	s.notify()

	return cloneDevices(devices), nil
}

// FetchDeviceInfo fetches the detail sheet of udid and makes it the current
// device, overlaying it on the matching collection entry when there is one.
// A silent fetch leaves the loading flag alone. On failure the current
// device is kept, Error is set and nil is returned.
func (s *Store) FetchDeviceInfo(ctx context.Context, udid string, silent bool) models.DeviceInfo {
	if !silent {
		s.beginLoading()
		defer s.endLoading()
	}
	s.setError("")

	s.mu.Lock()
	s.infoToken++
	token := s.infoToken
	s.mu.Unlock()

	info, err := s.resolveInfo(ctx, udid)
	if err != nil {
		return nil
	}

	s.mu.Lock()
	applied := token == s.infoToken
	if applied {
		s.currentDevice = models.MergeCurrentDevice(findDevice(s.devices, udid), info)
	}
	s.mu.Unlock()

	if applied {
		s.notify()
	} else {
		s.log.WithField("udid", udid).Debug("Discarding stale device info response")
	}
	return info.Clone()
}

func (s *Store) resolveInfo(ctx context.Context, udid string) (models.DeviceInfo, error) {
	if !s.backendAvailable() {
		s.log.WithField("udid", udid).Debug("Backend unavailable, using mock device info")
		return s.mock.GetMockDeviceInfo(udid), nil
	}
	info, err := s.bridge.GetDeviceInfo(ctx, udid)
	if err != nil {
		s.log.WithError(err).WithField("udid", udid).Warn("Failed to fetch device info")
		s.setError("failed to fetch device info: " + err.Error())
		return nil, err
	}
	return info, nil
}

// currentWithToken returns the current device together with the token of
// the latest issued request, for background work that must not supersede it.
func (s *Store) currentWithToken() (*models.CurrentDevice, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentDevice, s.infoToken
}

// replaceCurrentIf swaps the current device only while it is still current
// and no request was issued since token was read. The token is not bumped,
// so requests already in flight still apply when they complete.
func (s *Store) replaceCurrentIf(current *models.CurrentDevice, token uint64, next *models.CurrentDevice) bool {
	s.mu.Lock()
	ok := s.currentDevice == current && s.infoToken == token
	if ok {
		s.currentDevice = next
	}
	s.mu.Unlock()
	if ok {
		s.notify()
	}
	return ok
}

// refreshCurrent silently re-fetches the detail sheet of current. The loading
// flag and the request token are left alone.
func (s *Store) refreshCurrent(ctx context.Context, current *models.CurrentDevice, token uint64) bool {
	udid := current.UDID()
	info, err := s.resolveInfo(ctx, udid)
	if err != nil {
		return false
	}
	s.mu.RLock()
	identity := findDevice(s.devices, udid)
	s.mu.RUnlock()
	return s.replaceCurrentIf(current, token, models.MergeCurrentDevice(identity, info))
}

// CheckDeviceConnection reports whether udid is still attached. Without a
// backend every device counts as connected. With one, the device list is
// refreshed first; a failed refresh reports false.
func (s *Store) CheckDeviceConnection(ctx context.Context, udid string) bool {
	if !s.backendAvailable() {
		return true
	}
	devices, err := s.fetchDevices(ctx)
	if err != nil {
		return false
	}
	return findDevice(devices, udid) != nil
}

// SetCurrentDevice overwrites the current device as given. Any info fetch
// still in flight will no longer replace it.
func (s *Store) SetCurrentDevice(device *models.CurrentDevice) {
	s.mu.Lock()
	s.infoToken++
	s.currentDevice = device
	s.mu.Unlock()
	s.notify()
}

func (s *Store) Devices() []models.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneDevices(s.devices)
}

func (s *Store) CurrentDevice() *models.CurrentDevice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentDevice
}

func (s *Store) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading > 0
}

// Error returns the last failure message, empty when there is none
func (s *Store) Error() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errMsg
}

// ConnectedDevices is derived from the device collection on every read
func (s *Store) ConnectedDevices() []models.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ConnectedDevices(s.devices)
}

func (s *Store) DeviceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(ConnectedDevices(s.devices))
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	connected := ConnectedDevices(s.devices)
	return Snapshot{
		Devices:          cloneDevices(s.devices),
		CurrentDevice:    s.currentDevice,
		IsLoading:        s.loading > 0,
		Error:            s.errMsg,
		ConnectedDevices: connected,
		DeviceCount:      len(connected),
	}
}

// Subscribe registers fn to receive a snapshot after every mutation.
// fn runs on the mutating goroutine and must not block.
func (s *Store) Subscribe(fn func(Snapshot)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	if len(fns) == 0 {
		return
	}

	snap := s.Snapshot()
	for _, fn := range fns {
		fn(snap)
	}
}

func (s *Store) beginLoading() {
	s.mu.Lock()
	s.loading++
	s.mu.Unlock()
	s.notify()
}

func (s *Store) endLoading() {
	s.mu.Lock()
	if s.loading > 0 {
		s.loading--
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Store) setError(msg string) {
	s.mu.Lock()
	changed := s.errMsg != msg
	s.errMsg = msg
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// ConnectedDevices filters devices down to those with connected status.
func ConnectedDevices(devices []models.Device) []models.Device {
	out := make([]models.Device, 0, len(devices))
	for _, d := range devices {
		if d.Status == models.StatusConnected {
			out = append(out, d)
		}
	}
	return out
}

func findDevice(devices []models.Device, udid string) *models.Device {
	for i := range devices {
		if devices[i].UDID == udid {
			d := devices[i]
			return &d
		}
	}
	return nil
}

// dedupe keeps the first entry per UDID, preserving order
func dedupe(devices []models.Device) []models.Device {
	seen := make(map[string]struct{}, len(devices))
	out := make([]models.Device, 0, len(devices))
	for _, d := range devices {
		if _, ok := seen[d.UDID]; ok {
			continue
		}
		seen[d.UDID] = struct{}{}
		out = append(out, d)
	}
	return out
}

func cloneDevices(devices []models.Device) []models.Device {
	out := make([]models.Device, len(devices))
	copy(out, devices)
	return out
}
