package models

import "encoding/json"

// Device status values reported by the backend
const (
	StatusConnected       = "connected"
	StatusDisconnected    = "disconnected"
	StatusPairingRequired = "pairing_required"
)

// Device is the identity and coarse status of an attached unit.
// UDID is the only identity key.
type Device struct {
	UDID   string `json:"udid"`
	Name   string `json:"name"`
	Model  string `json:"model"`
	Status string `json:"status"` // connected, disconnected, pairing_required
}

// DeviceInfo is the free-form detail sheet of a device (battery, firmware,
// serial number, ...). Backends may return any key set.
type DeviceInfo map[string]string

// Clone returns an independent copy of the detail sheet.
func (i DeviceInfo) Clone() DeviceInfo {
	if i == nil {
		return nil
	}
	out := make(DeviceInfo, len(i))
	for k, v := range i {
		out[k] = v
	}
	return out
}

// CurrentDevice is the device currently being inspected: the identity
// taken from the device collection (nil when the device was not listed)
// plus the most recently fetched detail sheet.
type CurrentDevice struct {
	Identity *Device
	Detail   DeviceInfo
}

// MergeCurrentDevice builds the current device context from an optional
// identity and the fetched detail sheet.
func MergeCurrentDevice(identity *Device, detail DeviceInfo) *CurrentDevice {
	cd := &CurrentDevice{Detail: detail.Clone()}
	if identity != nil {
		id := *identity
		cd.Identity = &id
	}
	if cd.Detail == nil {
		cd.Detail = DeviceInfo{}
	}
	return cd
}

// UDID returns the identity UDID, falling back to a "UDID" detail entry.
func (c *CurrentDevice) UDID() string {
	if c == nil {
		return ""
	}
	if c.Identity != nil {
		return c.Identity.UDID
	}
	if v, ok := c.Detail["udid"]; ok {
		return v
	}
	return c.Detail["UDID"]
}

// Attributes flattens the context into one attribute bag. Identity fields
// come first and detail entries overlay them on key collision.
func (c *CurrentDevice) Attributes() map[string]string {
	if c == nil {
		return nil
	}
	out := make(map[string]string, len(c.Detail)+4)
	if c.Identity != nil {
		out["udid"] = c.Identity.UDID
		out["name"] = c.Identity.Name
		out["model"] = c.Identity.Model
		out["status"] = c.Identity.Status
	}
	for k, v := range c.Detail {
		out[k] = v
	}
	return out
}

// MarshalJSON encodes the flattened view consumed by UI views.
func (c CurrentDevice) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Attributes())
}

// UnmarshalJSON accepts a flattened attribute bag. The identity is rebuilt
// when a "udid" key is present.
func (c *CurrentDevice) UnmarshalJSON(data []byte) error {
	var attrs map[string]string
	if err := json.Unmarshal(data, &attrs); err != nil {
		return err
	}
	c.Identity = nil
	c.Detail = DeviceInfo{}
	if udid, ok := attrs["udid"]; ok {
		c.Identity = &Device{
			UDID:   udid,
			Name:   attrs["name"],
			Model:  attrs["model"],
			Status: attrs["status"],
		}
		for _, k := range []string{"udid", "name", "model", "status"} {
			delete(attrs, k)
		}
	}
	for k, v := range attrs {
		c.Detail[k] = v
	}
	return nil
}
