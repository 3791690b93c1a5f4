package session

import (
	"context"

	"idevicedesk/models"
)

// MockProvider supplies the synthetic dataset used when no backend is
// reachable. Every call returns the same literal data.
type MockProvider struct{}

// ListMockDevices returns the two synthetic devices, in fixed order
func (MockProvider) ListMockDevices() []models.Device {
	return []models.Device{
		{
			UDID:   "device1",
			Name:   "iPhone 13",
			Model:  "iPhone13,1",
			Status: models.StatusConnected,
		},
		{
			UDID:   "device2",
			Name:   "iPad Pro",
			Model:  "iPad8,9",
			Status: models.StatusConnected,
		},
	}
}

// GetMockDeviceInfo returns the synthetic detail sheet. The sheet does not
// depend on udid.
func (MockProvider) GetMockDeviceInfo(udid string) models.DeviceInfo {
	return models.DeviceInfo{
		"Device Name":       "iPhone Simulator",
		"Device Class":      "iPhone",
		"Model Number":      "iPhone 13",
		"IMEI":              "123456789012345",
		"IMEI2":             "987654321098765",
		"Region":            "CH/A",
		"Color":             "Midnight",
		"Battery Cycles":    "125",
		"Build Version":     "19A346",
		"Bluetooth Address": "00:11:22:33:44:55",
		"Storage Type":      "NAND",
		"Screen Resolution": "2532 x 1170",
		"Jailbreak":         "No",
		"Product Type":      "iPhone14,5",
		"Serial":            "ABCDEFGHIJK",
		"Chip":              "A15 Bionic",
		"Production Date":   "2022-01",
		"Charging":          "No",
		"Battery Health":    "95%",
		"Baseband Version":  "1.59.00",
		"Cellular Address":  "01:23:45:67:89:AB",
		"Board Serial":      "J123S456V789",
		"Activation State":  "Activated",
		"SIM Tray":          "Dual SIM",
		"ECID":              "0x1A2B3C4D",
		"Hardware Model":    "D10AP",
		"Battery":           "87%",
		"Firmware Version":  "iBoot-7429.61.2",
		"WiFi Address":      "11:22:33:44:55:66",
		"CPU Architecture":  "arm64e",
		"iOS Version":       "15.4.1",
		"Phone Number":      "+86 138****1234",
		"Proximity Sensor":  "OK",
		"Ambient Light":     "OK",
	}
}

// MockBackend serves the mock dataset through the Backend interface
type MockBackend struct{ MockProvider }

func (m MockBackend) GetDevices(ctx context.Context) ([]models.Device, error) {
	return m.ListMockDevices(), nil
}

func (m MockBackend) GetDeviceInfo(ctx context.Context, udid string) (models.DeviceInfo, error) {
	return m.GetMockDeviceInfo(udid), nil
}
