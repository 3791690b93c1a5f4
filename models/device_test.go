package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeCurrentDevice_OverlaysDetail(t *testing.T) {
	id := &Device{UDID: "device1", Name: "iPhone 13", Model: "iPhone13,1", Status: StatusConnected}
	detail := DeviceInfo{"Battery": "85%", "name": "Renamed"}

	cd := MergeCurrentDevice(id, detail)

	require.NotNil(t, cd.Identity)
	assert.Equal(t, *id, *cd.Identity)
	assert.NotSame(t, id, cd.Identity)

	attrs := cd.Attributes()
	assert.Equal(t, "device1", attrs["udid"])
	assert.Equal(t, "iPhone13,1", attrs["model"])
	assert.Equal(t, "85%", attrs["Battery"])
	// detail wins on collision
	assert.Equal(t, "Renamed", attrs["name"])
}

func TestMergeCurrentDevice_Standalone(t *testing.T) {
	detail := DeviceInfo{"UDID": "abc", "Battery": "10%"}
	cd := MergeCurrentDevice(nil, detail)

	assert.Nil(t, cd.Identity)
	assert.Equal(t, map[string]string(detail), cd.Attributes())
	assert.Equal(t, "abc", cd.UDID())

	detail["Battery"] = "changed"
	assert.Equal(t, "10%", cd.Detail["Battery"], "merge must copy the detail sheet")
}

func TestMergeCurrentDevice_NilDetail(t *testing.T) {
	cd := MergeCurrentDevice(&Device{UDID: "x"}, nil)
	assert.NotNil(t, cd.Detail)
	assert.Equal(t, "x", cd.UDID())
}

func TestCurrentDevice_JSON(t *testing.T) {
	cd := MergeCurrentDevice(
		&Device{UDID: "device2", Name: "iPad Pro", Model: "iPad8,9", Status: StatusConnected},
		DeviceInfo{"Firmware": "16.0"},
	)

	data, err := json.Marshal(cd)
	require.NoError(t, err)

	var flat map[string]string
	require.NoError(t, json.Unmarshal(data, &flat))
	assert.Equal(t, "iPad Pro", flat["name"])
	assert.Equal(t, "16.0", flat["Firmware"])

	var back CurrentDevice
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, *cd, back)
}

func TestCurrentDevice_NilSafe(t *testing.T) {
	var cd *CurrentDevice
	assert.Equal(t, "", cd.UDID())
	assert.Nil(t, cd.Attributes())
}

func TestBackupProgress_Terminal(t *testing.T) {
	assert.False(t, BackupProgress{Status: BackupRunning}.Terminal())
	assert.True(t, BackupProgress{Status: BackupCompleted}.Terminal())
	assert.True(t, BackupProgress{Status: BackupFailed}.Terminal())
}
