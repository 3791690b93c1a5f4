package idevice

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"idevicedesk/propertylist"
)

const unknown = "Unknown"

// ParseKeyValues parses "Key: Value" lines as printed by ideviceinfo
func ParseKeyValues(out string) map[string]string {
	kv := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, ": ", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		kv[key] = strings.TrimSpace(parts[1])
	}
	return kv
}

var ioregLine = regexp.MustCompile(`"(\w+)"\s*=\s*(\S+)`)

// parseIORegistry extracts battery values from idevicediagnostics output.
// Newer releases print an XML plist, older ones `"Key" = value` lines.
func parseIORegistry(out string) map[string]string {
	values := make(map[string]string)
	if strings.Contains(out, "<plist") {
		root, err := propertylist.DecodeString(out)
		if err != nil {
			return values
		}
		// the registry entry is nested under IORegistry
		if inner := root.Sub("IORegistry"); inner != nil {
			root = inner
		}
		for _, key := range []string{"CurrentCapacity", "CycleCount"} {
			if v := root.String(key); v != "" {
				values[key] = v
			}
		}
		return values
	}
	for _, m := range ioregLine.FindAllStringSubmatch(out, -1) {
		values[m[1]] = strings.TrimRight(m[2], ";,")
	}
	return values
}

// summarize derives readable keys from the raw lockdown values
func summarize(udid string, raw, battery map[string]string) map[string]string {
	get := func(key, def string) string {
		if v := raw[key]; v != "" {
			return v
		}
		return def
	}

	level := unknown
	if v := battery["CurrentCapacity"]; v != "" {
		level = v + "%"
	}
	cycles := unknown
	if v := battery["CycleCount"]; v != "" {
		cycles = v
	}

	return map[string]string{
		"Name":              get("DeviceName", "Unnamed device"),
		"Model":             get("ProductType", "Unknown model"),
		"iOS Version":       get("ProductVersion", unknown),
		"Serial":            get("SerialNumber", unknown),
		"UDID":              udid,
		"Capacity":          FormatCapacity(get("TotalDiskCapacity", "0")),
		"Battery":           level,
		"Battery Cycles":    cycles,
		"WiFi Address":      get("WiFiAddress", unknown),
		"Bluetooth Address": get("BluetoothAddress", unknown),
		"Production Date":   ParseProductionDate(get("SerialNumber", "")),
		"Color":             DeviceColor(get("DeviceColor", "")),
		"Activation State":  get("ActivationState", unknown),
		"Build Version":     get("BuildVersion", unknown),
		"Hardware Model":    get("HardwareModel", unknown),
		"CPU Architecture":  get("CPUArchitecture", unknown),
		"IMEI":              get("InternationalMobileEquipmentIdentity", unknown),
		"Region":            get("RegionInfo", unknown),
		"Baseband Version":  get("BasebandVersion", unknown),
	}
}

// FormatCapacity renders a byte count in binary units ("119.2 GB")
func FormatCapacity(capacity string) string {
	if capacity == "" || capacity == "0" {
		return unknown
	}
	n, err := strconv.ParseInt(capacity, 10, 64)
	if err != nil {
		return capacity
	}

	const unit = 1024
	if n < unit {
		return capacity + " B"
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 3; m /= unit {
		div *= unit
		exp++
	}
	return strconv.FormatFloat(float64(n)/float64(div), 'f', 1, 64) + " " + []string{"KB", "MB", "GB", "TB"}[exp]
}

var serialYears = map[byte]int{
	'C': 2010, 'D': 2011, 'F': 2012, 'G': 2013, 'H': 2014,
	'J': 2015, 'K': 2016, 'L': 2017, 'M': 2018, 'N': 2019,
	'P': 2020, 'Q': 2021, 'R': 2022, 'S': 2023, 'T': 2024,
	'V': 2025, 'W': 2026, 'X': 2027, 'Y': 2028, 'Z': 2029,
}

// week code of 10 character "C..." serials, coarse (roughly one per month)
var serialMonthWeeks = map[byte]int{
	'1': 1, '2': 5, '3': 9, '4': 13, '5': 18,
	'6': 22, '7': 27, '8': 31, '9': 35, '0': 40,
	'A': 44, 'B': 48, 'C': 52,
}

const serialWeekCodes = "0123456789ABCDEFGHJKLMNPQRSTVWXYZ"

// ParseProductionDate estimates the manufacturing date encoded in an Apple
// serial number. Randomized serials (2021 onwards) carry no date and yield
// Unknown.
func ParseProductionDate(serial string) string {
	serial = strings.ToUpper(strings.TrimSpace(serial))
	if len(serial) < 5 {
		return unknown
	}

	var year, week int
	var ok bool
	if len(serial) == 10 && serial[0] == 'C' {
		if year, ok = serialYears[serial[2]]; !ok {
			return unknown
		}
		if week, ok = serialMonthWeeks[serial[8]]; !ok {
			return unknown
		}
	} else {
		if year, ok = serialYears[serial[3]]; !ok {
			return unknown
		}
		i := strings.IndexByte(serialWeekCodes, serial[4])
		if i < 0 {
			return unknown
		}
		week = i + 1
	}

	// Wednesday of the given week
	date := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, (week-1)*7+2)
	return fmt.Sprintf("%s (week %d)", date.Format("2006-01-02"), week)
}

var deviceColors = map[int]string{
	0: "Black / Space Gray",
	1: "White / Silver",
	2: "(PRODUCT)RED",
	3: "Blue",
	4: "Pink",
	5: "Green",
	6: "Purple",
}

// DeviceColor maps a lockdown DeviceColor code to a colour name
func DeviceColor(code string) string {
	n, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil {
		return unknown
	}
	if name, ok := deviceColors[n]; ok {
		return name
	}
	return unknown
}
