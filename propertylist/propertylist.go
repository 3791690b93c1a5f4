// Package propertylist reads Apple property lists (XML or binary) into
// generic dicts.
package propertylist

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"howett.net/plist"
)

// ErrNotDict is returned when the root element of a plist is not a dict
var ErrNotDict = errors.New("plist root is not a dict")

// Dict is a decoded plist dictionary. Integers decode to uint64 (int64
// when negative), reals to float64, dates to time.Time, data to []byte.
type Dict map[string]any

// Decode parses data, which may be in any plist format
func Decode(data []byte) (Dict, error) {
	var root any
	if _, err := plist.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("plist: %w", err)
	}
	dict, ok := root.(map[string]any)
	if !ok {
		return nil, ErrNotDict
	}
	return Dict(dict), nil
}

// DecodeString is Decode for tool output captured as text
func DecodeString(s string) (Dict, error) {
	return Decode(bytes.TrimSpace([]byte(s)))
}

// ReadFile decodes the dict plist stored at path
func ReadFile(path string) (Dict, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Sub returns the nested dict under key, or nil
func (d Dict) Sub(key string) Dict {
	if m, ok := d[key].(map[string]any); ok {
		return Dict(m)
	}
	return nil
}

// String returns d[key] rendered as text, or "" when absent
func (d Dict) String(key string) string {
	switch v := d[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case uint64:
		return strconv.FormatUint(v, 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}

// Bool returns d[key] as a bool. Strings and integers are accepted the way
// plutil prints them ("true", "YES", 1).
func (d Dict) Bool(key string) bool {
	switch v := d[key].(type) {
	case bool:
		return v
	case uint64:
		return v != 0
	case int64:
		return v != 0
	case string:
		if v == "YES" {
			return true
		}
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// Time returns d[key] when it is a date
func (d Dict) Time(key string) (time.Time, bool) {
	t, ok := d[key].(time.Time)
	return t, ok
}
