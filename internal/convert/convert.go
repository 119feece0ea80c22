// Package convert provides type conversion utilities for loosely typed JSON values.
// This package has no dependencies on other internal packages to avoid circular imports.
package convert

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ToString converts a decoded JSON value to string.
// Numbers and booleans are formatted, objects and arrays are re-marshalled.
// nil and unsupported values return fallback.
func ToString(v interface{}, fallback string) string {
	switch val := v.(type) {
	case nil:
		return fallback
	case string:
		return val
	case json.Number:
		return val.String()
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(val)
		if err != nil {
			return fallback
		}
		return string(b)
	}
	return fallback
}

// ToNonEmptyString is ToString, but blank results also return fallback.
func ToNonEmptyString(v interface{}, fallback string) string {
	s := ToString(v, "")
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

// ToInt64 converts integers, integral floats and numeric strings to int64.
func ToInt64(v interface{}, fallback int64) int64 {
	switch val := v.(type) {
	case int:
		return int64(val)
	case int64:
		return val
	case float64:
		if val == float64(int64(val)) {
			return int64(val)
		}
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
