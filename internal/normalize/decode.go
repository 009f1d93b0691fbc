package normalize

import (
	"encoding/json"
	"strconv"
)

// decodeBlob turns a configuration value into a map regardless of whether it
// arrived structured or as its serialized JSON text form. Returns nil when
// the value cannot be decoded; callers treat that as "field absent".
func decodeBlob(v interface{}) map[string]interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		return t
	case string:
		return decodeJSONMap([]byte(t))
	case []byte:
		return decodeJSONMap(t)
	case json.RawMessage:
		return decodeJSONMap(t)
	default:
		return nil
	}
}

// decodeBlobList is decodeBlob for list-shaped sections (e.g. disk arrays).
func decodeBlobList(v interface{}) []map[string]interface{} {
	var raw []interface{}
	switch t := v.(type) {
	case nil:
		return nil
	case []interface{}:
		raw = t
	case []map[string]interface{}:
		return t
	case string:
		if err := json.Unmarshal([]byte(t), &raw); err != nil {
			// A single object is also accepted where a list is expected.
			if m := decodeJSONMap([]byte(t)); m != nil {
				return []map[string]interface{}{m}
			}
			return nil
		}
	case []byte:
		if err := json.Unmarshal(t, &raw); err != nil {
			return nil
		}
	case map[string]interface{}:
		return []map[string]interface{}{t}
	default:
		return nil
	}

	var out []map[string]interface{}
	for _, item := range raw {
		if m := decodeBlob(item); m != nil {
			out = append(out, m)
		}
	}
	return out
}

func decodeJSONMap(data []byte) map[string]interface{} {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// strField reads a string field, tolerating absence.
func strField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// intField reads an integer field. JSON numbers arrive as float64; numeric
// strings are tolerated because some connectors stringify everything.
func intField(m map[string]interface{}, key string) (int, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i), true
		}
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			return i, true
		}
	}
	return 0, false
}

// floatField reads a float field with the same tolerance as intField.
func floatField(m map[string]interface{}, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, true
		}
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// boolField reads a boolean field.
func boolField(m map[string]interface{}, key string) (bool, bool) {
	if m == nil {
		return false, false
	}
	switch v := m[key].(type) {
	case bool:
		return v, true
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b, true
		}
	}
	return false, false
}
