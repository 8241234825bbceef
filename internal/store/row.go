package store

import "encoding/json"

// Row accessor helpers. Drivers return integers as int64 and occasionally
// hand back []byte for TEXT columns, so all conversions funnel through here.

// String returns the named column as a string, or "" when null or absent.
func (r Row) String(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	return ""
}

// Int64 returns the named column as an int64, or 0 when null or absent.
func (r Row) Int64(key string) int64 {
	switch v := r[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// NullInt64 returns the named column as *int64, or nil when null.
func (r Row) NullInt64(key string) *int64 {
	if r[key] == nil {
		return nil
	}
	v := r.Int64(key)
	return &v
}

// NullString returns the named column as *string, or nil when null.
func (r Row) NullString(key string) *string {
	if r[key] == nil {
		return nil
	}
	v := r.String(key)
	return &v
}

// Float64 returns the named column as a float64, or 0 when null or absent.
func (r Row) Float64(key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

// JSONMap decodes a TEXT column holding a JSON object. Null, empty, and
// malformed values all decode to an empty map; metadata is advisory and
// must never fail a read path.
func (r Row) JSONMap(key string) map[string]any {
	m := map[string]any{}
	s := r.String(key)
	if s == "" {
		return m
	}
	_ = json.Unmarshal([]byte(s), &m)
	return m
}

// JSONStrings decodes a TEXT column holding a JSON array of strings.
func (r Row) JSONStrings(key string) []string {
	s := r.String(key)
	if s == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

// EncodeJSON marshals a metadata bag or label set for storage, defaulting
// to the given fallback literal ("{}" or "[]") on nil input.
func EncodeJSON(v any, fallback string) string {
	if v == nil {
		return fallback
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fallback
	}
	return string(b)
}
