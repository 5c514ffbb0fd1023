package domain

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Parameters is the opaque input descriptor handed to providers.
type Parameters map[string]any

// String returns the trimmed string value stored at key.
func (p Parameters) String(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// StringOr returns the value at key or fallback when empty.
func (p Parameters) StringOr(key, fallback string) string {
	if v := p.String(key); v != "" {
		return v
	}
	return fallback
}

// Int returns the integer value at key, accepting JSON numbers and numeric strings.
func (p Parameters) Int(key string, fallback int) int {
	if p == nil {
		return fallback
	}
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i)
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return fallback
}

// Float returns the float value at key.
func (p Parameters) Float(key string, fallback float64) float64 {
	if p == nil {
		return fallback
	}
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return fallback
}

// Strings returns a string slice stored at key.
func (p Parameters) Strings(key string) []string {
	if p == nil {
		return nil
	}
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	}
	return nil
}

// Clone copies the top-level map.
func (p Parameters) Clone() Parameters {
	if p == nil {
		return nil
	}
	out := make(Parameters, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
