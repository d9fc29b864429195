// Package redact masks secret material in log records and error envelopes.
//
// Masking is keyword-based: any key whose lowercase form contains one of
// the sensitive keywords has its value replaced wholesale. Values are never
// partially revealed.
package redact

import (
	"strings"
)

// Mask is the replacement for any redacted value.
const Mask = "***REDACTED***"

var sensitiveKeywords = []string{
	"password",
	"token",
	"secret",
	"key",
	"auth",
	"credential",
	"api_key",
}

// SensitiveKey reports whether a map key or attribute name should be masked.
func SensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Map returns a copy of m with sensitive values masked. Nested maps and
// slices of maps are masked recursively. The input map is not mutated.
func Map(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if SensitiveKey(k) {
			out[k] = Mask
			continue
		}
		out[k] = value(v)
	}
	return out
}

func value(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Map(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = value(item)
		}
		return out
	default:
		return v
	}
}

// String masks a whole string value when its associated key is sensitive.
// Provided for callers that hold key/value pairs outside a map.
func String(key, val string) string {
	if SensitiveKey(key) {
		return Mask
	}
	return val
}
