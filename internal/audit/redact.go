package audit

import (
	"strings"
)

// RedactionMarker replaces the value of any sensitive field in logged or
// persisted payloads.
const RedactionMarker = "[REDACTED]"

// sensitiveFieldMarkers is matched case-insensitively as a substring of the
// field name. Any match redacts the whole value.
var sensitiveFieldMarkers = []string{
	"password",
	"token",
	"secret",
	"apikey",
	"api_key",
	"credit",
	"ssn",
	"authorization",
	"private_key",
	"access_key",
	"refresh_key",
	"session_id",
}

// isSensitiveField reports whether a field name matches the sensitive list.
func isSensitiveField(name string) bool {
	lower := strings.ToLower(name)
	for _, marker := range sensitiveFieldMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Redact returns a copy of v with the values of sensitive fields replaced by
// RedactionMarker, applied recursively through nested maps and slices.
// The input is never modified.
func Redact(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if isSensitiveField(k) {
				out[k] = RedactionMarker
				continue
			}
			out[k] = Redact(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = Redact(inner)
		}
		return out
	default:
		return v
	}
}
