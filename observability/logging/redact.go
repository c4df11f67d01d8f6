package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// sensitiveKeys lists log keys whose values must never appear in the clear:
// signing payloads, pairing secrets and signed artifacts.
var sensitiveKeys = map[string]struct{}{
	"data":       {},
	"message":    {},
	"payload":    {},
	"signature":  {},
	"signedtx":   {},
	"symkey":     {},
	"typeddata":  {},
	"privatekey": {},
}

// IsSensitive reports whether values logged under the given key must be
// masked.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	_, ok := sensitiveKeys[normalized]
	return ok
}

// MaskValue returns the redaction placeholder for non-empty values. Empty
// values pass through unchanged to avoid noise in logs.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField returns a slog.Attr with the value masked when the key is
// sensitive. The original key casing is preserved for readability.
func MaskField(key, value string) slog.Attr {
	if !IsSensitive(key) {
		return slog.String(key, value)
	}
	return slog.String(key, MaskValue(value))
}
