package logger

import "fmt"

const (
	maskedValue   = "***"
	truncateAbove = 100
	truncateHead  = 50
	truncateTail  = 20
)

// Mask hides a secret completely. Empty values stay empty so a missing
// secret is still visible in logs.
func Mask(s string) string {
	if s == "" {
		return ""
	}
	return maskedValue
}

// Truncate shortens long strings (base64 blobs, page HTML) to a head and tail.
func Truncate(s string) string {
	if len(s) <= truncateAbove {
		return s
	}
	return s[:truncateHead] + "..." + s[len(s)-truncateTail:]
}

// SafePayload returns a shallow copy of payload fit for logging: the secret
// field is masked and every long string is truncated. Nested objects are
// redacted recursively.
func SafePayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if k == "secret" {
			out[k] = Mask(fmt.Sprint(v))
			continue
		}
		out[k] = safeValue(v)
	}
	return out
}

func safeValue(v any) any {
	switch val := v.(type) {
	case string:
		return Truncate(val)
	case map[string]any:
		return SafePayload(val)
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = safeValue(item)
		}
		return items
	default:
		return v
	}
}
