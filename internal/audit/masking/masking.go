package masking

import "strings"

const maskToken = "****"

// sensitiveKeys are metadata keys whose values are masked before they are
// written to the audit trail.
var sensitiveKeys = map[string]struct{}{
	"destination":        {},
	"payout_destination": {},
	"customer_id":        {},
	"email":              {},
}

// IsSensitiveKey reports whether values under key are masked in audit
// metadata and log fields.
func IsSensitiveKey(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskSecret redacts a value while keeping the processor prefix and a short
// suffix, e.g. acct_****9xYz.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix, remainder := splitPrefix(trimmed)
	if len(remainder) <= 4 {
		return prefix + maskToken
	}
	return prefix + maskToken + remainder[len(remainder)-4:]
}

// MaskMetadata returns a copy of input with sensitive string values masked.
// Nested maps are walked; other values are kept as-is.
func MaskMetadata(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}

	out := make(map[string]any, len(input))
	for key, value := range input {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		switch cast := value.(type) {
		case map[string]any:
			out[key] = MaskMetadata(cast)
		case string:
			if IsSensitiveKey(key) {
				out[key] = MaskSecret(cast)
				continue
			}
			out[key] = cast
		default:
			out[key] = value
		}
	}
	return out
}

func splitPrefix(value string) (string, string) {
	lastUnderscore := strings.LastIndex(value, "_")
	if lastUnderscore == -1 || lastUnderscore == len(value)-1 {
		return "", value
	}
	return value[:lastUnderscore+1], value[lastUnderscore+1:]
}
