package masking

import "strings"

const maskToken = "****"

// sensitiveKeys hold personal identifiers that certificate metadata may carry.
var sensitiveKeys = map[string]struct{}{
	"license_number":  {},
	"passport_number": {},
	"national_id":     {},
	"date_of_birth":   {},
	"medical_class":   {},
}

// MaskSecret redacts a value while keeping a minimal suffix for auditing.
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

// MaskSensitive returns a copy of input with sensitive string values masked.
// Nested maps are walked; other keys pass through unchanged.
func MaskSensitive(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		masked[trimmedKey] = maskValue(trimmedKey, value)
	}
	return masked
}

func maskValue(key string, value any) any {
	switch cast := value.(type) {
	case string:
		if isSensitive(key) {
			return MaskSecret(cast)
		}
		return cast
	case map[string]any:
		return MaskSensitive(cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskValue(key, item))
		}
		return out
	default:
		return value
	}
}

func isSensitive(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(key)]
	return ok
}

func splitPrefix(value string) (string, string) {
	lastDash := strings.LastIndexAny(value, "_-")
	if lastDash == -1 || lastDash == len(value)-1 {
		return "", value
	}
	return value[:lastDash+1], value[lastDash+1:]
}
