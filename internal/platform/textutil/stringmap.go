package textutil

import "strings"

// Payment processors cap metadata entries; Stripe allows 40-character keys
// and 500-character values, which is the tightest limit among the rails.
const (
	maxMetadataKeyLen   = 40
	maxMetadataValueLen = 500
)

// NormalizeStringMap trims keys and values and drops entries that would be
// rejected downstream: empty keys, empty values, and oversized keys. Values
// above the processor limit are truncated rather than dropped.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" || len(trimmedKey) > maxMetadataKeyLen {
			continue
		}
		trimmedValue := strings.TrimSpace(value)
		if trimmedValue == "" {
			continue
		}
		if len(trimmedValue) > maxMetadataValueLen {
			trimmedValue = trimmedValue[:maxMetadataValueLen]
		}
		result[trimmedKey] = trimmedValue
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
