package validation

import (
	"fmt"
	"strings"

	errors "github.com/mistic96/payment-broker/internal"
)

const (
	MaxMetadataKeys     = 20
	MaxMetadataKeyLen   = 64
	MaxMetadataValueLen = 512
)

// injectionPatterns is the denylist checked against metadata string values
// before storage. Values are stored in jsonb and rendered in admin tooling,
// so anything that smells like markup or SQL is refused outright.
var injectionPatterns = []string{
	"<script",
	"javascript:",
	"onerror=",
	"onload=",
	"--",
	";drop ",
	"union select",
	"${",
	"{{",
}

// ValidateMetadata enforces the metadata contract: bounded key count, bounded
// key/value lengths, scalar values only (string, number, bool), and no
// injection-suspect strings. Nested maps and arrays are rejected.
func ValidateMetadata(metadata map[string]interface{}) *errors.AppError {
	if metadata == nil {
		return nil
	}
	if len(metadata) > MaxMetadataKeys {
		return errors.NewValidationError(
			fmt.Sprintf("metadata must not exceed %d keys", MaxMetadataKeys),
			errors.ErrCodeInvalidMetadata)
	}

	for key, value := range metadata {
		if key == "" || len(key) > MaxMetadataKeyLen {
			return errors.NewValidationFieldError("metadata",
				fmt.Sprintf("metadata key %q must be 1-%d characters", key, MaxMetadataKeyLen),
				errors.ErrCodeInvalidMetadata)
		}

		switch v := value.(type) {
		case string:
			if len(v) > MaxMetadataValueLen {
				return errors.NewValidationFieldError("metadata",
					fmt.Sprintf("metadata value for %q exceeds %d characters", key, MaxMetadataValueLen),
					errors.ErrCodeInvalidMetadata)
			}
			if containsInjectionPattern(v) {
				return errors.NewValidationFieldError("metadata",
					fmt.Sprintf("metadata value for %q contains a disallowed pattern", key),
					errors.ErrCodeInvalidMetadata)
			}
		case bool:
		case float64, float32, int, int32, int64, uint, uint32, uint64:
		default:
			return errors.NewValidationFieldError("metadata",
				fmt.Sprintf("metadata value for %q must be a string, number, or bool", key),
				errors.ErrCodeInvalidMetadata)
		}
	}

	return nil
}

func containsInjectionPattern(value string) bool {
	lowered := strings.ToLower(value)
	for _, pattern := range injectionPatterns {
		if strings.Contains(lowered, pattern) {
			return true
		}
	}
	return false
}
