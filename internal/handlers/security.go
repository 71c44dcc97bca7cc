package handlers

import (
	"strings"
)

// SensitiveFieldPatterns are substrings of attribute names whose values
// never leave the service
var SensitiveFieldPatterns = []string{
	"access_token",
	"refresh_token",
	"id_token",
	"client_secret",
	"password",
	"secret",
	"token",
	"api_key",
	"private_key",
	"credential",
}

// FilterSensitiveFields copies data with sensitive values replaced by [REDACTED]
func FilterSensitiveFields(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}

	filtered := make(map[string]interface{}, len(data))
	for key, value := range data {
		if isSensitiveField(key) {
			filtered[key] = "[REDACTED]"
			continue
		}
		filtered[key] = value
	}
	return filtered
}

// isSensitiveField checks if a field name contains sensitive patterns
func isSensitiveField(fieldName string) bool {
	fieldLower := strings.ToLower(fieldName)

	for _, pattern := range SensitiveFieldPatterns {
		if strings.Contains(fieldLower, pattern) {
			return true
		}
	}

	return false
}
