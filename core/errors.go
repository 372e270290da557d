package core

import (
	"fmt"
)

// ConfigError represents a configuration-related error with actionable instructions.
type ConfigError struct {
	Code    string // Error code for programmatic handling
	Message string // Human-readable error message
	Action  string // Actionable instruction for resolution
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s. %s", e.Message, e.Action)
	}
	return e.Message
}

// Error codes for configuration errors
const (
	ErrCodeInvalidValue = "INVALID_VALUE"
	ErrCodeMissingAuth  = "MISSING_AUTH"
	ErrCodeInvalidHash  = "INVALID_PASSWORD_HASH"
)

// ErrInvalidValue reports an environment variable with an unusable value.
func ErrInvalidValue(key, value, allowed string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidValue,
		Message: fmt.Sprintf("Invalid %s value '%s'", key, value),
		Action:  fmt.Sprintf("Set %s to %s", key, allowed),
	}
}

// ErrMissingAuth reports missing credentials for a remote service.
func ErrMissingAuth(service, key string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingAuth,
		Message: fmt.Sprintf("Missing authentication credentials for %s", service),
		Action:  fmt.Sprintf("Set %s in your .env file", key),
	}
}

// ErrInvalidPasswordHash reports a WEBUI_PASSWORD_HASH that is not bcrypt.
func ErrInvalidPasswordHash(reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidHash,
		Message: fmt.Sprintf("WEBUI_PASSWORD_HASH is not a bcrypt hash: %s", reason),
		Action:  "Generate one with `fastsd hash-password` or leave it empty to disable authentication",
	}
}
