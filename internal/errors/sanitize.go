package errors

import (
	"regexp"
)

// Patterns that should be redacted from client-facing error messages
var sensitivePatterns = []*regexp.Regexp{
	// File paths
	regexp.MustCompile(`(?i)(/home/[^\s:]+|/Users/[^\s:]+|/root/[^\s:]+|/var/[^\s:]+)`),

	// API keys and bearer tokens
	regexp.MustCompile(`(?i)(api[_-]?key|token|bearer|authorization)[=: ]["']?[^\s"'&]+`),

	// Public SDK keys
	regexp.MustCompile(`\b(goog|amzn|appl|sk|rcb)_[A-Za-z0-9]{8,}\b`),

	// Long base64 or hex blobs such as purchase tokens and signatures
	regexp.MustCompile(`[A-Za-z0-9+/_\-]{40,}={0,2}`),

	// Email addresses
	regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
}

// SanitizeError removes sensitive information from error messages
// for display to clients. Internal logging should use the original error.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error())
}

// SanitizeString removes sensitive information from a string
func SanitizeString(s string) string {
	result := s
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, "[REDACTED]")
	}
	return result
}

// SafeError wraps an error with a sanitized message for client-facing use
// while preserving the original error for internal logging
type SafeError struct {
	Original error
	Message  string
}

func (e *SafeError) Error() string {
	return e.Message
}

func (e *SafeError) Unwrap() error {
	return e.Original
}

// NewSafeError creates a client-safe error from an internal error
func NewSafeError(err error) *SafeError {
	if err == nil {
		return nil
	}
	return &SafeError{
		Original: err,
		Message:  SanitizeString(err.Error()),
	}
}
