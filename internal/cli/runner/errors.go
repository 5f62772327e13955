// Package runner provides an interceptor-based command execution framework for CLI commands.
// It mirrors the pattern used by Connect-RPC interceptors, providing consistent middleware
// semantics for CLI command handlers.
package runner

import "errors"

// Standard errors returned by interceptors
var (
	// ErrNotInitialized is returned when no configuration has been written yet
	ErrNotInitialized = errors.New("entitlements not initialized - run 'entitlements init' first")

	// ErrNoAPIKey is returned when a command talks to the backend without an API key
	ErrNoAPIKey = errors.New("no API key configured - set api_key or ENTITLEMENTS_API_KEY")

	// ErrOfflineDisabled is returned when a command needs offline entitlements turned on
	ErrOfflineDisabled = errors.New("offline entitlements are disabled - enable offline.enabled in the config")
)
