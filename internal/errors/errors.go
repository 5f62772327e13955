// Package errors provides sentinel errors for the entitlements engine.
package errors

import "errors"

// Configuration errors
var (
	// ErrNotInitialized is returned when no configuration has been written yet.
	ErrNotInitialized = errors.New("entitlements not initialized")

	// ErrInvalidConfig is returned when a loaded configuration fails validation.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Malformed input errors. These are surfaced to the caller and never retried.
var (
	// ErrSignatureSizeMismatch is returned when a decoded signature blob does not have the
	// exact expected layout.
	ErrSignatureSizeMismatch = errors.New("signature size mismatch")

	// ErrInvalidSignatureEncoding is returned when the signature header is not valid base64.
	ErrInvalidSignatureEncoding = errors.New("invalid signature encoding")

	// ErrInvalidJSON is returned when a payload or persisted document cannot be parsed.
	ErrInvalidJSON = errors.New("invalid JSON")
)

// Trust errors
var (
	// ErrIntermediateKeyVerificationFailed is returned when the root key does not vouch for
	// the intermediate key.
	ErrIntermediateKeyVerificationFailed = errors.New("intermediate key verification failed")

	// ErrIntermediateKeyExpired is returned when the intermediate key expiration date has passed.
	ErrIntermediateKeyExpired = errors.New("intermediate key expired")

	// ErrSignatureVerificationFailed is returned in enforced mode when a response fails
	// verification.
	ErrSignatureVerificationFailed = errors.New("signature verification failed")
)

// Unavailable dependency errors
var (
	// ErrOfflineEntitlementsNotSupported is returned when offline entitlements are requested
	// but not enabled.
	ErrOfflineEntitlementsNotSupported = errors.New("offline entitlements not supported")

	// ErrProductEntitlementMappingRequired is returned when offline resolution runs without a
	// cached product entitlement mapping.
	ErrProductEntitlementMappingRequired = errors.New("product entitlement mapping required for offline entitlements")

	// ErrBackendUnavailable is returned when the backend cannot be reached at all.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrNotFound is returned by stores when a key is absent.
	ErrNotFound = errors.New("not found")
)
