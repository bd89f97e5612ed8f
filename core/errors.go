package core

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned for malformed headers, bodies, proofs,
	// oversized payloads and exceeded rate limits
	ErrValidation = errors.New("validation failed")

	// ErrAuthentication is returned for bad or missing signatures, replayed
	// nonces, wallet/body mismatches and shared-secret failures
	ErrAuthentication = errors.New("authentication failed")

	// ErrNotFound is returned when a session key id is unknown
	ErrNotFound = errors.New("not found")

	// ErrPolicyViolation is returned when a request breaches the wallet's
	// spend, scope, program or destination policy
	ErrPolicyViolation = errors.New("policy violation")

	// ErrFeatureDisabled is returned when session key issuance is turned off
	ErrFeatureDisabled = errors.New("feature disabled")

	// ErrStoreOperationFailed is returned when a keyed-store operation fails
	ErrStoreOperationFailed = errors.New("store operation failed")
)

// Validationf wraps ErrValidation with a descriptive message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Authenticationf wraps ErrAuthentication with a descriptive message.
func Authenticationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAuthentication, fmt.Sprintf(format, args...))
}

// PolicyViolationf wraps ErrPolicyViolation with a descriptive message.
func PolicyViolationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPolicyViolation, fmt.Sprintf(format, args...))
}
