// Package common defines shared constants and sentinel errors used across
// client and server layers of wardsync. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")
	ErrStorage  = errors.New("storage failure")

	// Record validation errors.
	ErrInvalidRecord = errors.New("invalid record")
	ErrValidation    = errors.New("validation error")

	// Optimistic concurrency on the remote authority.
	ErrVersionConflict = errors.New("version conflict")

	// Device token failures on the authority.
	ErrInvalidToken = errors.New("invalid token")
)

// AccessTokenHeaderName is the gRPC metadata key used to carry the device
// access token on outbound requests.
const AccessTokenHeaderName = "access_token"
