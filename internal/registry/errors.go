package registry

import "errors"

// Domain-specific errors for registry lookups.
var (
	// ErrDeviceNotFound is returned when the registry answers 404.
	ErrDeviceNotFound = errors.New("registry: device not found")

	// ErrRequestFailed is returned when the request cannot be made or the
	// registry answers with an unexpected status.
	ErrRequestFailed = errors.New("registry: request failed")

	// ErrInvalidDevice is returned when a descriptor cannot be decoded or
	// fails validation.
	ErrInvalidDevice = errors.New("registry: invalid device descriptor")

	// ErrNoControlEndpoint is returned when a device advertises no IS-12
	// control.
	ErrNoControlEndpoint = errors.New("registry: device has no NCP control endpoint")
)
