package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrNotFound) {
//	    // handle not found case
//	}
var (
	// ErrNotFound is returned when a device ID does not exist.
	ErrNotFound = errors.New("device: not found")

	// ErrUnsupportedCapability is returned when a command names a capability
	// the device did not declare at discovery, or a read-only capability.
	ErrUnsupportedCapability = errors.New("device: unsupported capability")

	// ErrUnavailable is returned when a command targets a device currently
	// marked unavailable after sustained poll failures.
	ErrUnavailable = errors.New("device: unavailable")

	// ErrInvalidValue is returned when a command value does not match the
	// capability's expected kind.
	ErrInvalidValue = errors.New("device: invalid value")
)
