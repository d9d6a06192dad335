package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device name does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidName is returned when a device name is empty or too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidAddress is returned when an address is not four or six hex digits.
	ErrInvalidAddress = errors.New("device: invalid address")

	// ErrInvalidEvent is returned when an event lacks required fields.
	ErrInvalidEvent = errors.New("device: invalid event")
)
