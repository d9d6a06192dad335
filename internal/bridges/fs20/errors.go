package fs20

import "errors"

// Domain errors for the FS20 gateway package.
var (
	// ErrUnknownCommand is returned when a symbolic command is not part of
	// the FS20 command table.
	ErrUnknownCommand = errors.New("fs20: unknown command")

	// ErrUnknownDevice is returned when a device name is not registered.
	ErrUnknownDevice = errors.New("fs20: unknown device")

	// ErrNotConnected is returned when a frame is written before the CUL
	// handshake has completed or after the transport was lost.
	ErrNotConnected = errors.New("fs20: not connected to CUL")

	// ErrTransport is returned when the serial transport reports a failure.
	ErrTransport = errors.New("fs20: transport error")

	// ErrAlreadyOpen is returned when Open is called on a gateway that has
	// already been opened.
	ErrAlreadyOpen = errors.New("fs20: gateway already opened")
)
