package natsbus

import "errors"

var (
	// ErrDisabled indicates NATS forwarding is disabled in config.
	ErrDisabled = errors.New("nats: disabled in configuration")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("nats: connection failed")

	// ErrNotConnected is returned when publishing on a closed or lost connection.
	ErrNotConnected = errors.New("nats: not connected")

	// ErrPublishFailed wraps encode and publish errors.
	ErrPublishFailed = errors.New("nats: publish failed")
)
