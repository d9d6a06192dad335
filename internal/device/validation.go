package device

import "fmt"

const (
	maxNameLength = 64

	// Sensor (H) frames carry a four digit address, command (F) frames a
	// six digit one.
	sensorAddressLength  = 4
	commandAddressLength = 6
)

// ValidateDevice checks the fields required before a device is persisted.
func ValidateDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: nil device", ErrInvalidName)
	}
	if d.Name == "" || len(d.Name) > maxNameLength {
		return fmt.Errorf("%w: %q", ErrInvalidName, d.Name)
	}
	return ValidateAddress(d.Address)
}

// ValidateAddress reports whether address is a hex FS20 address: six
// digits for an actuator (house code + device code) or four for a sensor.
func ValidateAddress(address string) error {
	if len(address) != sensorAddressLength && len(address) != commandAddressLength {
		return fmt.Errorf("%w: %q must be %d or %d hex digits",
			ErrInvalidAddress, address, sensorAddressLength, commandAddressLength)
	}
	for _, r := range address {
		if !isHexDigit(r) {
			return fmt.Errorf("%w: %q contains non-hex character %q", ErrInvalidAddress, address, r)
		}
	}
	return nil
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}
