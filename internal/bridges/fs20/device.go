package fs20

// Device is a lightweight handle bound to one registered device.
// It holds no state of its own; LastCommand reads through to the registry.
type Device struct {
	name    string
	address string
	gw      *Gateway
}

// Name returns the device name.
func (d Device) Name() string { return d.name }

// Address returns the FS20 address the device was resolved to.
func (d Device) Address() string { return d.address }

// Send writes command to the device through the gateway.
func (d Device) Send(command string) error {
	if d.gw == nil {
		return ErrNotConnected
	}
	return d.gw.Write(d.name, command)
}

// On switches the device on.
func (d Device) On() error { return d.Send("on") }

// Off switches the device off.
func (d Device) Off() error { return d.Send("off") }

// Toggle toggles the device.
func (d Device) Toggle() error { return d.Send("toggle") }

// Dim sends the dim step nearest to percent; 0 or below switches off.
func (d Device) Dim(percent int) error { return d.Send(DimSymbol(percent)) }

// LastCommand returns the last command sent to or received from the device,
// or "unknown".
func (d Device) LastCommand() string {
	if d.gw == nil {
		return UnknownLastCommand
	}
	info, ok := d.gw.registry.Get(d.name)
	if !ok {
		return UnknownLastCommand
	}
	return info.LastCommand
}

// String returns the last command, so a device prints as its state.
func (d Device) String() string {
	return d.LastCommand()
}
