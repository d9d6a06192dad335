package fs20

import (
	"fmt"
	"strings"
	"time"
)

// Frame layout constants.
const (
	// PrefixCommand marks FS20 switching frames (on, dim50, toggle...).
	PrefixCommand = 'F'

	// commandAddressLen is the housecode (4 hex) plus device byte (2 hex).
	commandAddressLen = 6

	// sensorAddressLen is the address length of non-F frames (H, ...).
	sensorAddressLen = 4

	// checksumLen is the number of trailing payload characters the CUL
	// appends as checksum. They are dropped without verification.
	checksumLen = 2
)

// PrefixClass categorises an inbound frame by its first byte.
type PrefixClass int

const (
	// PrefixClassCommand is an FS20 switching frame ('F').
	PrefixClassCommand PrefixClass = iota
	// PrefixClassSensor is any other frame, e.g. 'H' temperature/humidity reports.
	PrefixClassSensor
)

// String returns "command" or "sensor".
func (p PrefixClass) String() string {
	if p == PrefixClassCommand {
		return "command"
	}
	return "sensor"
}

// Event is a decoded inbound frame.
type Event struct {
	// Prefix is the frame class derived from PrefixByte.
	Prefix PrefixClass `json:"-"`

	// PrefixByte is the raw first character of the frame ("F", "H", ...).
	PrefixByte string `json:"prefix"`

	// Device is the registered device name, or the raw address when the
	// address is not registered.
	Device string `json:"device"`

	// Address is the raw address field of the frame.
	Address string `json:"address"`

	// Command is the resolved symbol for known F-frame codes, otherwise the
	// raw payload with the checksum removed.
	Command string `json:"command"`

	// Display is Device + " " + Command.
	Display string `json:"full"`

	// Raw is the received line as delivered by the transport.
	Raw string `json:"raw"`

	// ReceivedAt is when the line was decoded.
	ReceivedAt time.Time `json:"received_at"`
}

// IsCommand reports whether the event came from an F frame.
func (e Event) IsCommand() bool {
	return e.Prefix == PrefixClassCommand
}

// OutboundFrame is a single encoded write to the CUL.
type OutboundFrame struct {
	// Device is the registered name, empty when a literal address was used.
	Device  string
	Address string
	Command string
	Code    string
	// Frame is the exact string written to the transport.
	Frame string
}

// Codec translates between CUL text frames and Events.
// It resolves addresses through the registry it was created with.
type Codec struct {
	registry *Registry
	now      func() time.Time
}

// NewCodec creates a codec bound to registry.
func NewCodec(registry *Registry) *Codec {
	return &Codec{registry: registry, now: time.Now}
}

// Decode turns one received line into an Event.
//
// Decoding never fails: traffic from foreign transmitters on the shared
// channel is expected, so short or malformed lines produce a partially raw
// Event rather than an error. When the address belongs to a registered
// device its last command is updated.
//
// Frame format:
//
//	F 123401 11 00      F + 6 char address + code + 2 char checksum
//	H 1234   ...  cc    other prefix + 4 char address + payload + checksum
//
// The checksum is truncated, not verified. A corrupted frame can therefore
// decode as the wrong command.
func (c *Codec) Decode(line string) Event {
	var prefix string
	if len(line) > 0 {
		prefix = line[:1]
	}

	class := PrefixClassSensor
	addrLen := sensorAddressLen
	if len(prefix) == 1 && prefix[0] == PrefixCommand {
		class = PrefixClassCommand
		addrLen = commandAddressLen
	}

	address := substr(line, 1, addrLen)
	payload := stripNonAlphanumeric(substr(line, 1+addrLen, len(line)))

	command := ""
	if len(payload) > checksumLen {
		command = payload[:len(payload)-checksumLen]
	}

	if class == PrefixClassCommand {
		command = SymbolOf(command)
	}

	device := address
	if name, ok := c.registry.ResolveByAddress(address); ok {
		device = name
		c.registry.RecordLastCommand(name, command)
	}

	return Event{
		Prefix:     class,
		PrefixByte: prefix,
		Device:     device,
		Address:    address,
		Command:    command,
		Display:    device + " " + command,
		Raw:        line,
		ReceivedAt: c.now(),
	}
}

// Encode builds the outbound frame for identifier and command.
// Identifier is a registered device name or a literal FS20 address.
func (c *Codec) Encode(identifier, command string) (string, error) {
	f, err := c.EncodeFrame(identifier, command)
	if err != nil {
		return "", err
	}
	return f.Frame, nil
}

// EncodeFrame is like Encode but also reports which device was addressed.
func (c *Codec) EncodeFrame(identifier, command string) (OutboundFrame, error) {
	code, err := CodeOf(command)
	if err != nil {
		return OutboundFrame{}, err
	}

	f := OutboundFrame{Address: identifier, Command: command, Code: code}
	if address, err := c.registry.ResolveByName(identifier); err == nil {
		f.Device = identifier
		f.Address = address
	} else if name, ok := c.registry.ResolveByAddress(identifier); ok {
		f.Device = name
	}

	f.Frame = fmt.Sprintf("%c%s%s\n", PrefixCommand, f.Address, code)
	return f, nil
}

// substr returns s[start:start+n] clamped to the bounds of s.
func substr(s string, start, n int) string {
	if start >= len(s) {
		return ""
	}
	end := start + n
	if end > len(s) || end < start {
		end = len(s)
	}
	return s[start:end]
}

func stripNonAlphanumeric(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			return r
		default:
			return -1
		}
	}, s)
}
