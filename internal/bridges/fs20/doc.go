// Package fs20 drives FS20 home automation devices through a CUL adapter.
//
// A CUL is a USB/serial radio stick running culfw. After the handshake
// ("X21") it reports every FS20 frame it hears as a text line, and it
// transmits any line of the form "F" + address + code.
//
// # Architecture
//
//	┌─────────────┐  MQTT   ┌──────────────┐  serial  ┌─────┐   868 MHz
//	│  Consumers  │◄───────►│   Bridge     │◄────────►│ CUL │◄──────────► FS20
//	└─────────────┘         │   Gateway    │          └─────┘
//	                        └──────────────┘
//
// # Frames
//
// Outbound frames are "F" + 6 hex address digits (4 house code, 2 device)
// + 2 hex command digits + "\n":
//
//	gw.Write("lamp1", "on") // sends "F12340111\n"
//
// Inbound lines starting with 'F' are command frames with a 6-character
// address. Everything else is treated as a sensor frame with a 4-character
// address. The trailing two characters of the payload are a checksum and
// are dropped without verification.
//
// # Commands
//
// The command table maps symbols to codes: off, dim06 ... dim100, on,
// toggle, dimup, dimdown, dimupdown and sendstate. See Commands.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
// Read subscribers run on the gateway's single listen goroutine.
package fs20
