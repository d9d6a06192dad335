package device

import "time"

// UnknownLastCommand is stored for devices that have not been switched yet.
const UnknownLastCommand = "unknown"

// Device is a persisted FS20 device.
type Device struct {
	Name        string    `json:"name"`
	Address     string    `json:"address"`
	LastCommand string    `json:"last_command"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Event is one decoded inbound frame.
type Event struct {
	ID         string    `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
	Prefix     string    `json:"prefix"`
	Device     string    `json:"device,omitempty"`
	Address    string    `json:"address"`
	Command    string    `json:"command"`
	Raw        string    `json:"raw"`
}

// EventFilter narrows ListEvents. Zero values mean "no filter"; Limit is
// clamped to [1, MaxEventLimit] with DefaultEventLimit when unset.
type EventFilter struct {
	Device string
	Since  time.Time
	Limit  int
}

const (
	DefaultEventLimit = 50
	MaxEventLimit     = 500
)
