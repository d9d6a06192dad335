package fs20

import (
	"fmt"
	"sort"
	"sync"
)

// UnknownLastCommand is the last command of a device nothing has been
// sent to or received from yet.
const UnknownLastCommand = "unknown"

// DeviceInfo is a snapshot of a registered device.
type DeviceInfo struct {
	Name        string `json:"name"`
	Address     string `json:"address"`
	LastCommand string `json:"last_command"`
}

// Registry maps logical device names to FS20 addresses and tracks the last
// command seen for each device.
//
// The reverse index (address -> name) is kept in step with every Register
// call. When two names share an address the most recent registration owns
// the reverse entry.
//
// Thread Safety: All methods are safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	devices   map[string]*DeviceInfo
	byAddress map[string]string
}

// NewRegistry creates an empty device registry.
func NewRegistry() *Registry {
	return &Registry{
		devices:   make(map[string]*DeviceInfo),
		byAddress: make(map[string]string),
	}
}

// Register inserts or overwrites the device called name.
// A re-registered device starts again with an unknown last command.
func (r *Registry) Register(name, address string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.releaseLocked(name)

	r.devices[name] = &DeviceInfo{
		Name:        name,
		Address:     address,
		LastCommand: UnknownLastCommand,
	}
	r.byAddress[address] = name
}

// Unregister removes the device called name. It reports whether the
// device was registered.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[name]; !ok {
		return false
	}
	r.releaseLocked(name)
	delete(r.devices, name)
	return true
}

// releaseLocked drops name's reverse entry. Caller holds r.mu.
func (r *Registry) releaseLocked(name string) {
	old, ok := r.devices[name]
	if !ok || r.byAddress[old.Address] != name {
		return
	}
	delete(r.byAddress, old.Address)
	// Another device may still carry the freed address.
	for otherName, other := range r.devices {
		if otherName != name && other.Address == old.Address {
			r.byAddress[old.Address] = otherName
		}
	}
}

// ResolveByName returns the address of a registered device.
func (r *Registry) ResolveByName(name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dev, ok := r.devices[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDevice, name)
	}
	return dev.Address, nil
}

// ResolveByAddress returns the name bound to address, if any.
func (r *Registry) ResolveByAddress(address string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.byAddress[address]
	return name, ok
}

// RecordLastCommand stores command as the last command of name.
// Unknown names are ignored.
func (r *Registry) RecordLastCommand(name, command string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if dev, ok := r.devices[name]; ok {
		dev.LastCommand = command
	}
}

// Get returns a snapshot of a single device.
func (r *Registry) Get(name string) (DeviceInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dev, ok := r.devices[name]
	if !ok {
		return DeviceInfo{}, false
	}
	return *dev, true
}

// List returns a snapshot of all devices sorted by name.
func (r *Registry) List() []DeviceInfo {
	r.mu.RLock()
	out := make([]DeviceInfo, 0, len(r.devices))
	for _, dev := range r.devices {
		out = append(out, *dev)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}
