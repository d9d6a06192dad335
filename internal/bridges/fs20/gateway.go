package fs20

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// HandshakeCommand switches culfw into FS20 report mode ("X21").
const HandshakeCommand = "X21\n"

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// ConnectionState is the lifecycle state of the gateway.
type ConnectionState int32

const (
	// StateDisconnected is the initial state, and the state after the
	// transport is lost or closed.
	StateDisconnected ConnectionState = iota

	// StateHandshakeSent means the transport is open and the handshake has
	// been issued but not confirmed. A failed handshake leaves the gateway
	// here.
	StateHandshakeSent

	// StateConnected means the handshake succeeded and commands are accepted.
	StateConnected
)

// String returns the state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshakeSent:
		return "handshake_sent"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Stats holds operational statistics.
type Stats struct {
	FramesRx     uint64
	FramesTx     uint64
	ErrorsTotal  uint64
	LastActivity time.Time
	State        ConnectionState
	Connected    bool
	Devices      int
}

// GatewayConfig holds gateway construction options.
type GatewayConfig struct {
	// Transport is the channel to the CUL. Required.
	Transport Transport

	// Registry is the device registry. A new one is created if nil.
	Registry *Registry

	// Handshake overrides the command sent after the transport opens.
	// Default: "X21\n".
	Handshake string

	// Logger is optional.
	Logger Logger
}

// Gateway owns the connection to a CUL adapter.
//
// It opens the transport, sends the handshake, decodes every received
// line into an Event and writes encoded command frames. Subscribers are
// notified through OnConnected and OnRead.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Read subscribers run on the single listen goroutine, one line at a
//     time in arrival order. They must not block.
//   - There is no reconnect: once the transport fails the gateway stays
//     disconnected until the process restarts.
type Gateway struct {
	transport Transport
	registry  *Registry
	codec     *Codec
	handshake string

	state   atomic.Int32
	opened  atomic.Bool
	writeMu sync.Mutex

	// Subscribers, called in registration order
	subMu         sync.RWMutex
	onConnected   []func()
	onRead        []func(Event)
	connectedOnce sync.Once

	// Shutdown coordination (closeOnce prevents double-close panics)
	done *closeOnce
	wg   sync.WaitGroup

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	framesRx     atomic.Uint64
	framesTx     atomic.Uint64
	errorsTotal  atomic.Uint64
	lastActivity atomic.Int64 // Unix timestamp
}

// NewGateway creates a gateway in the Disconnected state.
// Call Open to start talking to the adapter.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	handshake := cfg.Handshake
	if handshake == "" {
		handshake = HandshakeCommand
	}

	g := &Gateway{
		transport: cfg.Transport,
		registry:  registry,
		codec:     NewCodec(registry),
		handshake: handshake,
		done:      newCloseOnce(),
		logger:    cfg.Logger,
	}
	g.state.Store(int32(StateDisconnected))
	return g, nil
}

// Open opens the transport, starts the listen loop and sends the handshake.
//
// The listen loop is running before the handshake is written, so frames
// received during the handshake are delivered to OnRead subscribers.
//
// A handshake write failure is logged and returned wrapped in ErrTransport.
// The gateway then stays in StateHandshakeSent and rejects writes; it does
// not retry.
//
// Parameters:
//   - ctx: Checked before the transport is opened
//
// Returns:
//   - error: ErrAlreadyOpen, a context error, or ErrTransport
func (g *Gateway) Open(ctx context.Context) error {
	if !g.opened.CompareAndSwap(false, true) {
		return ErrAlreadyOpen
	}

	g.logInfo("starting CUL FS20")

	if err := ctx.Err(); err != nil {
		g.opened.Store(false)
		return fmt.Errorf("open cancelled: %w", err)
	}

	if err := g.transport.Open(); err != nil {
		g.opened.Store(false)
		g.errorsTotal.Add(1)
		g.logError("opening transport failed", err)
		return fmt.Errorf("%w: open: %w", ErrTransport, err)
	}
	g.logInfo("connection to CUL opened")
	g.lastActivity.Store(time.Now().Unix())

	g.wg.Add(1)
	go g.listenLoop()

	g.setState(StateHandshakeSent)

	g.writeMu.Lock()
	_, err := g.transport.Write([]byte(g.handshake))
	g.writeMu.Unlock()
	if err != nil {
		g.errorsTotal.Add(1)
		g.logError("handshake failed", err)
		return fmt.Errorf("%w: handshake: %w", ErrTransport, err)
	}

	// The listen loop may have lost the transport in the meantime.
	if !g.state.CompareAndSwap(int32(StateHandshakeSent), int32(StateConnected)) {
		return fmt.Errorf("%w: transport lost during handshake", ErrNotConnected)
	}
	g.logInfo("listening to FS20 commands", "handshake", strings.TrimSpace(g.handshake))
	g.emitConnected()

	return nil
}

// listenLoop reads lines until the transport fails or the gateway closes.
func (g *Gateway) listenLoop() {
	defer g.wg.Done()

	for {
		line, err := g.transport.ReadLine()
		if err != nil {
			if g.isClosed() {
				return // Clean shutdown
			}
			g.errorsTotal.Add(1)
			g.logError("transport read failed, gateway disconnected", err)
			g.setState(StateDisconnected)
			return
		}

		select {
		case <-g.done.Done():
			return
		default:
		}

		g.handleLine(line)
	}
}

// handleLine decodes one line and notifies read subscribers.
func (g *Gateway) handleLine(line string) {
	if line == "" {
		g.logDebug("ignoring empty line")
		return
	}

	g.framesRx.Add(1)
	g.lastActivity.Store(time.Now().Unix())

	event := g.codec.Decode(line)
	g.logInfo("received",
		"prefix", event.PrefixByte,
		"device", event.Device,
		"command", event.Command,
		"full", event.Display)

	g.emitRead(event)
}

// Write sends command to the device identified by identifier.
//
// Identifier is a registered device name or a literal FS20 address. On
// success the device's last command is updated when the address belongs
// to a registered device.
//
// Write never panics. Every failure is logged and also returned:
//   - ErrNotConnected if the handshake has not completed (nothing is sent)
//   - ErrUnknownCommand if command is not in the command table (nothing is sent)
//   - ErrTransport if the serial write fails
func (g *Gateway) Write(identifier, command string) error {
	if g.State() != StateConnected {
		g.logError("CUL not connected", ErrNotConnected,
			"device", identifier,
			"command", command)
		return fmt.Errorf("%w: cannot send %s to %s", ErrNotConnected, command, identifier)
	}

	frame, err := g.codec.EncodeFrame(identifier, command)
	if err != nil {
		g.logError("command unknown", err,
			"device", identifier,
			"command", command)
		return err
	}

	g.writeMu.Lock()
	_, err = g.transport.Write([]byte(frame.Frame))
	g.writeMu.Unlock()
	if err != nil {
		g.errorsTotal.Add(1)
		g.logError("write failed", err,
			"device", identifier,
			"command", command)
		return fmt.Errorf("%w: write: %w", ErrTransport, err)
	}

	g.framesTx.Add(1)
	g.lastActivity.Store(time.Now().Unix())

	if frame.Device != "" {
		g.registry.RecordLastCommand(frame.Device, command)
	}

	g.logInfo("sent",
		"device", identifier,
		"command", command,
		"frame", strings.TrimSpace(frame.Frame))
	return nil
}

// RegisterDevices registers every name -> address pair and returns the
// resulting registry contents. Names are registered in sorted order so
// address collisions resolve deterministically.
func (g *Gateway) RegisterDevices(devices map[string]string) []DeviceInfo {
	names := make([]string, 0, len(devices))
	for name := range devices {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		g.registry.Register(name, devices[name])
	}
	if len(names) > 0 {
		g.logInfo("registered devices", "count", len(names))
	}
	return g.registry.List()
}

// Device returns a handle for a registered device.
func (g *Gateway) Device(name string) (Device, error) {
	address, err := g.registry.ResolveByName(name)
	if err != nil {
		return Device{}, err
	}
	return Device{name: name, address: address, gw: g}, nil
}

// Registry returns the gateway's device registry.
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// OnConnected subscribes fn to the connected signal.
// The signal fires at most once, after the handshake succeeds.
func (g *Gateway) OnConnected(fn func()) {
	if fn == nil {
		return
	}
	g.subMu.Lock()
	g.onConnected = append(g.onConnected, fn)
	g.subMu.Unlock()
}

// OnRead subscribes fn to decoded events.
func (g *Gateway) OnRead(fn func(Event)) {
	if fn == nil {
		return
	}
	g.subMu.Lock()
	g.onRead = append(g.onRead, fn)
	g.subMu.Unlock()
}

// emitConnected notifies connected subscribers exactly once.
func (g *Gateway) emitConnected() {
	g.connectedOnce.Do(func() {
		g.subMu.RLock()
		subs := append([]func(){}, g.onConnected...)
		g.subMu.RUnlock()

		for _, fn := range subs {
			g.safeCall("connected", func() { fn() })
		}
	})
}

// emitRead notifies read subscribers in registration order.
func (g *Gateway) emitRead(event Event) {
	g.subMu.RLock()
	subs := append([]func(Event){}, g.onRead...)
	g.subMu.RUnlock()

	for _, fn := range subs {
		g.safeCall("read", func() { fn(event) })
	}
}

// safeCall runs a subscriber, recovering panics so the listen loop survives.
func (g *Gateway) safeCall(signal string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			g.errorsTotal.Add(1)
			g.logError("subscriber panic", fmt.Errorf("%v", r), "signal", signal)
		}
	}()
	fn()
}

// State returns the current connection state.
func (g *Gateway) State() ConnectionState {
	return ConnectionState(g.state.Load())
}

// setState records a state transition.
func (g *Gateway) setState(s ConnectionState) {
	old := ConnectionState(g.state.Swap(int32(s)))
	if old != s {
		g.logDebug("state changed", "from", old.String(), "to", s.String())
	}
}

// IsConnected returns true once the handshake has succeeded and the
// transport is still up.
func (g *Gateway) IsConnected() bool {
	return g.State() == StateConnected
}

// Stats returns current operational statistics.
func (g *Gateway) Stats() Stats {
	state := g.State()
	return Stats{
		FramesRx:     g.framesRx.Load(),
		FramesTx:     g.framesTx.Load(),
		ErrorsTotal:  g.errorsTotal.Load(),
		LastActivity: time.Unix(g.lastActivity.Load(), 0),
		State:        state,
		Connected:    state == StateConnected,
		Devices:      g.registry.Len(),
	}
}

// HealthCheck returns ErrNotConnected unless the gateway is connected.
func (g *Gateway) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("fs20 health check: %w", err)
	}
	if !g.IsConnected() {
		return fmt.Errorf("%w: state %s", ErrNotConnected, g.State())
	}
	return nil
}

// Close stops the listen loop and closes the transport.
// Safe to call multiple times.
func (g *Gateway) Close() error {
	alreadyClosed := g.isClosed()
	g.done.Close()
	g.setState(StateDisconnected)

	var err error
	if !alreadyClosed {
		if closeErr := g.transport.Close(); closeErr != nil {
			err = fmt.Errorf("%w: close: %w", ErrTransport, closeErr)
		}
	}

	g.wg.Wait()

	if !alreadyClosed {
		g.logInfo("connection to CUL closed")
	}
	return err
}

// isClosed returns true if Close has been called.
func (g *Gateway) isClosed() bool {
	select {
	case <-g.done.Done():
		return true
	default:
		return false
	}
}

// SetLogger sets the logger for this gateway.
func (g *Gateway) SetLogger(logger Logger) {
	g.loggerMu.Lock()
	g.logger = logger
	g.loggerMu.Unlock()
}

func (g *Gateway) getLogger() Logger {
	g.loggerMu.RLock()
	defer g.loggerMu.RUnlock()
	return g.logger
}

// logDebug logs a debug message if logger is set.
func (g *Gateway) logDebug(msg string, keysAndValues ...any) {
	if logger := g.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if logger is set.
func (g *Gateway) logInfo(msg string, keysAndValues ...any) {
	if logger := g.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error with optional context if logger is set.
func (g *Gateway) logError(msg string, err error, keysAndValues ...any) {
	if logger := g.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
