package fs20

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Bridge operation constants.
const (
	// commandTopicParts is graylogic/command/fs20/{device}.
	commandTopicParts = 4

	// sinkTimeout bounds each EventStore call.
	sinkTimeout = 5 * time.Second

	// defaultQueueSize is the event worker's buffer when none is configured.
	defaultQueueSize = 256

	// defaultQoS is used for every publish and subscription.
	defaultQoS byte = 1
)

// Bridge connects a Gateway to MQTT and the optional event sinks.
// It handles:
//   - Receiving commands via MQTT (or Execute) and writing them to the CUL
//   - Publishing every decoded frame as a retained state message
//   - Feeding decoded frames to the store, telemetry and forwarder sinks
//   - Health reporting and graceful shutdown
//
// Sinks run on a single worker goroutine fed by a bounded queue, so the
// gateway's listen loop never waits on them. Events arriving while the
// queue is full are dropped and counted.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	gateway *Gateway
	mqtt    MQTTClient
	health  *HealthReporter
	qos     byte

	store     EventStore      // Optional
	telemetry TelemetryWriter // Optional
	forwarder EventForwarder  // Optional

	events chan queuedEvent

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	// Metrics
	eventsProcessed  atomic.Uint64
	eventsDropped    atomic.Uint64
	commandsAccepted atomic.Uint64
	commandsFailed   atomic.Uint64

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// MQTTClient is the interface for MQTT operations.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
}

// EventStore persists decoded frames and sent commands.
type EventStore interface {
	// StoreEvent records a decoded frame in the event history.
	StoreEvent(ctx context.Context, ev Event) error

	// StoreCommand records the last command of a registered device.
	StoreCommand(ctx context.Context, device, command string) error
}

// TelemetryWriter records decoded frames as time-series points.
// WriteEvent must not block.
type TelemetryWriter interface {
	WriteEvent(ev Event)
}

// EventForwarder republishes decoded frames on another bus.
type EventForwarder interface {
	ForwardEvent(ev Event) error
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Gateway is the CUL gateway. Required.
	Gateway *Gateway

	// MQTTClient is the MQTT client implementation. Required.
	MQTTClient MQTTClient

	// BridgeID names the bridge in health messages. Default: "fs20".
	BridgeID string

	// Version is reported in health messages.
	Version string

	// Port is the serial port reported in health messages.
	Port string

	// HealthInterval is how often health is published. Default: 30s.
	HealthInterval time.Duration

	// QoS for publishes and the command subscription. Default: 1.
	QoS *byte

	// QueueSize bounds the event worker queue. Default: 256.
	QueueSize int

	// Store, Telemetry and Forwarder are optional sinks.
	Store     EventStore
	Telemetry TelemetryWriter
	Forwarder EventForwarder

	// Logger is optional structured logger.
	Logger Logger
}

// BridgeMetrics contains bridge counters.
type BridgeMetrics struct {
	EventsProcessed  uint64 `json:"events_processed"`
	EventsDropped    uint64 `json:"events_dropped"`
	CommandsAccepted uint64 `json:"commands_accepted"`
	CommandsFailed   uint64 `json:"commands_failed"`
}

// CommandError is returned by Execute. Code is one of the ErrCode*
// constants; Err wraps the underlying sentinel.
type CommandError struct {
	Code string
	Err  error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewBridge creates a new bridge instance.
// Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}

	bridgeID := opts.BridgeID
	if bridgeID == "" {
		bridgeID = Protocol
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	qos := defaultQoS
	if opts.QoS != nil {
		qos = *opts.QoS
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		gateway:   opts.Gateway,
		mqtt:      opts.MQTTClient,
		qos:       qos,
		store:     opts.Store,
		telemetry: opts.Telemetry,
		forwarder: opts.Forwarder,
		events:    make(chan queuedEvent, queueSize),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  bridgeID,
		Version:   opts.Version,
		Port:      opts.Port,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Gateway:   opts.Gateway,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to gateway events and MQTT commands, starts the event
// worker and begins health reporting. The gateway may be opened before or
// after Start.
func (b *Bridge) Start(ctx context.Context) error {
	var err error
	b.startOnce.Do(func() {
		err = b.start(ctx)
	})
	return err
}

func (b *Bridge) start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	b.wg.Add(1)
	go b.eventWorker()

	b.gateway.OnRead(b.enqueueEvent)
	b.gateway.OnConnected(func() {
		if err := b.health.PublishNow(); err != nil {
			b.logError("failed to publish healthy status", err)
		}
	})

	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, b.qos, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	b.health.Start(ctx)

	b.logInfo("bridge started", "devices", b.gateway.Registry().Len())
	return nil
}

// Stop gracefully shuts down the bridge. Events still queued are
// processed before Stop returns.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.health.Stop()
		b.wg.Wait()
		b.ctxCancel()
		b.logInfo("bridge stopped")
	})
}

// queuedEvent pairs an event with the device's last command as it was
// when the frame was decoded.
type queuedEvent struct {
	ev          Event
	lastCommand string
}

// enqueueEvent runs on the gateway listen goroutine and must not block.
func (b *Bridge) enqueueEvent(ev Event) {
	select {
	case <-b.done:
		return
	default:
	}

	q := queuedEvent{ev: ev, lastCommand: ev.Command}
	if info, ok := b.gateway.Registry().Get(ev.Device); ok {
		q.lastCommand = info.LastCommand
	}

	select {
	case b.events <- q:
	default:
		dropped := b.eventsDropped.Add(1)
		b.logWarn("event queue full, dropping event",
			"device", ev.Device,
			"command", ev.Command,
			"dropped_total", dropped)
	}
}

// eventWorker processes queued events in arrival order.
func (b *Bridge) eventWorker() {
	defer b.wg.Done()

	for {
		select {
		case q := <-b.events:
			b.processEvent(q.ev, q.lastCommand)
		case <-b.done:
			// Drain what is already queued
			for {
				select {
				case q := <-b.events:
					b.processEvent(q.ev, q.lastCommand)
				default:
					return
				}
			}
		}
	}
}

// processEvent publishes state and feeds the sinks for one event.
func (b *Bridge) processEvent(ev Event, lastCommand string) {
	b.publishJSON(StateTopic(ev.Device), NewEventStateMessage(ev, lastCommand), true)

	if b.store != nil {
		ctx, cancel := context.WithTimeout(b.ctx, sinkTimeout)
		if err := b.store.StoreEvent(ctx, ev); err != nil {
			b.logError("failed to store event", err)
		}
		cancel()
	}

	if b.telemetry != nil {
		b.telemetry.WriteEvent(ev)
	}

	if b.forwarder != nil {
		if err := b.forwarder.ForwardEvent(ev); err != nil {
			b.logError("failed to forward event", err)
		}
	}

	b.eventsProcessed.Add(1)
}

// handleMQTTMessage handles graylogic/command/fs20/{device}.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) != commandTopicParts || parts[1] != "command" {
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = DecodeTopicName(parts[3])
	}
	if cmd.Source == "" {
		cmd.Source = "mqtt"
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command)

	// Errors are reported through the ack.
	_, _ = b.Execute(b.ctx, cmd)
}

// Execute sends cmd to the CUL and publishes its acknowledgment.
//
// The command is either a symbol from the command table or "dim" with a
// "level" parameter (0-100). On success the device's last command is
// stored and a state message is published.
//
// Returns:
//   - AckMessage: The acknowledgment that was published
//   - error: *CommandError wrapping ErrUnknownDevice, ErrUnknownCommand,
//     ErrNotConnected or ErrTransport
func (b *Bridge) Execute(ctx context.Context, cmd CommandMessage) (AckMessage, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.New().String()
	}
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now().UTC()
	}

	address, err := b.gateway.Registry().ResolveByName(cmd.DeviceID)
	if err != nil {
		return b.fail(cmd, "", ErrCodeNotConfigured, err)
	}

	command := cmd.Command
	if command == "dim" {
		level, ok := cmd.Level()
		if !ok {
			return b.fail(cmd, address, ErrCodeInvalidParameters,
				fmt.Errorf("%w: dim requires a level parameter", ErrUnknownCommand))
		}
		command = DimSymbol(level)
	}

	if err := b.gateway.Write(cmd.DeviceID, command); err != nil {
		return b.fail(cmd, address, errorCode(err), err)
	}

	b.commandsAccepted.Add(1)

	if b.store != nil {
		storeCtx, cancel := context.WithTimeout(ctx, sinkTimeout)
		if err := b.store.StoreCommand(storeCtx, cmd.DeviceID, command); err != nil {
			b.logError("failed to store command", err)
		}
		cancel()
	}

	ack := NewAckMessage(cmd, AckAccepted, address, command)
	b.publishJSON(AckTopic(cmd.DeviceID), ack, false)
	b.publishJSON(StateTopic(cmd.DeviceID), NewCommandStateMessage(cmd.DeviceID, address, command), true)

	return ack, nil
}

// fail publishes a failed ack and returns it with a *CommandError.
func (b *Bridge) fail(cmd CommandMessage, address, code string, err error) (AckMessage, error) {
	b.commandsFailed.Add(1)

	ack := NewAckError(cmd, address, code, err.Error())
	b.publishJSON(AckTopic(cmd.DeviceID), ack, false)

	b.logError("command failed", err,
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"code", code)

	return ack, &CommandError{Code: code, Err: err}
}

// errorCode maps gateway errors to ack error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownDevice):
		return ErrCodeNotConfigured
	case errors.Is(err, ErrUnknownCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrNotConnected):
		return ErrCodeDeviceUnreachable
	case errors.Is(err, ErrTransport):
		return ErrCodeProtocolError
	default:
		return ErrCodeBridgeError
	}
}

func (b *Bridge) publishJSON(topic string, msg any, retained bool) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal message", err, "topic", topic)
		return
	}
	if err := b.mqtt.Publish(topic, payload, b.qos, retained); err != nil {
		b.logError("failed to publish", err, "topic", topic)
	}
}

// Health returns the bridge's health reporter, for wiring the MQTT LWT.
func (b *Bridge) Health() *HealthReporter {
	return b.health
}

// GetMetrics returns current bridge counters.
func (b *Bridge) GetMetrics() BridgeMetrics {
	return BridgeMetrics{
		EventsProcessed:  b.eventsProcessed.Load(),
		EventsDropped:    b.eventsDropped.Load(),
		CommandsAccepted: b.commandsAccepted.Load(),
		CommandsFailed:   b.commandsFailed.Load(),
	}
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
