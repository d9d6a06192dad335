package fs20

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MQTT message types exchanged between the FS20 bridge and its consumers.

// Protocol is the protocol identifier carried in every message.
const Protocol = "fs20"

// CommandMessage asks the bridge to send a command to a device.
// Topic: graylogic/command/fs20/{device}
type CommandMessage struct {
	// ID correlates the command with its acknowledgment.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the registered device name. If empty, the name is taken
	// from the topic.
	DeviceID string `json:"device_id"`

	// Command is a command symbol ("on", "off", "dim50", ...) or "dim".
	Command string `json:"command"`

	// Parameters carries command-specific values.
	// "dim" requires {"level": 0-100}.
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated ("api", "mqtt", ...).
	Source string `json:"source"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the frame was written to the CUL.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be sent.
	AckFailed AckStatus = "failed"
)

// AckMessage acknowledges a command.
// Topic: graylogic/ack/fs20/{device}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`

	// Address is the FS20 address the frame was sent to.
	Address string `json:"address,omitempty"`

	// Command is the resolved command symbol.
	Command string `json:"command,omitempty"`

	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage reports a decoded frame or a sent command.
// Topic: graylogic/state/fs20/{device}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`

	// State is {"command": ..., "last_command": ...}.
	State map[string]any `json:"state"`

	Protocol string `json:"protocol"`
	Address  string `json:"address"`

	// Prefix is the frame prefix ("F", "H", ...). Empty for sent commands.
	Prefix string `json:"prefix,omitempty"`

	// Raw is the received line. Empty for sent commands.
	Raw string `json:"raw,omitempty"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline is published by the broker from the LWT.
	HealthOffline HealthStatus = "offline"

	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge status.
// Topic: graylogic/health/fs20
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge         string            `json:"bridge"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         HealthStatus      `json:"status"`
	Version        string            `json:"version"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	Connection     *ConnectionStatus `json:"connection,omitempty"`
	Statistics     *BridgeStatistics `json:"statistics,omitempty"`
	DevicesManaged int               `json:"devices_managed"`
	Reason         string            `json:"reason,omitempty"`
}

// ConnectionStatus describes the CUL connection.
type ConnectionStatus struct {
	// Status is the gateway state ("connected", "handshake_sent", "disconnected").
	Status string `json:"status"`

	// Port is the serial device path.
	Port string `json:"port,omitempty"`

	// LastActivity is the time of the last frame in either direction.
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	FramesReceived uint64 `json:"frames_received"`
	FramesSent     uint64 `json:"frames_sent"`
	Errors         uint64 `json:"errors"`
}

// MarshalJSON marshals a CommandMessage with an RFC3339 timestamp.
func (m *CommandMessage) MarshalJSON() ([]byte, error) {
	type Alias CommandMessage
	return json.Marshal(&struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias:     (*Alias)(m),
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
	})
}

// UnmarshalJSON unmarshals a CommandMessage. A missing timestamp is allowed.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// Level extracts parameters.level as an int.
func (m CommandMessage) Level() (int, bool) {
	raw, ok := m.Parameters["level"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return clampLevel(v), true
	case int:
		return clampLevel(float64(v)), true
	case int64:
		return clampLevel(float64(v)), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return clampLevel(f), true
	default:
		return 0, false
	}
}

// clampLevel converts a dim level to an int in [0, 100].
func clampLevel(v float64) int {
	if !(v > 0) {
		return 0
	}
	if v >= 100 {
		return 100
	}
	return int(v)
}

// NewAckMessage creates an acknowledgment for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus, address, command string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  Protocol,
		Address:   address,
		Command:   command,
	}
}

// NewAckError creates a failed acknowledgment with error details.
func NewAckError(cmd CommandMessage, address, code, message string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    AckFailed,
		Protocol:  Protocol,
		Address:   address,
		Error: &AckError{
			Code:    code,
			Message: message,
		},
	}
}

// NewEventStateMessage creates a state message from a decoded frame.
func NewEventStateMessage(ev Event, lastCommand string) StateMessage {
	ts := ev.ReceivedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return StateMessage{
		DeviceID:  ev.Device,
		Timestamp: ts.UTC(),
		State: map[string]any{
			"command":      ev.Command,
			"last_command": lastCommand,
		},
		Protocol: Protocol,
		Address:  ev.Address,
		Prefix:   ev.PrefixByte,
		Raw:      ev.Raw,
	}
}

// NewCommandStateMessage creates a state message for a command that was sent.
func NewCommandStateMessage(device, address, command string) StateMessage {
	return StateMessage{
		DeviceID:  device,
		Timestamp: time.Now().UTC(),
		State: map[string]any{
			"command":      command,
			"last_command": command,
		},
		Protocol: Protocol,
		Address:  address,
	}
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(bridgeID, version, port string, status HealthStatus, stats Stats, startTime time.Time) HealthMessage {
	msg := HealthMessage{
		Bridge:         bridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		DevicesManaged: stats.Devices,
		Connection: &ConnectionStatus{
			Status: stats.State.String(),
			Port:   port,
		},
		Statistics: &BridgeStatistics{
			FramesReceived: stats.FramesRx,
			FramesSent:     stats.FramesTx,
			Errors:         stats.ErrorsTotal,
		},
	}
	if !stats.LastActivity.IsZero() && stats.LastActivity.Unix() > 0 {
		last := stats.LastActivity.UTC()
		msg.Connection.LastActivity = &last
	}
	return msg
}

// NewLWTMessage creates the Last Will and Testament message.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// Topic helpers

// TopicPrefix is the base topic for all messages.
const TopicPrefix = "graylogic"

// CommandTopic returns the command topic for a device.
// Example: graylogic/command/fs20/lamp1
func CommandTopic(device string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, EncodeTopicName(device))
}

// AckTopic returns the acknowledgment topic for a device.
func AckTopic(device string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, Protocol, EncodeTopicName(device))
}

// StateTopic returns the state topic for a device.
func StateTopic(device string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, Protocol, EncodeTopicName(device))
}

// HealthTopic returns the bridge health topic.
func HealthTopic() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// CommandSubscribeTopic returns the subscription pattern for all commands.
func CommandSubscribeTopic() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, Protocol)
}

// topicEscaper escapes characters that are not allowed in a topic level.
var topicEscaper = strings.NewReplacer(
	"%", "%25",
	"/", "%2F",
	"+", "%2B",
	"#", "%23",
)

var topicUnescaper = strings.NewReplacer(
	"%2F", "/",
	"%2B", "+",
	"%23", "#",
	"%25", "%",
)

// EncodeTopicName escapes a device name for use as a single topic level.
// Example: "hall/lamp" → "hall%2Flamp"
func EncodeTopicName(name string) string {
	return topicEscaper.Replace(name)
}

// DecodeTopicName reverses EncodeTopicName.
func DecodeTopicName(encoded string) string {
	return topicUnescaper.Replace(encoded)
}
