package main

import (
	"context"
	"errors"

	"github.com/katanapod/COC-FS20/internal/bridges/fs20"
	"github.com/katanapod/COC-FS20/internal/device"
	"github.com/katanapod/COC-FS20/internal/infrastructure/influxdb"
	"github.com/katanapod/COC-FS20/internal/infrastructure/mqtt"
	"github.com/katanapod/COC-FS20/internal/infrastructure/natsbus"
)

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. Bridge handlers do not return errors.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements fs20.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements fs20.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements fs20.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// registeredName returns the device name bound to address, or "".
func registeredName(registry *fs20.Registry, address string) string {
	name, ok := registry.ResolveByAddress(address)
	if !ok {
		return ""
	}
	return name
}

// eventStore persists frames and last commands in the device repository.
type eventStore struct {
	repo     device.Repository
	registry *fs20.Registry
}

// StoreEvent implements fs20.EventStore. Command frames from registered
// devices also update the stored last command.
func (s *eventStore) StoreEvent(ctx context.Context, ev fs20.Event) error {
	rec := toDeviceEvent(ev, registeredName(s.registry, ev.Address))
	if err := s.repo.RecordEvent(ctx, &rec); err != nil {
		return err
	}
	if ev.IsCommand() && rec.Device != "" {
		return s.StoreCommand(ctx, rec.Device, ev.Command)
	}
	return nil
}

// StoreCommand implements fs20.EventStore. Devices registered only in
// memory have no row and are skipped.
func (s *eventStore) StoreCommand(ctx context.Context, name, command string) error {
	err := s.repo.UpdateLastCommand(ctx, name, command)
	if errors.Is(err, device.ErrDeviceNotFound) {
		return nil
	}
	return err
}

func toDeviceEvent(ev fs20.Event, name string) device.Event {
	return device.Event{
		ReceivedAt: ev.ReceivedAt,
		Prefix:     ev.PrefixByte,
		Device:     name,
		Address:    ev.Address,
		Command:    ev.Command,
		Raw:        ev.Raw,
	}
}

// telemetryWriter records frames in InfluxDB.
type telemetryWriter struct {
	client   *influxdb.Client
	registry *fs20.Registry
}

// WriteEvent implements fs20.TelemetryWriter.
func (t *telemetryWriter) WriteEvent(ev fs20.Event) {
	t.client.WriteFrame(toFrame(ev, registeredName(t.registry, ev.Address)))
}

func toFrame(ev fs20.Event, name string) influxdb.Frame {
	return influxdb.Frame{
		Device:  name,
		Address: ev.Address,
		Prefix:  ev.PrefixByte,
		Command: ev.Command,
		Raw:     ev.Raw,
		Sensor:  !ev.IsCommand(),
		At:      ev.ReceivedAt,
	}
}

func toGatewayStats(s fs20.Stats) influxdb.GatewayStats {
	return influxdb.GatewayStats{
		FramesRx:  s.FramesRx,
		FramesTx:  s.FramesTx,
		Errors:    s.ErrorsTotal,
		Connected: s.Connected,
		Devices:   s.Devices,
	}
}

// natsForwarder republishes frames on NATS.
type natsForwarder struct {
	publisher *natsbus.Publisher
	registry  *fs20.Registry
}

// ForwardEvent implements fs20.EventForwarder.
func (f *natsForwarder) ForwardEvent(ev fs20.Event) error {
	return f.publisher.PublishEvent(toBusEvent(ev, registeredName(f.registry, ev.Address)))
}

func toBusEvent(ev fs20.Event, name string) natsbus.Event {
	return natsbus.Event{
		Device:     name,
		Address:    ev.Address,
		Prefix:     ev.PrefixByte,
		Command:    ev.Command,
		Raw:        ev.Raw,
		ReceivedAt: ev.ReceivedAt,
	}
}
