// Package natsbus forwards decoded FS20 frames to a NATS server.
//
// Each event is published as JSON on {subject_prefix}.events.{device}.
// Frames from unregistered addresses use the device token "unknown", so
// consumers can subscribe to fs20.events.> for everything or to
// fs20.events.lamp1 for a single device.
//
//	pub, err := natsbus.Connect(cfg.NATS)
//	if errors.Is(err, natsbus.ErrDisabled) {
//	    // forwarding off
//	}
//	defer pub.Close()
package natsbus
