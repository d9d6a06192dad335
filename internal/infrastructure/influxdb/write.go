package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementFrames  = "fs20_frames"
	MeasurementGateway = "fs20_gateway"
)

// Frame is one decoded FS20 frame as recorded in InfluxDB.
type Frame struct {
	Device  string
	Address string
	Prefix  string
	Command string
	Raw     string
	// Sensor marks non-command frames whose payload may be numeric.
	Sensor bool
	At     time.Time
}

// GatewayStats is a snapshot of the CUL connection counters.
type GatewayStats struct {
	FramesRx  uint64
	FramesTx  uint64
	Errors    uint64
	Connected bool
	Devices   int
}

// WriteFrame records a decoded frame. The write is non-blocking; points
// are batched and sent asynchronously.
func (c *Client) WriteFrame(f Frame) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(framePoint(f))
}

// WriteGatewayStats records the gateway counters.
func (c *Client) WriteGatewayStats(s GatewayStats) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(statsPoint(s, time.Now()))
}

// framePoint tags by device, address and prefix. Unregistered addresses
// are tagged with device "unknown" to keep the tag set stable.
func framePoint(f Frame) *write.Point {
	device := f.Device
	if device == "" {
		device = "unknown"
	}
	at := f.At
	if at.IsZero() {
		at = time.Now()
	}

	fields := map[string]interface{}{
		"command": f.Command,
		"raw":     f.Raw,
	}
	if f.Sensor {
		if v, err := strconv.ParseUint(f.Command, 16, 64); err == nil {
			fields["value"] = float64(v)
		}
	}

	return write.NewPoint(
		MeasurementFrames,
		map[string]string{
			"device":  device,
			"address": f.Address,
			"prefix":  f.Prefix,
		},
		fields,
		at,
	)
}

func statsPoint(s GatewayStats, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementGateway,
		nil,
		map[string]interface{}{
			"frames_rx": s.FramesRx,
			"frames_tx": s.FramesTx,
			"errors":    s.Errors,
			"connected": s.Connected,
			"devices":   s.Devices,
		},
		at,
	)
}
