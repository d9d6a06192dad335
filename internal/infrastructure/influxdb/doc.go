// Package influxdb records FS20 telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Every decoded frame
// becomes a point in the fs20_frames measurement and the gateway counters
// are sampled into fs20_gateway.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteFrame(influxdb.Frame{Device: "lamp1", Address: "123401", Prefix: "F", Command: "on"})
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Batch errors are delivered to the SetOnError callback.
package influxdb
