// Package influxdb provides time-series telemetry for the Lutron bridge.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched writes, and health monitoring.
//
// # Purpose
//
// This package stores the bridge's observed telemetry:
//   - Output levels over time (dimmer and shade positions)
//   - Button press/release events from keypads and Picos
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteOutputLevel(5, "Living Room Down Lights", 75.0)
//	client.WriteButtonEvent(21, 3, "press")
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking; batch errors are delivered via
// the SetOnError callback. Connection and health check errors are
// returned directly.
package influxdb
