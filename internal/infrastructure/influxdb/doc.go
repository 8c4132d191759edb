// Package influxdb stores device telemetry in InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library: connection check on
// Connect, non-blocking batched writes, and an error callback for batches
// that fail asynchronously.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.SetOnError(func(err error) { logger.Error("influx write", "error", err) })
//	client.WriteVitals(influxdb.Vitals{DeviceID: "terminal-01", Name: "alice", Temperature: 36.6, HeartRate: 72})
//
// # Performance
//
// Writes are batched according to config.yaml (batch_size, flush_interval).
package influxdb
