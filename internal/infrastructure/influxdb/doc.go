// Package influxdb writes bridge telemetry to InfluxDB v2.
//
// Two kinds of points are written, both non-blocking and batched
// according to batch_size and flush_interval:
//
//   - videohub_bridge: health counters, one point per health tick
//     (written through WritePoint by the bridge's HealthReporter)
//   - videohub_events: one point per emitted bridge event, written by
//     EventSink, giving a route and label history
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.SetOnError(func(err error) { logger.Warn("influxdb write failed", "error", err) })
package influxdb
