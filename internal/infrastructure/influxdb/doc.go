// Package influxdb records supervisor lifecycle transitions in InfluxDB v2.
//
// Every transition becomes one point in the supervisor_lifecycle
// measurement, tagged with the supervisor name, run ID, target state and
// triggering event, so restart storms and uptime can be graphed per worker.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Supervisor.Name)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // optional sink, carry on without it
//	}
//	defer client.Close()
//
//	client.WriteLifecycle(influxdb.LifecycleSample{RunID: runID, State: "running"})
//
// Writes are non-blocking and batched per batch_size and flush_interval;
// asynchronous failures are reported to the logger set with SetLogger.
package influxdb
