package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementLifecycle holds one point per supervisor transition.
const MeasurementLifecycle = "supervisor_lifecycle"

// LifecycleSample is one supervisor state change.
//
// RunID, State and Event become tags next to the client's supervisor tag;
// the counters become fields.
type LifecycleSample struct {
	RunID         string
	State         string
	Event         string
	Spawn         int
	RestartCount  int
	ExitCode      int
	UptimeSeconds int64
	At            time.Time
}

// WriteLifecycle queues s for the next batch. Dropped after Close.
func (c *Client) WriteLifecycle(s LifecycleSample) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(LifecyclePoint(s))
}

// LifecyclePoint converts s to a line-protocol point. A zero At uses now.
func LifecyclePoint(s LifecycleSample) *write.Point {
	at := s.At
	if at.IsZero() {
		at = time.Now()
	}

	return write.NewPoint(
		MeasurementLifecycle,
		map[string]string{
			"run_id": s.RunID,
			"state":  s.State,
			"event":  s.Event,
		},
		map[string]interface{}{
			"spawn":          s.Spawn,
			"restart_count":  s.RestartCount,
			"exit_code":      s.ExitCode,
			"uptime_seconds": s.UptimeSeconds,
		},
		at,
	)
}
