package reporting

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-supervisor/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-supervisor/internal/supervisor"
)

// EventPublisher is the subset of the MQTT client used by MQTTSink.
type EventPublisher interface {
	PublishEvent(v any) error
	PublishStatus(v any) error
}

// MQTTSink publishes each transition on the events topic and refreshes the
// retained status snapshot.
type MQTTSink struct {
	pub   EventPublisher
	stats func() supervisor.Stats
}

// NewMQTTSink creates a sink. stats may be nil, in which case no status is
// published.
func NewMQTTSink(pub EventPublisher, stats func() supervisor.Stats) *MQTTSink {
	return &MQTTSink{pub: pub, stats: stats}
}

// Record implements Sink.
func (s *MQTTSink) Record(_ context.Context, t supervisor.Transition) error {
	if err := s.pub.PublishEvent(t); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	if s.stats == nil {
		return nil
	}
	if err := s.pub.PublishStatus(s.stats()); err != nil {
		return fmt.Errorf("publish status: %w", err)
	}
	return nil
}

// LifecycleWriter is the subset of the InfluxDB client used by InfluxSink.
type LifecycleWriter interface {
	WriteLifecycle(s influxdb.LifecycleSample)
}

// InfluxSink writes one supervisor_lifecycle point per transition.
// Writes are batched by the client, so Record never fails.
type InfluxSink struct {
	w LifecycleWriter
}

// NewInfluxSink creates a sink.
func NewInfluxSink(w LifecycleWriter) *InfluxSink {
	return &InfluxSink{w: w}
}

// Record implements Sink.
func (s *InfluxSink) Record(_ context.Context, t supervisor.Transition) error {
	s.w.WriteLifecycle(Sample(t))
	return nil
}

// Sample maps a transition to an InfluxDB lifecycle sample. The supervisor
// name is not copied; the client tags every point with it.
func Sample(t supervisor.Transition) influxdb.LifecycleSample {
	return influxdb.LifecycleSample{
		RunID:         t.RunID,
		State:         string(t.To),
		Event:         string(t.Event),
		Spawn:         t.Spawn,
		RestartCount:  t.RestartCount,
		ExitCode:      t.ExitCode,
		UptimeSeconds: t.UptimeSeconds,
		At:            t.At,
	}
}
