package reporting

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-supervisor/internal/supervisor"
)

const (
	// DefaultQueueSize bounds transitions waiting for the sinks.
	DefaultQueueSize = 256

	// DefaultSinkTimeout bounds a single Record call.
	DefaultSinkTimeout = 5 * time.Second
)

// Sink receives supervisor transitions off the supervision goroutine.
type Sink interface {
	Record(ctx context.Context, t supervisor.Transition) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, t supervisor.Transition) error

// Record calls f(ctx, t).
func (f SinkFunc) Record(ctx context.Context, t supervisor.Transition) error { return f(ctx, t) }

// Logger is the logging surface the dispatcher needs.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type namedSink struct {
	name string
	sink Sink
}

// Dispatcher fans transitions out to sinks from a single worker goroutine.
//
// Observe never blocks: when the queue is full the transition is dropped
// and counted. Sinks see transitions in the order they were observed.
type Dispatcher struct {
	queue   chan supervisor.Transition
	sinks   []namedSink
	logger  Logger
	timeout time.Duration

	mu      sync.RWMutex
	started bool
	closed  bool
	done    chan struct{}

	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewDispatcher creates a dispatcher with no sinks.
//
// Parameters:
//   - queueSize: Transitions that may wait for delivery; <= 0 uses
//     DefaultQueueSize
//
// Returns:
//   - *Dispatcher: Dispatcher that must be started with Start
func NewDispatcher(queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Dispatcher{
		queue:   make(chan supervisor.Transition, queueSize),
		logger:  noopLogger{},
		timeout: DefaultSinkTimeout,
		done:    make(chan struct{}),
	}
}

// SetLogger sets the logger. Must be called before Start.
func (d *Dispatcher) SetLogger(logger Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// SetSinkTimeout overrides DefaultSinkTimeout. Must be called before Start.
func (d *Dispatcher) SetSinkTimeout(timeout time.Duration) {
	if timeout > 0 {
		d.timeout = timeout
	}
}

// AddSink registers a sink under name. Must be called before Start.
func (d *Dispatcher) AddSink(name string, sink Sink) {
	d.sinks = append(d.sinks, namedSink{name: name, sink: sink})
}

// Start launches the worker. Calling it twice is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	go d.worker()
}

// Observe implements supervisor.Observer.
func (d *Dispatcher) Observe(t supervisor.Transition) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.queue <- t:
	default:
		d.dropped.Add(1)
		d.logger.Warn("reporting queue full, dropping transition",
			"to", string(t.To),
			"spawn", t.Spawn,
			"dropped_total", d.dropped.Load(),
		)
	}
}

// Close stops accepting transitions and waits for queued ones to reach the
// sinks, or for ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	started := d.started
	close(d.queue)
	d.mu.Unlock()

	if !started {
		close(d.done)
		return nil
	}

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("reporting drain: %w", ctx.Err())
	}
}

// Dropped returns the number of transitions lost to a full queue.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Failed returns the number of sink calls that returned an error or panicked.
func (d *Dispatcher) Failed() uint64 {
	return d.failed.Load()
}

func (d *Dispatcher) worker() {
	defer close(d.done)
	for t := range d.queue {
		for _, s := range d.sinks {
			d.deliver(s, t)
		}
	}
}

func (d *Dispatcher) deliver(s namedSink, t supervisor.Transition) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			d.logger.Error("reporting sink panic", "sink", s.name, "panic", fmt.Sprint(r))
		}
	}()

	if err := s.sink.Record(ctx, t); err != nil {
		d.failed.Add(1)
		d.logger.Error("reporting sink failed",
			"sink", s.name,
			"to", string(t.To),
			"error", err,
		)
	}
}
