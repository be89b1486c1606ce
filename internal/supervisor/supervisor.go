package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Defaults applied by New for zero-valued Config fields.
const (
	DefaultName         = "worker"
	DefaultMaxRestarts  = 5
	DefaultRestartDelay = 2 * time.Second
)

// Config holds the restart policy for a supervisor.
type Config struct {
	// Name is a human-readable identifier for logging and reporting.
	Name string

	// MaxRestarts is the number of restarts allowed after abnormal exits.
	// The initial spawn is not a restart, so at most MaxRestarts+1 workers
	// are ever started. 0 disables restarts.
	MaxRestarts int

	// RestartDelay is the fixed wait before every restart. No backoff.
	RestartDelay time.Duration

	// StopSignal is relayed to the worker on shutdown.
	// Defaults to SIGTERM (interrupt on Windows).
	StopSignal os.Signal
}

// DefaultConfig returns a Config with the standard restart policy.
func DefaultConfig(name string) Config {
	return Config{
		Name:         name,
		MaxRestarts:  DefaultMaxRestarts,
		RestartDelay: DefaultRestartDelay,
	}
}

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Observer receives every transition of the supervisor.
//
// Observe is called on the supervisor goroutine and must not block.
type Observer interface {
	Observe(t Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(t Transition)

// Observe implements Observer.
func (f ObserverFunc) Observe(t Transition) { f(t) }

// Supervisor runs one worker under the restart policy in Config.
//
// Thread Safety:
//   - Run must be called once; it is the only goroutine making decisions.
//   - RequestShutdown, Stats and the other accessors are safe to call from
//     any goroutine.
type Supervisor struct {
	config  Config
	spawner Spawner
	logger  Logger

	observers []Observer

	runID     string
	now       func() time.Time
	startTime time.Time

	events   chan Event
	shutdown chan os.Signal
	done     chan struct{}

	mu           sync.RWMutex
	machine      *Machine
	child        Child
	started      bool
	lastExitCode *int
	lastError    error
}

// New creates a supervisor in the idle state.
//
// The start time used for uptime is captured here.
//
// Parameters:
//   - cfg: Name and restart policy; a zero RestartDelay uses DefaultRestartDelay
//   - spawner: Starts each worker attempt
//
// Returns:
//   - *Supervisor: Supervisor ready for Run, with a fresh run ID
func New(cfg Config, spawner Spawner) *Supervisor {
	// Apply defaults for zero values
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if cfg.MaxRestarts < 0 {
		cfg.MaxRestarts = 0
	}
	if cfg.StopSignal == nil {
		cfg.StopSignal = defaultStopSignal
	}

	return &Supervisor{
		config:    cfg,
		spawner:   spawner,
		logger:    noopLogger{},
		runID:     uuid.NewString(),
		now:       time.Now,
		startTime: time.Now(),
		events:    make(chan Event, 1),
		shutdown:  make(chan os.Signal, 1),
		done:      make(chan struct{}),
		machine:   NewMachine(cfg.MaxRestarts),
	}
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// AddObserver registers an observer. Must be called before Run.
func (s *Supervisor) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

// RequestShutdown asks the supervisor to relay a termination signal to the
// worker and stop. Only the first request has any effect; it may be issued
// before Run starts.
func (s *Supervisor) RequestShutdown(sig os.Signal) {
	select {
	case s.shutdown <- sig:
	default:
		// A request is already pending.
	}
}

// Run spawns the worker and supervises it until a terminal state is reached.
//
// It returns nil when the worker exited cleanly or a shutdown was requested
// (via RequestShutdown or ctx cancellation), and an error wrapping
// ErrRestartBudgetExhausted when the worker kept failing. On shutdown Run
// returns as soon as the signal has been relayed; it does not wait for the
// worker to exit.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.started = true
	s.mu.Unlock()

	defer close(s.done)

	s.logger.Info("supervisor starting",
		"name", s.config.Name,
		"run_id", s.runID,
		"max_restarts", s.config.MaxRestarts,
		"restart_delay", s.config.RestartDelay,
	)

	var (
		timer        *time.Timer
		timerC       <-chan time.Time
		pendingSpawn int
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
	}
	defer stopTimer()

	// A shutdown requested before Run must win over the initial spawn.
	var d Decision
	select {
	case sig := <-s.shutdown:
		d = s.apply(ShutdownRequested(sig))
	case <-ctx.Done():
		d = s.apply(ShutdownRequested(nil))
	default:
		d = s.step(Event{}, func(m *Machine) Decision { return m.Start() })
	}

	for {
		switch d.Action {
		case ActionSpawn:
			d = s.apply(s.spawnChild(d.Spawn))
			continue

		case ActionScheduleRestart:
			s.logger.Info("scheduling worker restart",
				"name", s.config.Name,
				"attempt", s.RestartCount(),
				"max_restarts", s.config.MaxRestarts,
				"delay", s.config.RestartDelay,
			)
			pendingSpawn = d.Spawn
			timer = time.NewTimer(s.config.RestartDelay)
			timerC = timer.C

		case ActionStop:
			return s.stop(d)

		case ActionRelayShutdown:
			stopTimer()
			s.relay(d)
			return nil
		}

		select {
		case ev := <-s.events:
			d = s.apply(ev)
		case <-timerC:
			timer, timerC = nil, nil
			d = s.apply(RestartDue(pendingSpawn))
		case sig := <-s.shutdown:
			d = s.apply(ShutdownRequested(sig))
		case <-ctx.Done():
			d = s.apply(ShutdownRequested(nil))
		}
	}
}

// spawnChild starts worker number spawn and returns the event describing
// the outcome.
func (s *Supervisor) spawnChild(spawn int) Event {
	s.logger.Info("starting worker",
		"name", s.config.Name,
		"spawn", spawn,
	)

	child, err := s.spawner.Spawn()
	if err != nil {
		s.logger.Error("failed to start worker",
			"name", s.config.Name,
			"spawn", spawn,
			"error", err,
		)
		return ChildSpawnError(spawn, err)
	}

	s.mu.Lock()
	s.child = child
	s.mu.Unlock()

	go s.wait(spawn, child)

	s.logger.Info("worker started",
		"name", s.config.Name,
		"spawn", spawn,
		"pid", child.PID(),
	)
	return ChildStarted(spawn, child.PID())
}

// wait blocks until child exits and reports it to Run.
func (s *Supervisor) wait(spawn int, child Child) {
	code, err := child.Wait()
	if err != nil {
		s.logger.Error("lost track of worker",
			"name", s.config.Name,
			"spawn", spawn,
			"pid", child.PID(),
			"error", err,
		)
		code = spawnFailureExitCode
	}

	select {
	case s.events <- ChildExited(spawn, code):
	case <-s.done:
		// Run has returned; nobody is listening any more.
	}
}

// apply feeds ev to the machine.
func (s *Supervisor) apply(ev Event) Decision {
	return s.step(ev, func(m *Machine) Decision { return m.Apply(ev) })
}

// step runs fn against the machine under the lock, records the outcome and
// notifies observers.
func (s *Supervisor) step(ev Event, fn func(m *Machine) Decision) Decision {
	s.mu.Lock()
	d := fn(s.machine)
	if len(d.Transitions) > 0 {
		switch ev.Kind {
		case EventChildExited, EventChildSpawnError:
			code := ev.ExitCode
			s.lastExitCode = &code
			s.lastError = ev.Err
		}
	}
	s.mu.Unlock()

	s.logEvent(ev, d)
	s.notify(d.Transitions)
	return d
}

// logEvent logs the outcome of an event with enough context for post-mortems.
func (s *Supervisor) logEvent(ev Event, d Decision) {
	if ev.Kind == "" {
		return
	}
	if len(d.Transitions) == 0 {
		s.logger.Debug("ignoring stale event",
			"name", s.config.Name,
			"event", ev.Kind,
			"spawn", ev.Spawn,
		)
		return
	}

	switch ev.Kind {
	case EventChildExited:
		if ev.ExitCode == 0 {
			s.logger.Info("worker exited cleanly, not restarting",
				"name", s.config.Name,
				"spawn", ev.Spawn,
			)
			return
		}
		s.logger.Warn("worker exited with error",
			"name", s.config.Name,
			"spawn", ev.Spawn,
			"exit_code", ev.ExitCode,
			"restart_count", s.RestartCount(),
		)
	case EventShutdownRequested:
		s.logger.Info("shutdown requested",
			"name", s.config.Name,
			"signal", signalName(ev.Signal),
			"relay", d.RelayToChild,
		)
	}

	if d.Action == ActionStop && d.ExitStatus != 0 {
		s.logger.Error("restart budget exhausted, giving up",
			"name", s.config.Name,
			"restarts", s.RestartCount(),
			"max_restarts", s.config.MaxRestarts,
			"exit_code", ev.ExitCode,
		)
	}
}

// notify enriches transitions and hands them to every observer.
func (s *Supervisor) notify(trs []Transition) {
	if len(trs) == 0 || len(s.observers) == 0 {
		return
	}
	at := s.now()
	uptime := s.UptimeSeconds()
	for _, t := range trs {
		t.RunID = s.runID
		t.Name = s.config.Name
		t.At = at
		t.UptimeSeconds = uptime
		for _, o := range s.observers {
			o.Observe(t)
		}
	}
}

// relay forwards the stop signal to the live worker, if any.
func (s *Supervisor) relay(d Decision) {
	if !d.RelayToChild {
		s.logger.Info("no live worker to signal", "name", s.config.Name)
		return
	}

	s.mu.RLock()
	child := s.child
	s.mu.RUnlock()
	if child == nil {
		return
	}

	pid := child.PID()
	if err := child.Signal(s.config.StopSignal); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			s.logger.Debug("worker already exited", "name", s.config.Name, "pid", pid)
			return
		}
		s.logger.Warn("failed to signal worker",
			"name", s.config.Name,
			"pid", pid,
			"error", err,
		)
		return
	}
	s.logger.Info("stop signal relayed to worker",
		"name", s.config.Name,
		"pid", pid,
		"signal", signalName(s.config.StopSignal),
	)
}

// stop converts a terminal ActionStop decision into Run's return value.
func (s *Supervisor) stop(d Decision) error {
	if d.ExitStatus == 0 {
		s.logger.Info("supervisor stopped", "name", s.config.Name, "state", s.State())
		return nil
	}
	return fmt.Errorf("%w: %s failed after %d restarts", ErrRestartBudgetExhausted, s.config.Name, s.RestartCount())
}

// Name returns the configured worker name.
func (s *Supervisor) Name() string {
	return s.config.Name
}

// RunID returns the unique identifier of this supervisor instance.
func (s *Supervisor) RunID() string {
	return s.runID
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.machine.State()
}

// RestartCount returns the number of restarts issued so far.
func (s *Supervisor) RestartCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.machine.RestartCount()
}

// Spawns returns the number of spawn attempts so far, including failures.
func (s *Supervisor) Spawns() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.machine.Spawns()
}

// PID returns the live worker's process ID, or 0.
func (s *Supervisor) PID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.machine.PID()
}

// Uptime returns the time since the supervisor was created.
func (s *Supervisor) Uptime() time.Duration {
	return s.now().Sub(s.startTime)
}

// UptimeSeconds returns Uptime in whole seconds. Valid in any state.
func (s *Supervisor) UptimeSeconds() int64 {
	return int64(s.Uptime() / time.Second)
}

// Stats is a point-in-time snapshot of the supervisor.
type Stats struct {
	Name          string `json:"name"`
	RunID         string `json:"run_id"`
	State         State  `json:"state"`
	PID           int    `json:"pid,omitempty"`
	Spawns        int    `json:"spawns"`
	RestartCount  int    `json:"restart_count"`
	MaxRestarts   int    `json:"max_restarts"`
	LastExitCode  *int   `json:"last_exit_code,omitempty"`
	LastError     string `json:"last_error,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Stats returns current statistics for the supervisor.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Name:          s.config.Name,
		RunID:         s.runID,
		State:         s.machine.State(),
		PID:           s.machine.PID(),
		Spawns:        s.machine.Spawns(),
		RestartCount:  s.machine.RestartCount(),
		MaxRestarts:   s.machine.MaxRestarts(),
		UptimeSeconds: s.UptimeSeconds(),
	}
	if s.lastExitCode != nil {
		code := *s.lastExitCode
		stats.LastExitCode = &code
	}
	if s.lastError != nil {
		stats.LastError = s.lastError.Error()
	}
	return stats
}

func signalName(sig os.Signal) string {
	if sig == nil {
		return "context"
	}
	return sig.String()
}
