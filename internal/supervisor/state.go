package supervisor

import (
	"os"
	"time"
)

// State represents a supervisor lifecycle state.
type State string

const (
	StateStarting          State = "starting"
	StateRunning           State = "running"
	StateExitedClean       State = "exited_clean"
	StateExitedError       State = "exited_error"
	StateRestarting        State = "restarting"
	StateStoppedClean      State = "stopped_clean"
	StateStoppedMaxRetries State = "stopped_max_retries"
	StateStoppedBySignal   State = "stopped_by_signal"
)

// IsTerminal reports whether no further transitions can leave the state.
func (s State) IsTerminal() bool {
	switch s {
	case StateStoppedClean, StateStoppedMaxRetries, StateStoppedBySignal:
		return true
	default:
		return false
	}
}

// EventKind tags the variant carried by an Event.
type EventKind string

const (
	EventChildStarted      EventKind = "child_started"
	EventChildExited       EventKind = "child_exited"
	EventChildSpawnError   EventKind = "child_spawn_error"
	EventRestartDue        EventKind = "restart_due"
	EventShutdownRequested EventKind = "shutdown_requested"
)

// spawnFailureExitCode is reported for spawn failures and for children whose
// exit status could not be determined.
const spawnFailureExitCode = -1

// Event is an input to the Machine.
//
// Spawn is the sequence number of the worker the event belongs to (1 for the
// initial spawn). Events for a spawn that has already been settled are
// ignored, so a failed spawn that reports both an error and an exit is only
// counted once.
type Event struct {
	Kind     EventKind
	Spawn    int
	PID      int
	ExitCode int
	Err      error
	Signal   os.Signal
}

// ChildStarted reports that spawn produced a live process.
func ChildStarted(spawn, pid int) Event {
	return Event{Kind: EventChildStarted, Spawn: spawn, PID: pid}
}

// ChildExited reports that the worker of spawn terminated with code.
func ChildExited(spawn, code int) Event {
	return Event{Kind: EventChildExited, Spawn: spawn, ExitCode: code}
}

// ChildSpawnError reports that the worker of spawn could not be created.
func ChildSpawnError(spawn int, err error) Event {
	return Event{Kind: EventChildSpawnError, Spawn: spawn, ExitCode: spawnFailureExitCode, Err: err}
}

// RestartDue reports that the restart delay scheduled after spawn elapsed.
func RestartDue(spawn int) Event {
	return Event{Kind: EventRestartDue, Spawn: spawn}
}

// ShutdownRequested reports an external termination request.
// sig is nil when the request came from context cancellation.
func ShutdownRequested(sig os.Signal) Event {
	return Event{Kind: EventShutdownRequested, Signal: sig}
}

// Action is the side effect the runtime must perform after a decision.
type Action string

const (
	ActionNone            Action = "none"
	ActionSpawn           Action = "spawn"
	ActionScheduleRestart Action = "schedule_restart"
	ActionStop            Action = "stop"
	ActionRelayShutdown   Action = "relay_shutdown"
)

// Transition records one state change.
//
// The machine fills in the lifecycle fields; the Supervisor adds RunID,
// Name, UptimeSeconds and At before handing it to observers.
type Transition struct {
	RunID         string    `json:"run_id,omitempty"`
	Name          string    `json:"name,omitempty"`
	From          State     `json:"from"`
	To            State     `json:"to"`
	Event         EventKind `json:"event"`
	Spawn         int       `json:"spawn"`
	PID           int       `json:"pid,omitempty"`
	ExitCode      int       `json:"exit_code"`
	Err           string    `json:"error,omitempty"`
	Signal        string    `json:"signal,omitempty"`
	RestartCount  int       `json:"restart_count"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	At            time.Time `json:"at"`
}

// Decision is the result of feeding one event to the Machine.
type Decision struct {
	// Transitions lists the state changes caused by the event, in order.
	// Empty when the event was ignored.
	Transitions []Transition

	// Action is what the runtime must do next.
	Action Action

	// Spawn is the spawn number for ActionSpawn, or the settled spawn for
	// ActionScheduleRestart.
	Spawn int

	// ExitStatus is the supervisor's own exit status for ActionStop and
	// ActionRelayShutdown.
	ExitStatus int

	// RelayToChild is set on ActionRelayShutdown when a live worker must be
	// signalled.
	RelayToChild bool
}

func none() Decision {
	return Decision{Action: ActionNone}
}

// Machine is the supervisor state machine.
//
// It is not safe for concurrent use; the Supervisor serialises access.
type Machine struct {
	state             State
	maxRestarts       int
	restartCount      int
	shutdownRequested bool

	spawn     int  // sequence number of the latest spawn attempt
	settled   bool // latest spawn's outcome has been processed
	childLive bool
	pid       int
}

// NewMachine creates a machine in StateStarting with the given restart budget.
// A negative budget is treated as zero.
func NewMachine(maxRestarts int) *Machine {
	if maxRestarts < 0 {
		maxRestarts = 0
	}
	return &Machine{
		state:       StateStarting,
		maxRestarts: maxRestarts,
		settled:     true,
	}
}

// Start requests the initial spawn. It only yields ActionSpawn once.
func (m *Machine) Start() Decision {
	if m.state != StateStarting || m.spawn != 0 || m.shutdownRequested {
		return none()
	}
	m.spawn = 1
	m.settled = false
	return Decision{Action: ActionSpawn, Spawn: m.spawn}
}

// Apply feeds one event to the machine and returns the resulting decision.
func (m *Machine) Apply(ev Event) Decision {
	if ev.Kind == EventShutdownRequested {
		return m.onShutdown(ev)
	}
	if m.state.IsTerminal() {
		return none()
	}

	switch ev.Kind {
	case EventChildStarted:
		if ev.Spawn != m.spawn || m.settled || m.state != StateStarting {
			return none()
		}
		m.childLive = true
		m.pid = ev.PID
		return Decision{
			Transitions: []Transition{m.transition(StateRunning, ev)},
			Action:      ActionNone,
		}

	case EventChildExited, EventChildSpawnError:
		if ev.Spawn != m.spawn || m.settled {
			return none()
		}
		m.settled = true
		m.childLive = false
		if ev.Kind == EventChildExited && ev.ExitCode == 0 {
			return m.onCleanExit(ev)
		}
		return m.onFailure(ev)

	case EventRestartDue:
		if m.state != StateRestarting || ev.Spawn != m.spawn {
			return none()
		}
		t := m.transition(StateStarting, ev)
		m.spawn++
		m.settled = false
		m.pid = 0
		return Decision{
			Transitions: []Transition{t},
			Action:      ActionSpawn,
			Spawn:       m.spawn,
		}
	}

	return none()
}

func (m *Machine) onCleanExit(ev Event) Decision {
	trs := []Transition{
		m.transition(StateExitedClean, ev),
		m.transition(StateStoppedClean, ev),
	}
	return Decision{Transitions: trs, Action: ActionStop, ExitStatus: 0}
}

func (m *Machine) onFailure(ev Event) Decision {
	trs := []Transition{m.transition(StateExitedError, ev)}

	if m.restartCount < m.maxRestarts {
		m.restartCount++
		trs = append(trs, m.transition(StateRestarting, ev))
		return Decision{Transitions: trs, Action: ActionScheduleRestart, Spawn: m.spawn}
	}

	trs = append(trs, m.transition(StateStoppedMaxRetries, ev))
	return Decision{Transitions: trs, Action: ActionStop, ExitStatus: 1}
}

func (m *Machine) onShutdown(ev Event) Decision {
	if m.shutdownRequested || m.state == StateStoppedClean || m.state == StateStoppedMaxRetries {
		return none()
	}
	m.shutdownRequested = true
	relay := m.childLive

	t := m.transition(StateStoppedBySignal, ev)
	if !relay {
		t.PID = 0
	}
	return Decision{
		Transitions:  []Transition{t},
		Action:       ActionRelayShutdown,
		ExitStatus:   0,
		RelayToChild: relay,
	}
}

// transition moves the machine to next and describes the move.
func (m *Machine) transition(next State, ev Event) Transition {
	t := Transition{
		From:         m.state,
		To:           next,
		Event:        ev.Kind,
		Spawn:        m.spawn,
		PID:          m.pid,
		ExitCode:     ev.ExitCode,
		RestartCount: m.restartCount,
	}
	if ev.Err != nil {
		t.Err = ev.Err.Error()
	}
	if ev.Signal != nil {
		t.Signal = ev.Signal.String()
	}
	m.state = next
	return t
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// RestartCount returns the number of restarts issued so far.
func (m *Machine) RestartCount() int { return m.restartCount }

// MaxRestarts returns the restart budget.
func (m *Machine) MaxRestarts() int { return m.maxRestarts }

// Spawns returns the number of spawn attempts issued so far.
func (m *Machine) Spawns() int { return m.spawn }

// ShutdownRequested reports whether a shutdown event has been accepted.
func (m *Machine) ShutdownRequested() bool { return m.shutdownRequested }

// ChildLive reports whether a started worker has not yet been seen to exit.
func (m *Machine) ChildLive() bool { return m.childLive }

// PID returns the pid of the live worker, or 0.
func (m *Machine) PID() int {
	if !m.childLive {
		return 0
	}
	return m.pid
}
