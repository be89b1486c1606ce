package supervisor

import (
	"errors"
	"syscall"
	"testing"
)

// drive feeds exit codes to a fresh machine, following every restart, and
// returns the machine together with the final decision.
func drive(t *testing.T, maxRestarts int, codes []int) (*Machine, Decision) {
	t.Helper()

	m := NewMachine(maxRestarts)
	d := m.Start()
	for i := 0; d.Action == ActionSpawn; i++ {
		spawn := d.Spawn
		m.Apply(ChildStarted(spawn, 100+spawn))
		code := codes[len(codes)-1]
		if i < len(codes) {
			code = codes[i]
		}
		d = m.Apply(ChildExited(spawn, code))
		if d.Action == ActionScheduleRestart {
			d = m.Apply(RestartDue(d.Spawn))
		}
	}
	return m, d
}

func TestMachine_InitialState(t *testing.T) {
	m := NewMachine(5)

	if m.State() != StateStarting {
		t.Errorf("State() = %q, want %q", m.State(), StateStarting)
	}
	if m.RestartCount() != 0 {
		t.Errorf("RestartCount() = %d, want 0", m.RestartCount())
	}
	if m.Spawns() != 0 {
		t.Errorf("Spawns() = %d, want 0", m.Spawns())
	}
	if m.ChildLive() {
		t.Error("ChildLive() = true, want false")
	}
}

func TestMachine_StartOnlyOnce(t *testing.T) {
	m := NewMachine(5)

	d := m.Start()
	if d.Action != ActionSpawn || d.Spawn != 1 {
		t.Fatalf("Start() = %+v, want spawn 1", d)
	}
	if again := m.Start(); again.Action != ActionNone {
		t.Errorf("second Start() action = %q, want %q", again.Action, ActionNone)
	}
}

func TestMachine_NegativeBudget(t *testing.T) {
	m := NewMachine(-3)
	if m.MaxRestarts() != 0 {
		t.Errorf("MaxRestarts() = %d, want 0", m.MaxRestarts())
	}
}

func TestMachine_Scenarios(t *testing.T) {
	tests := []struct {
		name         string
		maxRestarts  int
		codes        []int
		wantSpawns   int
		wantRestarts int
		wantState    State
		wantStatus   int
	}{
		{
			name:         "always failing exhausts budget",
			maxRestarts:  5,
			codes:        []int{1},
			wantSpawns:   6,
			wantRestarts: 5,
			wantState:    StateStoppedMaxRetries,
			wantStatus:   1,
		},
		{
			name:         "clean first exit stops",
			maxRestarts:  5,
			codes:        []int{0},
			wantSpawns:   1,
			wantRestarts: 0,
			wantState:    StateStoppedClean,
			wantStatus:   0,
		},
		{
			name:         "two failures then clean exit",
			maxRestarts:  5,
			codes:        []int{1, 1, 0},
			wantSpawns:   3,
			wantRestarts: 2,
			wantState:    StateStoppedClean,
			wantStatus:   0,
		},
		{
			name:         "zero budget never restarts",
			maxRestarts:  0,
			codes:        []int{2},
			wantSpawns:   1,
			wantRestarts: 0,
			wantState:    StateStoppedMaxRetries,
			wantStatus:   1,
		},
		{
			name:         "signal exit code counts as failure",
			maxRestarts:  1,
			codes:        []int{-1},
			wantSpawns:   2,
			wantRestarts: 1,
			wantState:    StateStoppedMaxRetries,
			wantStatus:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, d := drive(t, tt.maxRestarts, tt.codes)

			if d.Action != ActionStop {
				t.Fatalf("final action = %q, want %q", d.Action, ActionStop)
			}
			if m.Spawns() != tt.wantSpawns {
				t.Errorf("Spawns() = %d, want %d", m.Spawns(), tt.wantSpawns)
			}
			if m.RestartCount() != tt.wantRestarts {
				t.Errorf("RestartCount() = %d, want %d", m.RestartCount(), tt.wantRestarts)
			}
			if m.State() != tt.wantState {
				t.Errorf("State() = %q, want %q", m.State(), tt.wantState)
			}
			if d.ExitStatus != tt.wantStatus {
				t.Errorf("ExitStatus = %d, want %d", d.ExitStatus, tt.wantStatus)
			}
		})
	}
}

func TestMachine_FailureIncrementsByOne(t *testing.T) {
	m := NewMachine(3)
	d := m.Start()
	m.Apply(ChildStarted(d.Spawn, 42))

	d = m.Apply(ChildExited(d.Spawn, 7))
	if d.Action != ActionScheduleRestart {
		t.Fatalf("action = %q, want %q", d.Action, ActionScheduleRestart)
	}
	if m.RestartCount() != 1 {
		t.Errorf("RestartCount() = %d, want 1", m.RestartCount())
	}
	if m.State() != StateRestarting {
		t.Errorf("State() = %q, want %q", m.State(), StateRestarting)
	}

	want := []State{StateExitedError, StateRestarting}
	if len(d.Transitions) != len(want) {
		t.Fatalf("got %d transitions, want %d", len(d.Transitions), len(want))
	}
	for i, tr := range d.Transitions {
		if tr.To != want[i] {
			t.Errorf("transition[%d].To = %q, want %q", i, tr.To, want[i])
		}
		if tr.ExitCode != 7 {
			t.Errorf("transition[%d].ExitCode = %d, want 7", i, tr.ExitCode)
		}
	}
}

func TestMachine_CleanExitTransitions(t *testing.T) {
	m := NewMachine(3)
	d := m.Start()
	m.Apply(ChildStarted(d.Spawn, 42))

	d = m.Apply(ChildExited(d.Spawn, 0))

	want := []struct{ from, to State }{
		{StateRunning, StateExitedClean},
		{StateExitedClean, StateStoppedClean},
	}
	if len(d.Transitions) != len(want) {
		t.Fatalf("got %d transitions, want %d", len(d.Transitions), len(want))
	}
	for i, w := range want {
		if d.Transitions[i].From != w.from || d.Transitions[i].To != w.to {
			t.Errorf("transition[%d] = %s->%s, want %s->%s",
				i, d.Transitions[i].From, d.Transitions[i].To, w.from, w.to)
		}
	}
}

func TestMachine_SpawnErrorFoldsIntoFailure(t *testing.T) {
	m := NewMachine(1)
	d := m.Start()

	spawnErr := errors.New("exec: no such file")
	d = m.Apply(ChildSpawnError(d.Spawn, spawnErr))
	if d.Action != ActionScheduleRestart {
		t.Fatalf("action = %q, want %q", d.Action, ActionScheduleRestart)
	}
	if d.Transitions[0].From != StateStarting {
		t.Errorf("From = %q, want %q", d.Transitions[0].From, StateStarting)
	}
	if d.Transitions[0].Err != spawnErr.Error() {
		t.Errorf("Err = %q, want %q", d.Transitions[0].Err, spawnErr.Error())
	}

	d = m.Apply(RestartDue(d.Spawn))
	d = m.Apply(ChildSpawnError(d.Spawn, spawnErr))
	if d.Action != ActionStop || d.ExitStatus != 1 {
		t.Errorf("decision = %+v, want stop with status 1", d)
	}
	if m.Spawns() != 2 {
		t.Errorf("Spawns() = %d, want 2", m.Spawns())
	}
}

func TestMachine_DuplicateOutcomeCountedOnce(t *testing.T) {
	m := NewMachine(5)
	d := m.Start()
	spawn := d.Spawn

	m.Apply(ChildSpawnError(spawn, errors.New("boom")))
	dup := m.Apply(ChildExited(spawn, 1))

	if dup.Action != ActionNone || len(dup.Transitions) != 0 {
		t.Errorf("duplicate exit decision = %+v, want ignored", dup)
	}
	if m.RestartCount() != 1 {
		t.Errorf("RestartCount() = %d, want 1", m.RestartCount())
	}
}

func TestMachine_StaleEventsIgnored(t *testing.T) {
	m := NewMachine(5)
	d := m.Start()
	m.Apply(ChildStarted(d.Spawn, 10))
	d = m.Apply(ChildExited(d.Spawn, 1))
	d = m.Apply(RestartDue(d.Spawn))
	m.Apply(ChildStarted(d.Spawn, 11))

	tests := []struct {
		name string
		ev   Event
	}{
		{"exit of previous spawn", ChildExited(1, 0)},
		{"start of previous spawn", ChildStarted(1, 10)},
		{"restart while running", RestartDue(2)},
		{"future spawn", ChildExited(9, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Apply(tt.ev)
			if got.Action != ActionNone || len(got.Transitions) != 0 {
				t.Errorf("Apply(%+v) = %+v, want ignored", tt.ev, got)
			}
			if m.State() != StateRunning {
				t.Errorf("State() = %q, want %q", m.State(), StateRunning)
			}
		})
	}
}

func TestMachine_ShutdownWhileRunningRelays(t *testing.T) {
	m := NewMachine(5)
	d := m.Start()
	m.Apply(ChildStarted(d.Spawn, 321))

	d = m.Apply(ShutdownRequested(syscall.SIGINT))
	if d.Action != ActionRelayShutdown {
		t.Fatalf("action = %q, want %q", d.Action, ActionRelayShutdown)
	}
	if !d.RelayToChild {
		t.Error("RelayToChild = false, want true")
	}
	if d.ExitStatus != 0 {
		t.Errorf("ExitStatus = %d, want 0", d.ExitStatus)
	}
	if d.Transitions[0].PID != 321 {
		t.Errorf("PID = %d, want 321", d.Transitions[0].PID)
	}
	if m.State() != StateStoppedBySignal {
		t.Errorf("State() = %q, want %q", m.State(), StateStoppedBySignal)
	}
}

func TestMachine_ShutdownIsIdempotent(t *testing.T) {
	m := NewMachine(5)
	d := m.Start()
	m.Apply(ChildStarted(d.Spawn, 321))

	first := m.Apply(ShutdownRequested(syscall.SIGTERM))
	second := m.Apply(ShutdownRequested(syscall.SIGTERM))

	if first.Action != ActionRelayShutdown {
		t.Errorf("first action = %q, want %q", first.Action, ActionRelayShutdown)
	}
	if second.Action != ActionNone || len(second.Transitions) != 0 {
		t.Errorf("second decision = %+v, want ignored", second)
	}
	if !m.ShutdownRequested() {
		t.Error("ShutdownRequested() = false, want true")
	}
}

func TestMachine_ShutdownDuringRestartDelay(t *testing.T) {
	m := NewMachine(5)
	d := m.Start()
	m.Apply(ChildStarted(d.Spawn, 321))
	pending := m.Apply(ChildExited(d.Spawn, 1))

	d = m.Apply(ShutdownRequested(syscall.SIGINT))
	if d.Action != ActionRelayShutdown {
		t.Fatalf("action = %q, want %q", d.Action, ActionRelayShutdown)
	}
	if d.RelayToChild {
		t.Error("RelayToChild = true for an exited worker, want false")
	}

	// The restart timer firing late must not spawn again.
	late := m.Apply(RestartDue(pending.Spawn))
	if late.Action != ActionNone {
		t.Errorf("late RestartDue action = %q, want %q", late.Action, ActionNone)
	}
	if m.Spawns() != 1 {
		t.Errorf("Spawns() = %d, want 1", m.Spawns())
	}
}

func TestMachine_ShutdownBeforeStartPreventsSpawn(t *testing.T) {
	m := NewMachine(5)

	d := m.Apply(ShutdownRequested(syscall.SIGTERM))
	if d.Action != ActionRelayShutdown || d.RelayToChild {
		t.Errorf("decision = %+v, want relay without child", d)
	}
	if start := m.Start(); start.Action != ActionNone {
		t.Errorf("Start() after shutdown action = %q, want %q", start.Action, ActionNone)
	}
}

func TestMachine_ShutdownAfterTerminalIgnored(t *testing.T) {
	m, _ := drive(t, 0, []int{1})

	d := m.Apply(ShutdownRequested(syscall.SIGTERM))
	if d.Action != ActionNone {
		t.Errorf("action = %q, want %q", d.Action, ActionNone)
	}
	if m.State() != StateStoppedMaxRetries {
		t.Errorf("State() = %q, want %q", m.State(), StateStoppedMaxRetries)
	}
}

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state State
		want  bool
	}{
		{StateStarting, false},
		{StateRunning, false},
		{StateExitedClean, false},
		{StateExitedError, false},
		{StateRestarting, false},
		{StateStoppedClean, true},
		{StateStoppedMaxRetries, true},
		{StateStoppedBySignal, true},
	}
	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.want {
			t.Errorf("%q.IsTerminal() = %v, want %v", tt.state, got, tt.want)
		}
	}
}
