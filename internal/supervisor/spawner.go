package supervisor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Spawner creates worker processes.
type Spawner interface {
	// Spawn starts a new worker. It must not block until the worker exits.
	Spawn() (Child, error)
}

// Child is a handle to one running worker process.
type Child interface {
	// PID returns the operating system process ID.
	PID() int

	// Wait blocks until the worker exits and returns its exit code.
	// A non-nil error means the exit status could not be determined;
	// the code is then -1.
	Wait() (int, error)

	// Signal delivers sig to the worker. It returns os.ErrProcessDone if the
	// worker has already gone.
	Signal(sig os.Signal) error
}

// ExecSpawner starts the worker with os/exec.
//
// The worker inherits the supervisor's standard streams and environment, with
// PortEnv forced to Port.
type ExecSpawner struct {
	// Binary is the path or name of the executable.
	Binary string

	// Args are passed to the binary unchanged on every spawn.
	Args []string

	// WorkDir is the working directory. Empty inherits the supervisor's.
	WorkDir string

	// PortEnv is the environment variable carrying the listening port.
	PortEnv string

	// Port is written to PortEnv, replacing any inherited value.
	Port int

	// Env is the base environment. Nil means os.Environ().
	Env []string

	// Stdin, Stdout and Stderr default to the supervisor's own streams.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Spawn implements Spawner.
func (s *ExecSpawner) Spawn() (Child, error) {
	cmd := exec.Command(s.Binary, s.Args...) //nolint:gosec // Binary comes from operator config

	base := s.Env
	if base == nil {
		base = os.Environ()
	}
	cmd.Env = WorkerEnv(base, s.PortEnv, s.Port)
	cmd.Dir = s.WorkDir

	cmd.Stdin = s.Stdin
	if cmd.Stdin == nil {
		cmd.Stdin = os.Stdin
	}
	cmd.Stdout = s.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = s.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	setSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSpawnFailed, s.Binary, err)
	}
	return &execChild{cmd: cmd}, nil
}

// WorkerEnv returns base with every key=... entry replaced by key=port.
// If key is empty base is returned as a copy.
func WorkerEnv(base []string, key string, port int) []string {
	env := make([]string, 0, len(base)+1)
	if key == "" {
		return append(env, base...)
	}

	prefix := key + "="
	for _, kv := range base {
		if strings.HasPrefix(kv, prefix) {
			continue
		}
		env = append(env, kv)
	}
	return append(env, prefix+strconv.Itoa(port))
}

// execChild adapts *exec.Cmd to Child.
type execChild struct {
	cmd *exec.Cmd
}

func (c *execChild) PID() int {
	return c.cmd.Process.Pid
}

func (c *execChild) Wait() (int, error) {
	err := c.cmd.Wait()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// ExitCode is -1 when the worker was killed by a signal.
		return exitErr.ExitCode(), nil
	}
	return spawnFailureExitCode, err
}

func (c *execChild) Signal(sig os.Signal) error {
	return signalChild(c.cmd.Process, sig)
}
