package supervisor

import "errors"

// Domain-specific errors for the supervisor.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrRestartBudgetExhausted is returned by Run when the worker kept
	// failing after MaxRestarts restarts. It is the only fatal outcome.
	ErrRestartBudgetExhausted = errors.New("supervisor: restart budget exhausted")

	// ErrAlreadyRunning is returned when Run is called more than once.
	ErrAlreadyRunning = errors.New("supervisor: already started")

	// ErrSpawnFailed wraps errors from creating the worker process.
	ErrSpawnFailed = errors.New("supervisor: spawning worker failed")
)

// ExitCode maps the result of Run to the supervisor's own process exit status.
//
// Clean worker exits and signal-driven shutdowns (nil) map to 0; anything
// else, including ErrRestartBudgetExhausted, maps to 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
