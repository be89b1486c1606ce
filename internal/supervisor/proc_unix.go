//go:build unix

package supervisor

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// defaultStopSignal is relayed to the worker on shutdown.
var defaultStopSignal os.Signal = syscall.SIGTERM

// setSysProcAttr puts the worker in its own process group so that terminal
// signals reach it only through the supervisor's relay.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalChild sends sig to the worker's whole process group.
func signalChild(p *os.Process, sig os.Signal) error {
	sysSig, ok := sig.(syscall.Signal)
	if !ok {
		return p.Signal(sig)
	}

	// Negative PID addresses the process group created via Setpgid.
	if err := syscall.Kill(-p.Pid, sysSig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	return nil
}
