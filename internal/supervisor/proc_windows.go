//go:build windows

package supervisor

import (
	"errors"
	"os"
	"os/exec"
)

// defaultStopSignal is relayed to the worker on shutdown.
var defaultStopSignal os.Signal = os.Interrupt

// setSysProcAttr is a no-op on Windows; there is no Setpgid.
func setSysProcAttr(_ *exec.Cmd) {}

// signalChild tries an interrupt and falls back to Kill, since Windows does
// not deliver arbitrary signals to other processes.
func signalChild(p *os.Process, sig os.Signal) error {
	if err := p.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return err
		}
		return p.Kill()
	}
	return nil
}
