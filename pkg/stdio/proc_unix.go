//go:build unix

package stdio

import (
	"os"
	"os/exec"
	"syscall"
)

// prepareCommand places the child in its own process group so termination
// signals also reach anything it spawned.
func prepareCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminateProcess(p *os.Process) error {
	return signalGroup(p, syscall.SIGTERM)
}

func killProcess(p *os.Process) error {
	return signalGroup(p, syscall.SIGKILL)
}

func signalGroup(p *os.Process, sig syscall.Signal) error {
	if err := syscall.Kill(-p.Pid, sig); err == nil {
		return nil
	}
	return p.Signal(sig)
}
