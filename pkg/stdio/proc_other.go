//go:build !unix

package stdio

import (
	"os"
	"os/exec"
)

func prepareCommand(*exec.Cmd) {}

func terminateProcess(p *os.Process) error {
	return p.Signal(os.Interrupt)
}

func killProcess(p *os.Process) error {
	return p.Kill()
}
