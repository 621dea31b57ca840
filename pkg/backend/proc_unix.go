//go:build !windows

package backend

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup starts the backend in its own process group so that
// signals reach any children it spawns.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalTerminate(p *os.Process) error {
	return signalGroup(p, syscall.SIGTERM)
}

func forceKill(p *os.Process) error {
	return signalGroup(p, syscall.SIGKILL)
}

func signalGroup(p *os.Process, sig syscall.Signal) error {
	if err := syscall.Kill(-p.Pid, sig); err != nil {
		// Fall back to the process itself if the group is already gone.
		return p.Signal(sig)
	}
	return nil
}
