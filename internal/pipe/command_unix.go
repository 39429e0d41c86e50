//go:build !windows

package pipe

import (
	"syscall"
	"time"
)

// killGracePeriod is how long a command has to exit after SIGTERM
// before its process group gets SIGKILL.
const killGracePeriod = 2 * time.Second

// runInOwnProcessGroup makes the command the leader of a new process
// group, so that `kill()` reaches any children it spawns too.
func (s *commandStage) runInOwnProcessGroup() {
	if s.cmd.SysProcAttr == nil {
		s.cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	s.cmd.SysProcAttr.Setpgid = true
}

// signalGroup sends `sig` to the command's process group (whose PGID
// is the command's PID), unless the command has already exited.
func (s *commandStage) signalGroup(sig syscall.Signal) bool {
	select {
	case <-s.exited:
		return false
	default:
	}
	_ = syscall.Kill(-s.cmd.Process.Pid, sig)
	return true
}

// kill asks the command's process group to terminate, and escalates to
// SIGKILL if it is still around after `killGracePeriod`. It doesn't
// wait for the command to exit.
func (s *commandStage) kill() {
	if !s.signalGroup(syscall.SIGTERM) {
		return
	}

	go func() {
		timer := time.NewTimer(killGracePeriod)
		defer timer.Stop()

		select {
		case <-s.exited:
		case <-timer.C:
			s.signalGroup(syscall.SIGKILL)
		}
	}()
}
