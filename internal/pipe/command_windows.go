//go:build windows

package pipe

// runInOwnProcessGroup is a no-op; Windows has no process groups that
// `kill()` could signal.
func (s *commandStage) runInOwnProcessGroup() {}

func (s *commandStage) kill() {
	select {
	case <-s.exited:
		return
	default:
	}

	_ = s.cmd.Process.Kill()
}
