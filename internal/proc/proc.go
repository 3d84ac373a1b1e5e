package proc

import (
	"os/exec"
	"syscall"
	"time"
)

// Stop terminates a started command in two phases: SIGTERM, then SIGKILL if
// the process has not exited within the grace period. It always reaps the
// process. Audio capture tools (arecord, pacat) finalize their output on
// SIGTERM, so the graceful phase matters.
func Stop(cmd *exec.Cmd, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(grace):
		_ = cmd.Process.Kill()
		return <-done
	}
}
