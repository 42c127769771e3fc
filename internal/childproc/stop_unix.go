//go:build !windows

package childproc

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
)

// Stop asks the child's process group to exit with SIGTERM, waits out the
// grace window, then escalates to SIGKILL. ESRCH is tolerated so Stop is
// safe to call on an already-gone child.
func (c *Child) Stop(ctx context.Context) error {
	if c.cmd.Process == nil {
		return nil
	}

	if err := syscall.Kill(-c.cmd.Process.Pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("signal process group %s: %w", c.name, err)
	}

	select {
	case <-c.waitDone:
		return c.waitErr
	case <-c.clock.After(c.grace):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := syscall.Kill(-c.cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("kill process group %s: %w", c.name, err)
	}
	select {
	case <-c.waitDone:
		return c.waitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kill forcibly terminates the child's process group without a grace window.
func (c *Child) Kill() {
	if c.cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-c.cmd.Process.Pid, syscall.SIGKILL)
}

func signalZero(cmd *exec.Cmd) bool {
	if cmd.Process == nil {
		return false
	}
	return syscall.Kill(cmd.Process.Pid, 0) == nil
}
