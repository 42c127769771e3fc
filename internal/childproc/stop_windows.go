//go:build windows

package childproc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

func (c *Child) Stop(ctx context.Context) error {
	if c.cmd.Process == nil {
		return nil
	}
	// Attempt a graceful shutdown first.
	_ = c.cmd.Process.Signal(os.Interrupt)

	select {
	case <-c.waitDone:
		return c.waitErr
	case <-c.clock.After(c.grace):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill process %s: %w", c.name, err)
	}
	select {
	case <-c.waitDone:
		return c.waitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Child) Kill() {
	if c.cmd.Process == nil {
		return
	}
	_ = c.cmd.Process.Kill()
}

func signalZero(cmd *exec.Cmd) bool {
	if cmd.Process == nil {
		return false
	}
	return cmd.ProcessState == nil
}
