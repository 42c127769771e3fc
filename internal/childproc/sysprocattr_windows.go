//go:build windows

package childproc

import "os/exec"

func configureCmdSysProcAttr(cmd *exec.Cmd) {}
