//go:build windows

package diag

import (
	"context"
	"fmt"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

var execCommand = exec.CommandContext

func (r *Runner) run(ctx context.Context) (string, error) {
	cmd := execCommand(ctx, r.Executable, r.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true, CreationFlags: windows.CREATE_NO_WINDOW}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("diagnostic process: %w", err)
	}
	return string(out), nil
}
