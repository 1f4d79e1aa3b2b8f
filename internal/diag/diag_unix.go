//go:build unix

package diag

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
)

var (
	execCommand = exec.CommandContext
	ptyStart    = pty.Start
)

// run starts the process on a pty so it formats output for a terminal, and
// drains the pty until the child exits.
func (r *Runner) run(ctx context.Context) (string, error) {
	cmd := execCommand(ctx, r.Executable, r.Args...)
	cmd.Env = append(os.Environ(), "TERM=dumb")
	ptmx, err := ptyStart(cmd)
	if err != nil {
		return "", fmt.Errorf("start diagnostic process: %w", err)
	}
	defer ptmx.Close()

	var buf bytes.Buffer
	copied := make(chan struct{})
	go func() {
		defer close(copied)
		_, err := io.Copy(&buf, ptmx)
		// Linux reports EIO on the master once the child side closes.
		if err != nil && !errors.Is(err, syscall.EIO) && !errors.Is(err, os.ErrClosed) {
			r.logger().Debug("reading diagnostic output", "error", err)
		}
	}()

	waitErr := cmd.Wait()
	<-copied
	if waitErr != nil {
		return buf.String(), fmt.Errorf("diagnostic process: %w", waitErr)
	}
	return buf.String(), nil
}
