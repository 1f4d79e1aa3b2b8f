// Package diag starts the diagnostic subcommand as a child process and
// collects what it prints.
package diag

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
)

// Subcommand is the argument that selects diagnostic mode.
const Subcommand = "diagnose"

type Runner struct {
	Executable string
	Args       []string
	Logger     *slog.Logger
}

func NewRunner(executable string, args ...string) *Runner {
	return &Runner{Executable: executable, Args: append([]string{Subcommand}, args...)}
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r.Logger
}

// Run executes the diagnostic process and returns its output.
func (r *Runner) Run(ctx context.Context) (string, error) {
	out, err := r.run(ctx)
	logger := r.logger()
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		if line := strings.TrimRight(sc.Text(), "\r"); line != "" {
			logger.Info("diagnostic", "line", line)
		}
	}
	return out, err
}
