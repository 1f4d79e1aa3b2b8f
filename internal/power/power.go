// Package power reports whether the host runs on a battery and whether
// external power is connected.
package power

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

var ErrUnavailable = errors.New("power status unavailable on this platform")

type Status struct {
	HasBattery bool
	ACOnline   bool
}

// Charging reports the condition that triggers a notification: a battery is
// present and external power is connected.
func (s Status) Charging() bool {
	return s.HasBattery && s.ACOnline
}

func (s Status) String() string {
	return fmt.Sprintf("battery=%t ac=%t", s.HasBattery, s.ACOnline)
}

// Source reads the current power status.
type Source interface {
	Status() (Status, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func() (Status, error)

func (f SourceFunc) Status() (Status, error) { return f() }

const DefaultPollInterval = 5 * time.Second

// Watcher polls a Source and reports every change of status. Hosts without a
// power broadcast use it in place of the service manager's power events.
type Watcher struct {
	Source   Source
	Interval time.Duration
	Logger   *slog.Logger
}

// Run samples the source until ctx is done, calling onChange with each status
// that differs from the previous sample. The first successful sample only
// establishes the baseline.
func (w *Watcher) Run(ctx context.Context, onChange func(Status)) error {
	logger := w.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		last  Status
		known bool
	)
	sample := func() {
		st, err := w.Source.Status()
		if err != nil {
			logger.Debug("power status read failed", "error", err)
			return
		}
		if known && st != last {
			logger.Info("power status changed", "from", last.String(), "to", st.String())
			onChange(st)
		}
		last, known = st, true
	}

	sample()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sample()
		}
	}
}
