// Package service assembles the controller from configuration and runs it,
// either under the host service manager or in the foreground.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"chargechime/internal/audio"
	"chargechime/internal/config"
	"chargechime/internal/control"
	"chargechime/internal/controller"
	"chargechime/internal/diag"
	"chargechime/internal/loudness"
	"chargechime/internal/playback"
	"chargechime/internal/power"
	"chargechime/internal/sessionchan"
	"chargechime/internal/sessions"
)

// Name is the service name registered with the host service manager.
const Name = "chargechime"

const shutdownTimeout = 30 * time.Second

// Runtime is a fully wired controller plus its optional background loops.
type Runtime struct {
	Controller  *controller.Controller
	Control     *control.Server
	ControlAddr string
	// Watcher polls power status on hosts without power broadcasts. Nil when
	// the service manager delivers power events.
	Watcher *power.Watcher
	Logger  *slog.Logger
}

// Build wires the native session spawner, audio backends and controller for
// cfg. executable is the path agents and the diagnostic process are started
// from.
func Build(cfg *config.Config, executable string, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	mgr := sessionchan.NewManager(sessionchan.NewNativeSpawner(), executable)
	mgr.Timeout = cfg.ChannelTimeout
	mgr.SetLogger(logger.With("component", "sessionchan"))

	opts := controller.Options{
		Channels: mgr,
		Sessions: sessions.NewSource(),
		Power:    power.NewSource(),
		Diag:     &diag.Runner{Executable: executable, Args: []string{diag.Subcommand}, Logger: logger.With("component", "diag")},
		Logger:   logger.With("component", "controller"),
	}

	var trig *playback.Trigger
	if target, ok := cfg.Target(); ok {
		adj := loudness.New(audio.NewEndpoint(), mgr, target)
		adj.SettleDelay = cfg.SettleDelay
		adj.SetLogger(logger.With("component", "loudness"))
		trig = playback.New(cfg.AudioFile, audio.NewPlayer(), adj)
		opts.Adjustment = adj
	} else {
		trig = playback.New(cfg.AudioFile, audio.NewPlayer(), nil)
	}
	trig.SetLogger(logger.With("component", "playback"))
	opts.Trigger = trig

	rt := &Runtime{Controller: controller.New(opts), Logger: logger}
	if cfg.ControlEnabled() {
		tokens := control.NewTokenManager(cfg.Control.TokenSecret)
		rt.Control = control.NewServer(rt.Controller, tokens, logger.With("component", "control"))
		rt.ControlAddr = cfg.Control.Addr
	}
	rt.Watcher = &power.Watcher{Source: opts.Power, Interval: cfg.PowerPollInterval, Logger: logger.With("component", "power")}
	return rt
}

// Run starts the controller and its background loops and blocks until ctx is
// done, then shuts the controller down.
func (rt *Runtime) Run(ctx context.Context) error {
	rt.Controller.Start(ctx)
	rt.Logger.Info("controller started")

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 2)
	running := 0
	if rt.Control != nil {
		running++
		go func() { errc <- rt.Control.ListenAndServe(loopCtx, rt.ControlAddr) }()
	}
	if rt.Watcher != nil {
		running++
		go func() {
			errc <- rt.Watcher.Run(loopCtx, func(st power.Status) { rt.Controller.PowerStatus(loopCtx, st) })
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errc:
		running--
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = fmt.Errorf("background loop: %w", err)
			rt.Logger.Error("background loop failed", "error", err)
		}
	}
	cancel()
	for ; running > 0; running-- {
		<-errc
	}
	return errors.Join(runErr, rt.Shutdown())
}

func (rt *Runtime) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := rt.Controller.Shutdown(ctx)
	rt.Logger.Info("controller stopped")
	return err
}

// OpenLogFile returns a JSON logger writing to chargechime.log in dir,
// creating dir if needed.
func OpenLogFile(dir string) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, Name+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return slog.New(slog.NewJSONHandler(f, nil)), f, nil
}
