// Package controller dispatches host events (power changes, session changes,
// custom commands, shutdown) to the session channels and the playback trigger
// one at a time.
package controller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/shirou/gopsutil/v3/process"

	"chargechime/internal/loudness"
	"chargechime/internal/power"
	"chargechime/internal/sessionchan"
	"chargechime/internal/sessions"
)

// Custom service control codes.
const (
	CommandPlay     = 128
	CommandDiagnose = 129
)

type SessionChange int

const (
	SessionOther SessionChange = iota
	SessionLogon
	SessionRemoteConnect
	SessionConsoleConnect
	SessionLogoff
)

func (r SessionChange) String() string {
	switch r {
	case SessionLogon:
		return "logon"
	case SessionRemoteConnect:
		return "remote_connect"
	case SessionConsoleConnect:
		return "console_connect"
	case SessionLogoff:
		return "logoff"
	default:
		return "other"
	}
}

// Channels is the per-session agent registry.
type Channels interface {
	EnsureChannel(id sessionchan.SessionID) error
	CloseChannel(id sessionchan.SessionID)
	CloseAll()
	Sessions() []sessionchan.SessionID
	AgentPID(id sessionchan.SessionID) (int, error)
}

type Trigger interface {
	Play() error
	Playing() bool
	Wait(ctx context.Context) error
}

// Adjustment is the loudness state machine: its state for status reports and
// Restore for shutdown.
type Adjustment interface {
	State() loudness.State
	Restore()
}

// Diagnostics runs the diagnostic process and returns its output.
type Diagnostics interface {
	Run(ctx context.Context) (string, error)
}

type Options struct {
	Channels   Channels
	Sessions   sessions.Source
	Power      power.Source
	Trigger    Trigger
	Adjustment Adjustment
	Diag       Diagnostics
	Logger     *slog.Logger
}

type Controller struct {
	channels   Channels
	sessions   sessions.Source
	power      power.Source
	trigger    Trigger
	adjustment Adjustment
	diag       Diagnostics

	mu     sync.Mutex
	logger *slog.Logger
}

var pidExists = process.PidExistsWithContext

func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Controller{
		channels:   opts.Channels,
		sessions:   opts.Sessions,
		power:      opts.Power,
		trigger:    opts.Trigger,
		adjustment: opts.Adjustment,
		diag:       opts.Diag,
		logger:     logger,
	}
}

// Start spawns agents for the sessions already active when the service
// starts.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureActiveLocked(ctx)
}

func (c *Controller) ensureActiveLocked(ctx context.Context) {
	if c.sessions == nil {
		return
	}
	ids, err := c.sessions.Active(ctx)
	if err != nil {
		c.logger.Warn("listing active sessions failed", "error", err)
		return
	}
	for _, id := range ids {
		if err := c.channels.EnsureChannel(id); err != nil {
			c.logger.Warn("session agent unavailable", "session", id, "error", err)
		}
	}
}

// PowerChanged reads the power status after a power broadcast and plays when
// the host is now charging.
func (c *Controller) PowerChanged(ctx context.Context) {
	if c.power == nil {
		return
	}
	st, err := c.power.Status()
	if err != nil {
		c.logger.Warn("reading power status failed", "error", err)
		return
	}
	c.PowerStatus(ctx, st)
}

// PowerStatus handles an already sampled power status.
func (c *Controller) PowerStatus(ctx context.Context, st power.Status) {
	c.logger.Info("power status change", "battery", st.HasBattery, "ac", st.ACOnline)
	if !st.Charging() {
		return
	}
	if err := c.Play(ctx); err != nil {
		c.logger.Warn("playback failed", "error", err)
	}
}

// Play makes sure every active session has an agent and starts playback.
func (c *Controller) Play(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureActiveLocked(ctx)
	return c.trigger.Play()
}

func (c *Controller) SessionChanged(reason SessionChange, id sessionchan.SessionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger.Info("session change", "session", id, "reason", reason.String())
	switch reason {
	case SessionLogon, SessionRemoteConnect, SessionConsoleConnect:
		if err := c.channels.EnsureChannel(id); err != nil {
			c.logger.Warn("session agent unavailable", "session", id, "error", err)
		}
	case SessionLogoff:
		c.channels.CloseChannel(id)
	}
}

// CustomCommand runs a numeric service control code and returns any output it
// produced. Unknown codes are logged and ignored.
func (c *Controller) CustomCommand(ctx context.Context, code int) (string, error) {
	c.logger.Info("custom command", "code", code)
	switch code {
	case CommandPlay:
		return "", c.Play(ctx)
	case CommandDiagnose:
		if c.diag == nil {
			return "", fmt.Errorf("diagnostics not available")
		}
		out, err := c.diag.Run(ctx)
		if err != nil {
			c.logger.Warn("diagnostic process failed", "error", err)
		}
		return out, err
	default:
		c.logger.Debug("ignoring unknown custom command", "code", code)
		return "", nil
	}
}

// Shutdown waits for in-flight playback to finish and be restored, then tells
// every agent to exit. When ctx expires first the adjustment is restored while
// the agents can still unmute their sessions, and the agents are closed anyway.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.trigger.Wait(ctx)
	if err != nil {
		c.logger.Warn("playback still running at shutdown", "error", err)
		if c.adjustment != nil {
			c.adjustment.Restore()
		}
	}
	c.channels.CloseAll()
	c.logger.Info("all session agents closed")
	return err
}

type SessionStatus struct {
	ID       sessionchan.SessionID
	AgentPID int
	Alive    bool
}

type Status struct {
	Sessions   []SessionStatus
	Playing    bool
	Adjustment string
}

func (c *Controller) Status(ctx context.Context) Status {
	st := Status{Playing: c.trigger.Playing(), Adjustment: loudness.NotApplied.String()}
	if c.adjustment != nil {
		st.Adjustment = c.adjustment.State().String()
	}
	for _, id := range c.channels.Sessions() {
		ss := SessionStatus{ID: id}
		if pid, err := c.channels.AgentPID(id); err == nil {
			ss.AgentPID = pid
			ss.Alive, _ = pidExists(ctx, int32(pid))
		}
		st.Sessions = append(st.Sessions, ss)
	}
	return st
}
