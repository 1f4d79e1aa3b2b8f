// Package loudness raises the system output to a target level for the length
// of a notification while every interactive session is muted, and puts both
// back afterwards.
package loudness

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"chargechime/internal/muteproto"
)

type State int

const (
	NotApplied State = iota
	Applied
)

func (s State) String() string {
	if s == Applied {
		return "applied"
	}
	return "not_applied"
}

// Endpoint is the system-wide output device.
type Endpoint interface {
	MasterVolume() (float32, error)
	SetMasterVolume(level float32) error
	Mute() (bool, error)
	SetMute(muted bool) error
}

// Broadcaster fans a mute command out to every session agent.
type Broadcaster interface {
	Broadcast(cmd muteproto.Command) error
}

// Snapshot is the endpoint state captured by Apply.
type Snapshot struct {
	Volume float32
	Muted  bool
}

const DefaultSettleDelay = 200 * time.Millisecond

type Adjuster struct {
	endpoint Endpoint
	sessions Broadcaster
	target   float32

	SettleDelay time.Duration

	mu       sync.Mutex
	state    State
	snapshot Snapshot

	sleep  func(time.Duration)
	logger *slog.Logger
}

// New returns an adjuster that raises the endpoint to target, clamped to
// [0, 1].
func New(endpoint Endpoint, sessions Broadcaster, target float32) *Adjuster {
	return &Adjuster{
		endpoint:    endpoint,
		sessions:    sessions,
		target:      clamp(target),
		SettleDelay: DefaultSettleDelay,
		sleep:       time.Sleep,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (a *Adjuster) SetLogger(logger *slog.Logger) {
	if logger == nil {
		a.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		return
	}
	a.logger = logger
}

func (a *Adjuster) Target() float32 {
	return a.target
}

// Apply mutes the sessions and raises the endpoint, unless it is already
// applied or the endpoint is already unmuted at or above the target.
func (a *Adjuster) Apply() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == Applied {
		return
	}

	volume, err := a.endpoint.MasterVolume()
	if err != nil {
		a.logger.Warn("reading master volume failed, not adjusting", "error", err)
		return
	}
	muted, err := a.endpoint.Mute()
	if err != nil {
		a.logger.Warn("reading master mute failed, not adjusting", "error", err)
		return
	}
	if volume >= a.target && !muted {
		a.logger.Debug("endpoint already loud enough", "volume", volume, "target", a.target)
		return
	}

	a.snapshot = Snapshot{Volume: volume, Muted: muted}
	a.state = Applied
	a.logger.Info("applying loudness adjustment", "volume", volume, "muted", muted, "target", a.target)

	if err := a.sessions.Broadcast(muteproto.Mute); err != nil {
		a.logger.Warn("muting sessions failed", "error", err)
	}
	a.sleep(a.SettleDelay)
	if err := a.endpoint.SetMute(false); err != nil {
		a.logger.Warn("unmuting master endpoint failed", "error", err)
	}
	if err := a.endpoint.SetMasterVolume(a.target); err != nil {
		a.logger.Warn("setting master volume failed", "error", err)
	}
}

// Restore writes the snapshot back and unmutes the sessions. It always leaves
// the adjuster NotApplied and is a no-op when nothing was applied.
func (a *Adjuster) Restore() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == NotApplied {
		return
	}
	defer func() { a.state = NotApplied }()

	a.logger.Info("restoring loudness adjustment", "volume", a.snapshot.Volume, "muted", a.snapshot.Muted)
	if err := a.endpoint.SetMasterVolume(a.snapshot.Volume); err != nil {
		a.logger.Warn("restoring master volume failed", "error", err)
	}
	if err := a.endpoint.SetMute(a.snapshot.Muted); err != nil {
		a.logger.Warn("restoring master mute failed", "error", err)
	}
	a.sleep(a.SettleDelay)
	if err := a.sessions.Broadcast(muteproto.Unmute); err != nil {
		a.logger.Warn("unmuting sessions failed", "error", err)
	}
}

func (a *Adjuster) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Snapshot returns the captured endpoint state; ok is false unless Applied.
func (a *Adjuster) Snapshot() (Snapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot, a.state == Applied
}

func clamp(v float32) float32 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
