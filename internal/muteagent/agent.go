// Package muteagent is the helper that runs inside one interactive session and
// mutes that session's audio on behalf of the controller.
package muteagent

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"chargechime/internal/muteproto"
)

// Muter silences and restores the audio sessions local to the agent's
// interactive session.
type Muter interface {
	MuteAllExcept(pid int) error
	UnmuteAll() error
}

type Agent struct {
	ControllerPID int
	In            io.ReadCloser
	Out           io.WriteCloser
	Muter         Muter
	Logger        *slog.Logger

	muted bool
}

// Run serves commands until EXIT, a read failure on In, or an unknown command
// byte. Both endpoints are closed when Run returns. EXIT yields a nil error.
func (a *Agent) Run() error {
	if a.In == nil || a.Out == nil {
		return errors.New("agent endpoints required")
	}
	if a.Muter == nil {
		return errors.New("muter required")
	}
	if a.Logger == nil {
		a.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	defer func() {
		_ = a.In.Close()
		_ = a.Out.Close()
	}()

	for {
		cmd, err := muteproto.ReadCommand(a.In)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("controller closed channel: %w", err)
			}
			return err
		}
		switch cmd {
		case muteproto.Ping:
			// liveness only
		case muteproto.Mute:
			a.mute()
		case muteproto.Unmute:
			a.unmute()
		case muteproto.Exit:
			return nil
		case muteproto.None, muteproto.Ack:
			continue
		}
		if err := muteproto.WriteCommand(a.Out, muteproto.Ack); err != nil {
			return fmt.Errorf("write ack: %w", err)
		}
	}
}

func (a *Agent) mute() {
	if a.muted {
		return
	}
	if err := a.Muter.MuteAllExcept(a.ControllerPID); err != nil {
		a.Logger.Debug("muting local audio sessions failed", "error", err)
		return
	}
	a.muted = true
}

// unmute restores every local session, the controller's included: nothing is
// left muted after restoration.
func (a *Agent) unmute() {
	if !a.muted {
		return
	}
	if err := a.Muter.UnmuteAll(); err != nil {
		a.Logger.Debug("unmuting local audio sessions failed", "error", err)
	}
	a.muted = false
}

// Muted reports whether the last MUTE took effect and has not been undone.
func (a *Agent) Muted() bool {
	return a.muted
}
