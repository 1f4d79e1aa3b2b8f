// Package audio binds the host's sound system: the default output endpoint,
// the per-process audio sessions of the current interactive session, and file
// playback. Each platform provides NewEndpoint, NewSessionMuter, NewPlayer and
// ListSessions.
package audio

import (
	"errors"
	"fmt"
)

var ErrUnsupported = errors.New("audio control not supported on this platform")

// LocalSession is one application's audio stream in the current interactive
// session.
type LocalSession struct {
	ID    string
	PID   int
	Name  string
	Muted bool
}

func (s LocalSession) String() string {
	state := "unmuted"
	if s.Muted {
		state = "muted"
	}
	return fmt.Sprintf("%s pid=%d %q %s", s.ID, s.PID, s.Name, state)
}

// forEachExcept applies fn to every session whose PID differs from skip and
// joins the failures, so one stubborn stream does not stop the rest.
func forEachExcept(sessions []LocalSession, skip int, fn func(LocalSession) error) error {
	var errs []error
	for _, s := range sessions {
		if skip > 0 && s.PID == skip {
			continue
		}
		if err := fn(s); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", s.ID, err))
		}
	}
	return errors.Join(errs...)
}
