// Package sessions discovers the interactive sessions that should host a mute
// agent.
package sessions

import (
	"context"
	"errors"

	"chargechime/internal/sessionchan"
)

var ErrUnavailable = errors.New("session discovery unavailable on this platform")

// Source lists the currently active interactive sessions.
type Source interface {
	Active(ctx context.Context) ([]sessionchan.SessionID, error)
}

// Static is a fixed session list, used when discovery is unavailable and in
// tests.
type Static []sessionchan.SessionID

func (s Static) Active(context.Context) ([]sessionchan.SessionID, error) {
	return append([]sessionchan.SessionID(nil), s...), nil
}
