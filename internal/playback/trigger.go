// Package playback plays the notification file once at a time, bracketing the
// output with a loudness adjustment when one is configured.
package playback

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Player starts asynchronous output of file and calls done exactly once when
// output ends, with the error that ended it if any. done is not called when
// Start itself fails.
type Player interface {
	Start(file string, done func(error)) error
}

type Adjuster interface {
	Apply()
	Restore()
}

type Trigger struct {
	file     string
	player   Player
	adjuster Adjuster

	mu      sync.Mutex
	playing bool
	idle    chan struct{}

	logger *slog.Logger
}

// New returns a trigger for file. adjuster may be nil to play at the current
// volume.
func New(file string, player Player, adjuster Adjuster) *Trigger {
	idle := make(chan struct{})
	close(idle)
	return &Trigger{
		file:     file,
		player:   player,
		adjuster: adjuster,
		idle:     idle,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (t *Trigger) SetLogger(logger *slog.Logger) {
	if logger == nil {
		t.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		return
	}
	t.logger = logger
}

// Play starts playback unless it is already in progress.
func (t *Trigger) Play() error {
	t.mu.Lock()
	if t.playing {
		t.mu.Unlock()
		t.logger.Debug("playback already in progress")
		return nil
	}
	t.playing = true
	idle := make(chan struct{})
	t.idle = idle
	t.mu.Unlock()

	if t.adjuster != nil {
		t.adjuster.Apply()
	}

	var once sync.Once
	finish := func(err error) {
		once.Do(func() {
			if err != nil {
				t.logger.Warn("playback ended with error", "file", t.file, "error", err)
			} else {
				t.logger.Info("playback finished", "file", t.file)
			}
			if t.adjuster != nil {
				t.adjuster.Restore()
			}
			t.mu.Lock()
			t.playing = false
			close(idle)
			t.mu.Unlock()
		})
	}

	t.logger.Info("playback starting", "file", t.file)
	if err := t.player.Start(t.file, finish); err != nil {
		finish(err)
		return fmt.Errorf("start playback of %s: %w", t.file, err)
	}
	return nil
}

func (t *Trigger) Playing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing
}

// Wait blocks until no playback is in progress.
func (t *Trigger) Wait(ctx context.Context) error {
	t.mu.Lock()
	idle := t.idle
	t.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
