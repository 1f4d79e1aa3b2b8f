package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlayer struct {
	mu       sync.Mutex
	startErr error
	starts   []string
	done     func(error)
	order    *[]string
}

func (p *fakePlayer) Start(file string, done func(error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.order != nil {
		*p.order = append(*p.order, "start")
	}
	p.starts = append(p.starts, file)
	if p.startErr != nil {
		return p.startErr
	}
	p.done = done
	return nil
}

func (p *fakePlayer) finish(err error) {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	done(err)
}

type fakeAdjuster struct {
	order    *[]string
	applies  int
	restores int
}

func (a *fakeAdjuster) Apply() {
	a.applies++
	*a.order = append(*a.order, "apply")
}

func (a *fakeAdjuster) Restore() {
	a.restores++
	*a.order = append(*a.order, "restore")
}

func TestPlayAppliesBeforeOutputAndRestoresOnCompletion(t *testing.T) {
	var order []string
	player := &fakePlayer{order: &order}
	adj := &fakeAdjuster{order: &order}
	trig := New("chime.wav", player, adj)

	require.NoError(t, trig.Play())
	assert.True(t, trig.Playing())
	assert.Equal(t, []string{"apply", "start"}, order)

	player.finish(nil)
	assert.False(t, trig.Playing())
	assert.Equal(t, []string{"apply", "start", "restore"}, order)
}

func TestPlayIsNoOpWhilePlaying(t *testing.T) {
	var order []string
	player := &fakePlayer{order: &order}
	adj := &fakeAdjuster{order: &order}
	trig := New("chime.wav", player, adj)

	require.NoError(t, trig.Play())
	require.NoError(t, trig.Play())
	assert.Len(t, player.starts, 1)
	assert.Equal(t, 1, adj.applies)
}

func TestCompletionRestoresExactlyOnce(t *testing.T) {
	var order []string
	player := &fakePlayer{order: &order}
	adj := &fakeAdjuster{order: &order}
	trig := New("chime.wav", player, adj)

	require.NoError(t, trig.Play())
	player.finish(errors.New("device lost"))
	player.finish(nil)
	assert.Equal(t, 1, adj.restores)
	assert.False(t, trig.Playing())
}

func TestStartFailureStillRestores(t *testing.T) {
	var order []string
	player := &fakePlayer{order: &order, startErr: errors.New("unsupported format")}
	adj := &fakeAdjuster{order: &order}
	trig := New("chime.xyz", player, adj)

	err := trig.Play()
	require.Error(t, err)
	assert.Equal(t, []string{"apply", "start", "restore"}, order)
	assert.False(t, trig.Playing())

	player.startErr = nil
	require.NoError(t, trig.Play())
	assert.Equal(t, 2, adj.applies)
}

func TestPlayWithoutAdjuster(t *testing.T) {
	player := &fakePlayer{}
	trig := New("chime.wav", player, nil)

	require.NoError(t, trig.Play())
	player.finish(nil)
	assert.False(t, trig.Playing())
}

func TestWaitReturnsWhenPlaybackEnds(t *testing.T) {
	player := &fakePlayer{}
	trig := New("chime.wav", player, nil)
	require.NoError(t, trig.Wait(context.Background()))

	require.NoError(t, trig.Play())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, trig.Wait(ctx), context.DeadlineExceeded)

	go player.finish(nil)
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	assert.NoError(t, trig.Wait(ctx2))
}
