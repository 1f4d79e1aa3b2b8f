package integration

import (
	"context"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chargechime/internal/control"
	"chargechime/internal/controller"
	"chargechime/internal/loudness"
	"chargechime/internal/muteagent"
	"chargechime/internal/playback"
	"chargechime/internal/power"
	"chargechime/internal/sessionchan"
	"chargechime/internal/sessions"
)

type sessionMuter struct {
	mu     sync.Mutex
	muted  bool
	events []string
}

func (m *sessionMuter) MuteAllExcept(int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = true
	m.events = append(m.events, "mute")
	return nil
}

func (m *sessionMuter) UnmuteAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = false
	m.events = append(m.events, "unmute")
	return nil
}

func (m *sessionMuter) isMuted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

type agentProc struct {
	pid   int
	in    *os.File
	out   *os.File
	muter *sessionMuter
	done  chan error
	once  sync.Once
}

func (p *agentProc) Pid() int { return p.pid }

func (p *agentProc) Kill() error {
	p.once.Do(func() {
		_ = p.in.Close()
		_ = p.out.Close()
	})
	return nil
}

func (p *agentProc) Release() error { return nil }

// inProcessSpawner runs every agent as a goroutine over the manager's pipes.
type inProcessSpawner struct {
	mu      sync.Mutex
	procs   map[sessionchan.SessionID][]*agentProc
	nextPID int
}

func (s *inProcessSpawner) InheritedRef(_ *os.File, index int) string {
	return []string{"3", "4"}[index]
}

func (s *inProcessSpawner) SpawnInSession(id sessionchan.SessionID, _ string, args []string, inherit []*os.File) (sessionchan.Process, error) {
	params, err := muteagent.ParseArgs(args[1:])
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPID++
	p := &agentProc{pid: 5000 + s.nextPID, in: inherit[0], out: inherit[1], muter: &sessionMuter{}, done: make(chan error, 1)}
	a := &muteagent.Agent{ControllerPID: params.ControllerPID, In: p.in, Out: p.out, Muter: p.muter}
	go func() { p.done <- a.Run() }()
	if s.procs == nil {
		s.procs = make(map[sessionchan.SessionID][]*agentProc)
	}
	s.procs[id] = append(s.procs[id], p)
	return p, nil
}

func (s *inProcessSpawner) latest(id sessionchan.SessionID) *agentProc {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := s.procs[id]
	if len(ps) == 0 {
		return nil
	}
	return ps[len(ps)-1]
}

func (s *inProcessSpawner) count(id sessionchan.SessionID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs[id])
}

type masterEndpoint struct {
	mu     sync.Mutex
	volume float32
	muted  bool
}

func (e *masterEndpoint) MasterVolume() (float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume, nil
}

func (e *masterEndpoint) SetMasterVolume(v float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = v
	return nil
}

func (e *masterEndpoint) Mute() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted, nil
}

func (e *masterEndpoint) SetMute(m bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted = m
	return nil
}

func (e *masterEndpoint) state() (float32, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume, e.muted
}

// manualPlayer holds playback open until finish is called.
type manualPlayer struct {
	mu   sync.Mutex
	done func(error)
}

func (p *manualPlayer) Start(_ string, done func(error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = done
	return nil
}

func (p *manualPlayer) finish() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	done(nil)
}

type rig struct {
	spawner  *inProcessSpawner
	manager  *sessionchan.Manager
	endpoint *masterEndpoint
	adjuster *loudness.Adjuster
	player   *manualPlayer
	trigger  *playback.Trigger
	ctrl     *controller.Controller
}

func newRig(t *testing.T, active sessions.Source) *rig {
	t.Helper()
	r := &rig{
		spawner:  &inProcessSpawner{},
		endpoint: &masterEndpoint{volume: 0.3},
		player:   &manualPlayer{},
	}
	r.manager = sessionchan.NewManager(r.spawner, "/opt/chargechime/chargechime")
	r.manager.Timeout = time.Second
	r.adjuster = loudness.New(r.endpoint, r.manager, 0.5)
	r.adjuster.SettleDelay = 0
	r.trigger = playback.New("chime.wav", r.player, r.adjuster)
	r.ctrl = controller.New(controller.Options{
		Channels:   r.manager,
		Sessions:   active,
		Trigger:    r.trigger,
		Adjustment: r.adjuster,
	})
	t.Cleanup(r.manager.CloseAll)
	return r
}

func TestPlugInMutesSessionsAndRestoresAfterPlayback(t *testing.T) {
	r := newRig(t, sessions.Static{1, 2})
	ctx := context.Background()

	r.ctrl.PowerStatus(ctx, power.Status{HasBattery: true, ACOnline: true})
	require.True(t, r.trigger.Playing())
	assert.Equal(t, loudness.Applied, r.adjuster.State())
	assert.Equal(t, []sessionchan.SessionID{1, 2}, r.manager.Sessions())

	vol, muted := r.endpoint.state()
	assert.InDelta(t, 0.5, vol, 1e-6)
	assert.False(t, muted)
	assert.True(t, r.spawner.latest(1).muter.isMuted())
	assert.True(t, r.spawner.latest(2).muter.isMuted())

	r.player.finish()
	assert.False(t, r.trigger.Playing())
	assert.Equal(t, loudness.NotApplied, r.adjuster.State())
	vol, muted = r.endpoint.state()
	assert.InDelta(t, 0.3, vol, 1e-6)
	assert.False(t, muted)
	assert.False(t, r.spawner.latest(1).muter.isMuted())
	assert.False(t, r.spawner.latest(2).muter.isMuted())
}

func TestLoudEnoughEndpointIsLeftAlone(t *testing.T) {
	r := newRig(t, sessions.Static{1})
	r.endpoint.volume = 0.8

	require.NoError(t, r.ctrl.Play(context.Background()))
	assert.Equal(t, loudness.NotApplied, r.adjuster.State())
	assert.False(t, r.spawner.latest(1).muter.isMuted())
	r.player.finish()
	vol, _ := r.endpoint.state()
	assert.InDelta(t, 0.8, vol, 1e-6)
}

func TestDeadAgentIsReplacedBeforeNextPlayback(t *testing.T) {
	r := newRig(t, sessions.Static{1, 2})
	ctx := context.Background()
	r.ctrl.Start(ctx)
	first := r.spawner.latest(2)
	require.NoError(t, first.Kill())

	require.NoError(t, r.ctrl.Play(ctx))
	assert.Equal(t, 1, r.spawner.count(1))
	assert.Equal(t, 2, r.spawner.count(2))
	assert.True(t, r.spawner.latest(2).muter.isMuted())
	r.player.finish()
}

func TestLogoffStopsAgentAndShutdownStopsTheRest(t *testing.T) {
	r := newRig(t, sessions.Static{})
	ctx := context.Background()

	r.ctrl.SessionChanged(controller.SessionLogon, 1)
	r.ctrl.SessionChanged(controller.SessionRemoteConnect, 2)
	require.Equal(t, []sessionchan.SessionID{1, 2}, r.manager.Sessions())

	r.ctrl.SessionChanged(controller.SessionLogoff, 1)
	assert.Equal(t, []sessionchan.SessionID{2}, r.manager.Sessions())
	assert.NoError(t, waitExit(t, r.spawner.latest(1)))

	require.NoError(t, r.ctrl.Shutdown(ctx))
	assert.Empty(t, r.manager.Sessions())
	assert.NoError(t, waitExit(t, r.spawner.latest(2)))
}

func TestShutdownDuringPlaybackUnmutesSessions(t *testing.T) {
	r := newRig(t, sessions.Static{1})
	require.NoError(t, r.ctrl.Play(context.Background()))
	agent := r.spawner.latest(1)
	require.True(t, agent.muter.isMuted())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.ctrl.Shutdown(ctx), context.DeadlineExceeded)

	assert.Equal(t, loudness.NotApplied, r.adjuster.State())
	assert.False(t, agent.muter.isMuted())
	vol, _ := r.endpoint.state()
	assert.InDelta(t, 0.3, vol, 1e-6)
	assert.Empty(t, r.manager.Sessions())
	assert.NoError(t, waitExit(t, agent))

	r.player.finish()
	assert.False(t, r.trigger.Playing())
	vol, _ = r.endpoint.state()
	assert.InDelta(t, 0.3, vol, 1e-6)
}

func TestControlSurfaceTriggersPlayback(t *testing.T) {
	r := newRig(t, sessions.Static{4})
	tokens := control.NewTokenManager("s3cret")
	srv := httptest.NewServer(control.NewServer(r.ctrl, tokens, nil).Handler())
	defer srv.Close()

	tok, err := tokens.Issue("integration", time.Minute)
	require.NoError(t, err)
	client := &control.Client{Addr: strings.TrimPrefix(srv.URL, "http://"), Token: tok}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err = client.Command(ctx, controller.CommandPlay)
	require.NoError(t, err)

	st, err := client.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Playing)
	assert.Equal(t, "applied", st.Adjustment)
	require.Len(t, st.Sessions, 1)
	assert.Equal(t, uint32(4), st.Sessions[0].ID)
	assert.Equal(t, r.spawner.latest(4).pid, st.Sessions[0].AgentPID)

	r.player.finish()
	st, err = client.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Playing)
	assert.Equal(t, "not_applied", st.Adjustment)
}

func waitExit(t *testing.T, p *agentProc) error {
	t.Helper()
	select {
	case err := <-p.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not exit")
		return nil
	}
}
