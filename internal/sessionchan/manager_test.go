package sessionchan

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chargechime/internal/muteagent"
	"chargechime/internal/muteproto"
)

type recordingMuter struct {
	mu     sync.Mutex
	events []string
}

func (m *recordingMuter) MuteAllExcept(int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, "mute")
	return nil
}

func (m *recordingMuter) UnmuteAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, "unmute")
	return nil
}

func (m *recordingMuter) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

// fakeProcess is an agent running as a goroutine over the real pipe ends.
type fakeProcess struct {
	pid   int
	in    *os.File
	out   *os.File
	muter *recordingMuter
	done  chan error
	once  sync.Once
}

func (p *fakeProcess) Pid() int { return p.pid }

// Kill simulates the agent process dying: its pipe ends go away.
func (p *fakeProcess) Kill() error {
	p.once.Do(func() {
		_ = p.in.Close()
		_ = p.out.Close()
	})
	return nil
}

func (p *fakeProcess) Release() error { return nil }

func (p *fakeProcess) exited(t *testing.T) error {
	t.Helper()
	select {
	case err := <-p.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not exit")
		return nil
	}
}

type fakeSpawner struct {
	mu       sync.Mutex
	fail     map[SessionID]error
	spawns   map[SessionID]int
	procs    map[SessionID]*fakeProcess
	lastArgs []string
	nextPID  int
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{
		fail:    make(map[SessionID]error),
		spawns:  make(map[SessionID]int),
		procs:   make(map[SessionID]*fakeProcess),
		nextPID: 1000,
	}
}

func (s *fakeSpawner) InheritedRef(_ *os.File, index int) string {
	return []string{"in", "out"}[index]
}

func (s *fakeSpawner) SpawnInSession(id SessionID, executable string, args []string, inherit []*os.File) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastArgs = append([]string{executable}, args...)
	if err := s.fail[id]; err != nil {
		return nil, err
	}
	s.spawns[id]++
	s.nextPID++
	p := &fakeProcess{
		pid:   s.nextPID,
		in:    inherit[0],
		out:   inherit[1],
		muter: &recordingMuter{},
		done:  make(chan error, 1),
	}
	agent := &muteagent.Agent{ControllerPID: 1, In: p.in, Out: p.out, Muter: p.muter}
	go func() { p.done <- agent.Run() }()
	s.procs[id] = p
	return p, nil
}

func (s *fakeSpawner) proc(id SessionID) *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[id]
}

func (s *fakeSpawner) spawnCount(id SessionID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawns[id]
}

func (s *fakeSpawner) setFail(id SessionID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, id)
		return
	}
	s.fail[id] = err
}

func newTestManager(t *testing.T) (*Manager, *fakeSpawner) {
	t.Helper()
	sp := newFakeSpawner()
	m := NewManager(sp, "/opt/chargechime/chargechime")
	m.ControllerPID = 321
	m.Timeout = 500 * time.Millisecond
	t.Cleanup(m.CloseAll)
	return m, sp
}

func TestEnsureChannelSpawnsWithAgentArgs(t *testing.T) {
	m, sp := newTestManager(t)

	require.NoError(t, m.EnsureChannel(2))
	assert.Equal(t, []SessionID{2}, m.Sessions())
	assert.Equal(t, []string{"/opt/chargechime/chargechime", muteagent.Marker, "321", "in", "out"}, sp.lastArgs)

	pid, err := m.AgentPID(2)
	require.NoError(t, err)
	assert.Equal(t, sp.proc(2).pid, pid)
}

func TestEnsureChannelReusesLiveAgent(t *testing.T) {
	m, sp := newTestManager(t)

	require.NoError(t, m.EnsureChannel(3))
	require.NoError(t, m.EnsureChannel(3))
	require.NoError(t, m.EnsureChannel(3))

	assert.Equal(t, 1, sp.spawnCount(3))
	assert.Equal(t, []SessionID{3}, m.Sessions())
}

func TestEnsureChannelRespawnsDeadAgent(t *testing.T) {
	m, sp := newTestManager(t)

	require.NoError(t, m.EnsureChannel(3))
	first := sp.proc(3)
	require.NoError(t, first.Kill())
	first.exited(t)

	require.NoError(t, m.EnsureChannel(3))
	assert.Equal(t, 2, sp.spawnCount(3))
	assert.NotSame(t, first, sp.proc(3))
	assert.Equal(t, []SessionID{3}, m.Sessions())
}

func TestEnsureChannelSpawnFailureLeavesNoEntryAndRetries(t *testing.T) {
	m, sp := newTestManager(t)
	sp.setFail(5, errors.New("no user token"))

	err := m.EnsureChannel(5)
	require.Error(t, err)
	assert.Empty(t, m.Sessions())
	_, err = m.AgentPID(5)
	assert.ErrorIs(t, err, ErrNoSession)

	sp.setFail(5, nil)
	require.NoError(t, m.EnsureChannel(5))
	assert.Equal(t, []SessionID{5}, m.Sessions())
	assert.Equal(t, 1, sp.spawnCount(5))
}

func TestBroadcastReachesEveryAgent(t *testing.T) {
	m, sp := newTestManager(t)
	require.NoError(t, m.EnsureChannel(1))
	require.NoError(t, m.EnsureChannel(2))

	require.NoError(t, m.Broadcast(muteproto.Mute))
	require.NoError(t, m.Broadcast(muteproto.Unmute))

	for _, id := range []SessionID{1, 2} {
		assert.Equal(t, []string{"mute", "unmute"}, sp.proc(id).muter.snapshot(), "session %d", id)
	}
}

func TestBroadcastPrunesExactlyTheFailedSessions(t *testing.T) {
	m, sp := newTestManager(t)
	for _, id := range []SessionID{1, 2, 3} {
		require.NoError(t, m.EnsureChannel(id))
	}
	require.NoError(t, sp.proc(2).Kill())
	sp.proc(2).exited(t)

	require.NoError(t, m.Broadcast(muteproto.Mute))

	assert.Equal(t, []SessionID{1, 3}, m.Sessions())
	assert.Equal(t, []string{"mute"}, sp.proc(1).muter.snapshot())
	assert.Equal(t, []string{"mute"}, sp.proc(3).muter.snapshot())
}

func TestBroadcastRejectsOtherCommands(t *testing.T) {
	m, _ := newTestManager(t)
	assert.Error(t, m.Broadcast(muteproto.Ping))
	assert.Error(t, m.Broadcast(muteproto.Exit))
}

func TestCloseChannelSendsExit(t *testing.T) {
	m, sp := newTestManager(t)
	require.NoError(t, m.EnsureChannel(4))

	m.CloseChannel(4)
	assert.NoError(t, sp.proc(4).exited(t))
	assert.Empty(t, m.Sessions())
}

func TestCloseOnUnknownSessionsIsSafe(t *testing.T) {
	m, _ := newTestManager(t)
	assert.NotPanics(t, func() {
		m.CloseChannel(99)
		m.CloseAll()
	})
}

func TestCloseAllStopsEveryAgent(t *testing.T) {
	m, sp := newTestManager(t)
	for _, id := range []SessionID{1, 2} {
		require.NoError(t, m.EnsureChannel(id))
	}

	m.CloseAll()
	assert.Empty(t, m.Sessions())
	assert.NoError(t, sp.proc(1).exited(t))
	assert.NoError(t, sp.proc(2).exited(t))
}

type stalledSpawner struct {
	*fakeSpawner
	files []*os.File
}

// SpawnInSession keeps the pipe ends open but never answers.
func (s *stalledSpawner) SpawnInSession(id SessionID, _ string, _ []string, inherit []*os.File) (Process, error) {
	s.files = append(s.files, inherit...)
	return &fakeProcess{pid: 7, in: inherit[0], out: inherit[1]}, nil
}

func TestEnsureChannelTreatsStalledAgentAsDead(t *testing.T) {
	sp := &stalledSpawner{fakeSpawner: newFakeSpawner()}
	m := NewManager(sp, "agent")
	m.Timeout = 50 * time.Millisecond
	t.Cleanup(m.CloseAll)

	require.NoError(t, m.EnsureChannel(1))
	start := time.Now()
	require.NoError(t, m.EnsureChannel(1))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Len(t, sp.files, 4)
}
