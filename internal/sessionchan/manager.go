// Package sessionchan keeps one mute agent per interactive session and the
// private command channel to each of them.
package sessionchan

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"chargechime/internal/muteagent"
	"chargechime/internal/muteproto"
)

type SessionID uint32

// Process is a spawned agent process.
type Process interface {
	Pid() int
	Kill() error
	Release() error
}

// Spawner starts an agent inside a given interactive session, handing it the
// inherit files. InheritedRef names how the agent process will see
// inherit[index]. On success the spawner owns the inherit files; on failure
// the caller still does.
type Spawner interface {
	InheritedRef(f *os.File, index int) string
	SpawnInSession(id SessionID, executable string, args []string, inherit []*os.File) (Process, error)
}

var ErrNoSession = errors.New("no channel for session")

const DefaultTimeout = 2 * time.Second

type entry struct {
	id   SessionID
	out  *os.File // controller -> agent
	in   *os.File // agent -> controller
	proc Process
}

func (e *entry) exchange(cmd muteproto.Command, timeout time.Duration) error {
	return muteproto.Exchange(e.out, e.in, cmd, timeout)
}

type Manager struct {
	spawner    Spawner
	executable string

	// ControllerPID is passed to agents so they never mute the controller.
	ControllerPID int
	Timeout       time.Duration

	mu      sync.Mutex
	entries map[SessionID]*entry

	newPipe func() (r, w *os.File, err error)
	logger  *slog.Logger
}

func NewManager(spawner Spawner, executable string) *Manager {
	return &Manager{
		spawner:       spawner,
		executable:    executable,
		ControllerPID: os.Getpid(),
		Timeout:       DefaultTimeout,
		entries:       make(map[SessionID]*entry),
		newPipe:       os.Pipe,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (m *Manager) SetLogger(logger *slog.Logger) {
	if logger == nil {
		m.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		return
	}
	m.logger = logger
}

// EnsureChannel makes sure a live agent serves session id. A registered
// channel that answers PING is kept as is; a dead one is discarded and
// replaced by a freshly spawned agent.
func (m *Manager) EnsureChannel(id SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e := m.entries[id]; e != nil {
		err := e.exchange(muteproto.Ping, m.Timeout)
		if err == nil {
			return nil
		}
		m.logger.Info("session agent probe failed, respawning", "session", id, "error", err)
		m.dropLocked(e)
	}
	return m.spawnLocked(id)
}

func (m *Manager) spawnLocked(id SessionID) error {
	agentIn, ctrlOut, err := m.newPipe()
	if err != nil {
		return fmt.Errorf("create command pipe: %w", err)
	}
	ctrlIn, agentOut, err := m.newPipe()
	if err != nil {
		closeFiles(agentIn, ctrlOut)
		return fmt.Errorf("create reply pipe: %w", err)
	}

	inherit := []*os.File{agentIn, agentOut}
	args := muteagent.Args(m.ControllerPID,
		m.spawner.InheritedRef(agentIn, 0),
		m.spawner.InheritedRef(agentOut, 1))
	proc, err := m.spawner.SpawnInSession(id, m.executable, args, inherit)
	if err != nil {
		closeFiles(agentIn, agentOut, ctrlOut, ctrlIn)
		m.logger.Warn("spawning session agent failed", "session", id, "error", err)
		return fmt.Errorf("spawn agent in session %d: %w", id, err)
	}

	m.entries[id] = &entry{id: id, out: ctrlOut, in: ctrlIn, proc: proc}
	m.logger.Info("session agent started", "session", id, "pid", proc.Pid())
	return nil
}

// CloseChannel tells the agent for id to exit and forgets it. Unknown ids are
// ignored.
func (m *Manager) CloseChannel(id SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked(id)
}

func (m *Manager) closeLocked(id SessionID) {
	e := m.entries[id]
	if e == nil {
		return
	}
	_ = muteproto.WriteCommand(e.out, muteproto.Exit)
	closeFiles(e.out, e.in)
	_ = e.proc.Release()
	delete(m.entries, id)
	m.logger.Info("session agent closed", "session", id)
}

// dropLocked discards a broken channel. The agent may be stalled rather than
// gone, so it is killed instead of asked to exit.
func (m *Manager) dropLocked(e *entry) {
	closeFiles(e.out, e.in)
	_ = e.proc.Kill()
	_ = e.proc.Release()
	delete(m.entries, e.id)
}

func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.sortedIDsLocked() {
		m.closeLocked(id)
	}
}

// Broadcast sends cmd (MUTE or UNMUTE) to every registered agent and waits for
// each ACK. Agents that fail are removed after the pass completes.
func (m *Manager) Broadcast(cmd muteproto.Command) error {
	if cmd != muteproto.Mute && cmd != muteproto.Unmute {
		return fmt.Errorf("broadcast %s: only MUTE and UNMUTE may be broadcast", cmd)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var failed []SessionID
	for _, id := range m.sortedIDsLocked() {
		if err := m.entries[id].exchange(cmd, m.Timeout); err != nil {
			m.logger.Info("session agent failed during broadcast", "session", id, "command", cmd.String(), "error", err)
			failed = append(failed, id)
		}
	}
	for _, id := range failed {
		m.dropLocked(m.entries[id])
	}
	return nil
}

// Sessions returns the registered session ids in ascending order.
func (m *Manager) Sessions() []SessionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedIDsLocked()
}

// AgentPID returns the process id of the agent serving id.
func (m *Manager) AgentPID(id SessionID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[id]
	if e == nil {
		return 0, fmt.Errorf("%w %d", ErrNoSession, id)
	}
	return e.proc.Pid(), nil
}

func (m *Manager) sortedIDsLocked() []SessionID {
	ids := make([]SessionID, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}
