//go:build unix

package sessionchan

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"
)

var (
	execCommand = exec.Command
	geteuid     = os.Geteuid
)

// ExecSpawner starts agents with os/exec. On unix hosts a session is
// identified by the uid that owns it; when the controller runs as root the
// agent is started with that user's credentials and runtime directory so it
// reaches the user's sound server. Without root only the controller's own uid
// can be served.
type ExecSpawner struct {
	RuntimeDirRoot string
}

func NewNativeSpawner() Spawner {
	return &ExecSpawner{RuntimeDirRoot: "/run/user"}
}

// InheritedRef returns the descriptor number the child sees: ExtraFiles start
// at 3.
func (s *ExecSpawner) InheritedRef(_ *os.File, index int) string {
	return strconv.Itoa(3 + index)
}

func (s *ExecSpawner) SpawnInSession(id SessionID, executable string, args []string, inherit []*os.File) (Process, error) {
	foreign := int(id) != os.Getuid()
	if foreign && geteuid() != 0 {
		return nil, fmt.Errorf("session %d belongs to another user and the controller is not root", id)
	}

	cmd := execCommand(executable, args...)
	cmd.ExtraFiles = inherit
	cmd.Env = os.Environ()

	if foreign {
		u, err := user.LookupId(strconv.FormatUint(uint64(id), 10))
		if err != nil {
			return nil, fmt.Errorf("lookup session user: %w", err)
		}
		gid, err := strconv.ParseUint(u.Gid, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("session user gid %q: %w", u.Gid, err)
		}
		cmd.SysProcAttr = &syscall.SysProcAttr{
			Credential: &syscall.Credential{Uid: uint32(id), Gid: uint32(gid)},
		}
		cmd.Env = []string{
			"HOME=" + u.HomeDir,
			"USER=" + u.Username,
			"LOGNAME=" + u.Username,
			"PATH=" + os.Getenv("PATH"),
			fmt.Sprintf("XDG_RUNTIME_DIR=%s/%d", s.RuntimeDirRoot, id),
		}
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	for _, f := range inherit {
		_ = f.Close()
	}
	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go p.wait()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func (p *execProcess) wait() {
	_ = p.cmd.Wait()
	close(p.done)
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return p.cmd.Process.Kill()
}

// Release is a no-op: the wait goroutine reaps the child.
func (p *execProcess) Release() error {
	return nil
}
