//go:build windows

package sessionchan

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

const defaultDesktop = `winsta0\default`

// SessionSpawner creates the agent inside another terminal-services session
// using that session's user token. The controller must run as LocalSystem
// (SeTcbPrivilege) for WTSQueryUserToken to succeed. Only the handles passed
// in inherit are inherited by the child.
type SessionSpawner struct {
	Desktop string
}

func NewNativeSpawner() Spawner {
	return &SessionSpawner{Desktop: defaultDesktop}
}

// InheritedRef returns the raw handle value, which is identical in the child
// for inherited handles.
func (s *SessionSpawner) InheritedRef(f *os.File, _ int) string {
	return strconv.FormatUint(uint64(f.Fd()), 10)
}

func (s *SessionSpawner) SpawnInSession(id SessionID, executable string, args []string, inherit []*os.File) (Process, error) {
	if len(inherit) == 0 {
		return nil, errors.New("no handles to inherit")
	}

	var token windows.Token
	if err := windows.WTSQueryUserToken(uint32(id), &token); err != nil {
		return nil, fmt.Errorf("query user token for session %d: %w", id, err)
	}
	defer token.Close()

	handles := make([]windows.Handle, 0, len(inherit))
	for _, f := range inherit {
		h := windows.Handle(f.Fd())
		if err := windows.SetHandleInformation(h, windows.HANDLE_FLAG_INHERIT, windows.HANDLE_FLAG_INHERIT); err != nil {
			return nil, fmt.Errorf("mark handle inheritable: %w", err)
		}
		handles = append(handles, h)
	}

	attrs, err := windows.NewProcThreadAttributeList(1)
	if err != nil {
		return nil, fmt.Errorf("attribute list: %w", err)
	}
	defer attrs.Delete()
	if err := attrs.Update(windows.PROC_THREAD_ATTRIBUTE_HANDLE_LIST,
		unsafe.Pointer(&handles[0]), uintptr(len(handles))*unsafe.Sizeof(handles[0])); err != nil {
		return nil, fmt.Errorf("attribute handle list: %w", err)
	}

	var env *uint16
	if err := windows.CreateEnvironmentBlock(&env, token, false); err != nil {
		return nil, fmt.Errorf("environment block: %w", err)
	}
	defer windows.DestroyEnvironmentBlock(env)

	desktop := s.Desktop
	if desktop == "" {
		desktop = defaultDesktop
	}
	desktopPtr, err := windows.UTF16PtrFromString(desktop)
	if err != nil {
		return nil, err
	}
	appName, err := windows.UTF16PtrFromString(executable)
	if err != nil {
		return nil, err
	}
	cmdLine, err := windows.UTF16PtrFromString(windows.ComposeCommandLine(append([]string{executable}, args...)))
	if err != nil {
		return nil, err
	}

	si := &windows.StartupInfoEx{}
	si.Cb = uint32(unsafe.Sizeof(*si))
	si.Desktop = desktopPtr
	si.Flags = windows.STARTF_USESHOWWINDOW
	si.ShowWindow = windows.SW_HIDE
	si.ProcThreadAttributeList = attrs.List()

	flags := uint32(windows.CREATE_UNICODE_ENVIRONMENT | windows.CREATE_NO_WINDOW | windows.EXTENDED_STARTUPINFO_PRESENT)
	var pi windows.ProcessInformation
	err = windows.CreateProcessAsUser(token, appName, cmdLine, nil, nil, true, flags, env, nil, &si.StartupInfo, &pi)
	if err != nil {
		for _, h := range handles {
			_ = windows.SetHandleInformation(h, windows.HANDLE_FLAG_INHERIT, 0)
		}
		return nil, fmt.Errorf("create process in session %d: %w", id, err)
	}
	_ = windows.CloseHandle(pi.Thread)
	for _, f := range inherit {
		_ = f.Close()
	}
	return &winProcess{handle: pi.Process, pid: int(pi.ProcessId)}, nil
}

type winProcess struct {
	handle windows.Handle
	pid    int
	once   sync.Once
}

func (p *winProcess) Pid() int {
	return p.pid
}

func (p *winProcess) Kill() error {
	return windows.TerminateProcess(p.handle, 1)
}

func (p *winProcess) Release() error {
	var err error
	p.once.Do(func() {
		err = windows.CloseHandle(p.handle)
	})
	return err
}
