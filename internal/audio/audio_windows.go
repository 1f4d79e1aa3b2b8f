//go:build windows

package audio

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"unsafe"

	ole "github.com/go-ole/go-ole"
	"github.com/moutend/go-wca/pkg/wca"
	"golang.org/x/sys/windows"
)

// withDefaultEndpoint runs fn against the default multimedia render device on
// a COM-initialized, locked OS thread.
func withDefaultEndpoint(fn func(dev *wca.IMMDevice) error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
		// S_FALSE: COM was already initialized on this thread.
		const sFalse = 1
		var oleErr *ole.OleError
		if !errors.As(err, &oleErr) || oleErr.Code() != sFalse {
			return fmt.Errorf("initialize COM: %w", err)
		}
	}
	defer ole.CoUninitialize()

	var enumerator *wca.IMMDeviceEnumerator
	if err := wca.CoCreateInstance(wca.CLSID_MMDeviceEnumerator, 0, wca.CLSCTX_ALL, wca.IID_IMMDeviceEnumerator, &enumerator); err != nil {
		return fmt.Errorf("create device enumerator: %w", err)
	}
	defer enumerator.Release()

	var dev *wca.IMMDevice
	if err := enumerator.GetDefaultAudioEndpoint(wca.ERender, wca.EMultimedia, &dev); err != nil {
		return fmt.Errorf("default render endpoint: %w", err)
	}
	defer dev.Release()

	return fn(dev)
}

func withEndpointVolume(fn func(v *wca.IAudioEndpointVolume) error) error {
	return withDefaultEndpoint(func(dev *wca.IMMDevice) error {
		var vol *wca.IAudioEndpointVolume
		if err := dev.Activate(wca.IID_IAudioEndpointVolume, wca.CLSCTX_ALL, nil, &vol); err != nil {
			return fmt.Errorf("activate endpoint volume: %w", err)
		}
		defer vol.Release()
		return fn(vol)
	})
}

// CoreAudioEndpoint is the default render device's master volume.
type CoreAudioEndpoint struct{}

func NewEndpoint() *CoreAudioEndpoint {
	return &CoreAudioEndpoint{}
}

func (CoreAudioEndpoint) MasterVolume() (float32, error) {
	var level float32
	err := withEndpointVolume(func(v *wca.IAudioEndpointVolume) error {
		return v.GetMasterVolumeLevelScalar(&level)
	})
	return level, err
}

func (CoreAudioEndpoint) SetMasterVolume(level float32) error {
	return withEndpointVolume(func(v *wca.IAudioEndpointVolume) error {
		return v.SetMasterVolumeLevelScalar(level, nil)
	})
}

func (CoreAudioEndpoint) Mute() (bool, error) {
	var muted bool
	err := withEndpointVolume(func(v *wca.IAudioEndpointVolume) error {
		return v.GetMute(&muted)
	})
	return muted, err
}

func (CoreAudioEndpoint) SetMute(muted bool) error {
	return withEndpointVolume(func(v *wca.IAudioEndpointVolume) error {
		return v.SetMute(muted, nil)
	})
}

// eachSession visits every audio session on the default endpoint with its
// owning process id and simple volume control. The system sounds session has
// no single owning process and is reported as pid 0.
func eachSession(fn func(idx int, pid int, vol *wca.ISimpleAudioVolume) error) error {
	return withDefaultEndpoint(func(dev *wca.IMMDevice) error {
		var mgr *wca.IAudioSessionManager2
		if err := dev.Activate(wca.IID_IAudioSessionManager2, wca.CLSCTX_ALL, nil, &mgr); err != nil {
			return fmt.Errorf("activate session manager: %w", err)
		}
		defer mgr.Release()

		var enum *wca.IAudioSessionEnumerator
		if err := mgr.GetSessionEnumerator(&enum); err != nil {
			return fmt.Errorf("session enumerator: %w", err)
		}
		defer enum.Release()

		var count int
		if err := enum.GetCount(&count); err != nil {
			return fmt.Errorf("session count: %w", err)
		}

		var errs []error
		for i := 0; i < count; i++ {
			if err := visitSession(enum, i, fn); err != nil {
				errs = append(errs, fmt.Errorf("session %d: %w", i, err))
			}
		}
		return errors.Join(errs...)
	})
}

func visitSession(enum *wca.IAudioSessionEnumerator, i int, fn func(int, int, *wca.ISimpleAudioVolume) error) error {
	var ctl *wca.IAudioSessionControl
	if err := enum.GetSession(i, &ctl); err != nil {
		return err
	}
	defer ctl.Release()

	dispatch, err := ctl.QueryInterface(wca.IID_IAudioSessionControl2)
	if err != nil {
		return err
	}
	ctl2 := (*wca.IAudioSessionControl2)(unsafe.Pointer(dispatch))
	defer ctl2.Release()

	var pid uint32
	if err := ctl2.GetProcessId(&pid); err != nil {
		pid = 0
	}

	dispatch, err = ctl2.QueryInterface(wca.IID_ISimpleAudioVolume)
	if err != nil {
		return err
	}
	vol := (*wca.ISimpleAudioVolume)(unsafe.Pointer(dispatch))
	defer vol.Release()

	return fn(i, int(pid), vol)
}

// CoreAudioSessionMuter mutes the per-process sessions of the interactive
// session it runs in.
type CoreAudioSessionMuter struct{}

func NewSessionMuter() *CoreAudioSessionMuter {
	return &CoreAudioSessionMuter{}
}

func (CoreAudioSessionMuter) MuteAllExcept(skip int) error {
	return eachSession(func(_ int, pid int, vol *wca.ISimpleAudioVolume) error {
		if skip > 0 && pid == skip {
			return nil
		}
		return vol.SetMute(true, nil)
	})
}

func (CoreAudioSessionMuter) UnmuteAll() error {
	return eachSession(func(_ int, _ int, vol *wca.ISimpleAudioVolume) error {
		return vol.SetMute(false, nil)
	})
}

func ListSessions() ([]LocalSession, error) {
	var out []LocalSession
	err := eachSession(func(idx int, pid int, vol *wca.ISimpleAudioVolume) error {
		var muted bool
		if err := vol.GetMute(&muted); err != nil {
			return err
		}
		out = append(out, LocalSession{ID: strconv.Itoa(idx), PID: pid, Name: processName(pid), Muted: muted})
		return nil
	})
	return out, err
}

func processName(pid int) string {
	if pid == 0 {
		return "system sounds"
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return ""
	}
	defer windows.CloseHandle(h)
	buf := make([]uint16, windows.MAX_PATH)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &size); err != nil {
		return ""
	}
	return windows.UTF16ToString(buf[:size])
}

var (
	winmm          = windows.NewLazySystemDLL("winmm.dll")
	procPlaySoundW = winmm.NewProc("PlaySoundW")
)

const (
	sndSync      = 0x0000
	sndNoDefault = 0x0002
	sndFilename  = 0x00020000
)

// WinmmPlayer plays WAV files through PlaySoundW on its own goroutine. One
// file plays at a time process-wide.
type WinmmPlayer struct {
	mu sync.Mutex
}

func NewPlayer() *WinmmPlayer {
	return &WinmmPlayer{}
}

func (p *WinmmPlayer) Start(file string, done func(error)) error {
	if err := procPlaySoundW.Find(); err != nil {
		return fmt.Errorf("winmm PlaySoundW: %w", err)
	}
	name, err := windows.UTF16PtrFromString(file)
	if err != nil {
		return err
	}
	go func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		r, _, callErr := procPlaySoundW.Call(uintptr(unsafe.Pointer(name)), 0, sndFilename|sndNoDefault|sndSync)
		if r == 0 {
			done(fmt.Errorf("PlaySoundW %s: %w", file, callErr))
			return
		}
		done(nil)
	}()
	return nil
}
