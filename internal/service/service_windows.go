//go:build windows

package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/eventlog"

	"chargechime/internal/config"
	"chargechime/internal/controller"
	"chargechime/internal/sessionchan"
)

// exitConfigFailure is E_FAIL, reported as the service-specific exit code when
// the service cannot start.
const exitConfigFailure = 0x80004005

const pbtAPMPowerStatusChange = 0x000A

// WTS_SESSION_NOTIFICATION reasons.
const (
	wtsConsoleConnect = 0x1
	wtsRemoteConnect  = 0x3
	wtsSessionLogon   = 0x5
	wtsSessionLogoff  = 0x6
)

type wtsSessionNotification struct {
	Size      uint32
	SessionID uint32
}

const (
	eventStart  = 1
	eventStop   = 2
	eventFailed = 3
)

// IsWindowsService reports whether the process was started by the SCM.
func IsWindowsService() (bool, error) {
	return svc.IsWindowsService()
}

// RunWindowsService hands the process to the SCM.
func RunWindowsService(configPath string) error {
	return svc.Run(Name, &handler{configPath: configPath})
}

type handler struct {
	configPath string
}

func (h *handler) Execute(_ []string, requests <-chan svc.ChangeRequest, status chan<- svc.Status) (bool, uint32) {
	status <- svc.Status{State: svc.StartPending}

	elog, err := eventlog.Open(Name)
	if err != nil {
		elog = nil
	} else {
		defer elog.Close()
	}

	rt, closeLog, err := h.setup()
	if err != nil {
		if elog != nil {
			_ = elog.Error(eventFailed, fmt.Sprintf("%s failed to start: %v", Name, err))
		}
		status <- svc.Status{State: svc.StopPending}
		return true, exitConfigFailure
	}
	defer closeLog.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.Controller.Start(ctx)
	if rt.Control != nil {
		go func() {
			if err := rt.Control.ListenAndServe(ctx, rt.ControlAddr); err != nil {
				rt.Logger.Error("control surface stopped", "error", err)
			}
		}()
	}

	// Events run one at a time in arrival order so a logoff cannot overtake
	// the logon before it.
	work := make(chan func(), 64)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		for fn := range work {
			fn()
		}
	}()

	if elog != nil {
		_ = elog.Info(eventStart, Name+" started")
	}
	const accepts = svc.AcceptStop | svc.AcceptShutdown | svc.AcceptPowerEvent | svc.AcceptSessionChange
	status <- svc.Status{State: svc.Running, Accepts: accepts}

loop:
	for req := range requests {
		switch req.Cmd {
		case svc.Interrogate:
			status <- req.CurrentStatus
		case svc.Stop, svc.Shutdown:
			break loop
		case svc.PowerEvent:
			if req.EventType == pbtAPMPowerStatusChange {
				work <- func() { rt.Controller.PowerChanged(ctx) }
			}
		case svc.SessionChange:
			if req.EventData == 0 {
				continue
			}
			n := (*wtsSessionNotification)(unsafe.Pointer(req.EventData))
			reason, id := sessionReason(req.EventType), sessionchan.SessionID(n.SessionID)
			work <- func() { rt.Controller.SessionChanged(reason, id) }
		default:
			if req.Cmd >= 128 && req.Cmd <= 255 {
				code := int(req.Cmd)
				work <- func() {
					if _, err := rt.Controller.CustomCommand(ctx, code); err != nil {
						rt.Logger.Warn("custom command failed", "code", code, "error", err)
					}
				}
				continue
			}
			rt.Logger.Debug("unexpected service control request", "cmd", uint32(req.Cmd))
		}
	}

	status <- svc.Status{State: svc.StopPending}
	close(work)
	<-workerDone
	cancel()
	if err := rt.Shutdown(); err != nil {
		rt.Logger.Warn("shutdown incomplete", "error", err)
	}
	if elog != nil {
		_ = elog.Info(eventStop, Name+" stopped")
	}
	return false, 0
}

func (h *handler) setup() (*Runtime, io.Closer, error) {
	cfg, err := config.Load(h.configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.ApplyRegistry(Name); err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, nil, err
	}
	dir := cfg.LogDir
	if dir == "" {
		dir = filepath.Join(os.Getenv("ProgramData"), Name)
	}
	logger, closer, err := OpenLogFile(dir)
	if err != nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		closer = io.NopCloser(nil)
	}
	rt := Build(cfg, exe, logger)
	// The SCM delivers power broadcasts.
	rt.Watcher = nil
	return rt, closer, nil
}

func sessionReason(event uint32) controller.SessionChange {
	switch event {
	case wtsSessionLogon:
		return controller.SessionLogon
	case wtsRemoteConnect:
		return controller.SessionRemoteConnect
	case wtsConsoleConnect:
		return controller.SessionConsoleConnect
	case wtsSessionLogoff:
		return controller.SessionLogoff
	default:
		return controller.SessionOther
	}
}
