//go:build windows

package sessions

import (
	"context"
	"fmt"
	"slices"
	"unsafe"

	"golang.org/x/sys/windows"

	"chargechime/internal/sessionchan"
)

// WTSSource enumerates Remote Desktop Services sessions in the WTSActive
// state. Session 0 hosts services and never has a desktop.
type WTSSource struct{}

func NewSource() *WTSSource {
	return &WTSSource{}
}

func (WTSSource) Active(context.Context) ([]sessionchan.SessionID, error) {
	var (
		infos *windows.WTS_SESSION_INFO
		count uint32
	)
	if err := windows.WTSEnumerateSessions(0, 0, 1, &infos, &count); err != nil {
		return nil, fmt.Errorf("WTSEnumerateSessions: %w", err)
	}
	defer windows.WTSFreeMemory(uintptr(unsafe.Pointer(infos)))

	var ids []sessionchan.SessionID
	for _, info := range unsafe.Slice(infos, count) {
		if info.SessionID == 0 || info.State != windows.WTSActive {
			continue
		}
		ids = append(ids, sessionchan.SessionID(info.SessionID))
	}
	slices.Sort(ids)
	return ids, nil
}
