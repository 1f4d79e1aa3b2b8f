//go:build !unix && !windows

package sessionchan

import (
	"errors"
	"os"
)

type unsupportedSpawner struct{}

func NewNativeSpawner() Spawner {
	return unsupportedSpawner{}
}

func (unsupportedSpawner) InheritedRef(_ *os.File, index int) string {
	return ""
}

func (unsupportedSpawner) SpawnInSession(SessionID, string, []string, []*os.File) (Process, error) {
	return nil, errors.New("spawning session agents is not supported on this platform")
}
