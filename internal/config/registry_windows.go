//go:build windows

package config

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows/registry"
)

// ApplyRegistry overlays the values stored under the service's Config key:
// AudioFile (REG_SZ) and TargetVolume (REG_DWORD). A missing key or value
// leaves the corresponding field unchanged.
func (c *Config) ApplyRegistry(service string) error {
	path := `SYSTEM\CurrentControlSet\Services\` + service + `\Config`
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, path, registry.QUERY_VALUE)
	if err != nil {
		if errors.Is(err, registry.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open HKLM\\%s: %w", path, err)
	}
	defer k.Close()

	if s, _, err := k.GetStringValue("AudioFile"); err == nil {
		c.AudioFile = s
	} else if !errors.Is(err, registry.ErrNotExist) {
		return fmt.Errorf("read AudioFile: %w", err)
	}
	if v, _, err := k.GetIntegerValue("TargetVolume"); err == nil {
		pct := int(min(v, 100))
		c.TargetVolume = &pct
	} else if !errors.Is(err, registry.ErrNotExist) {
		return fmt.Errorf("read TargetVolume: %w", err)
	}
	return nil
}
