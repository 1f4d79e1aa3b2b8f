//go:build linux

package power

import (
	"os"
	"path/filepath"
	"strings"
)

// SysfsSource reads /sys/class/power_supply.
type SysfsSource struct {
	Root string
}

func NewSource() *SysfsSource {
	return &SysfsSource{Root: "/sys/class/power_supply"}
}

func (s *SysfsSource) Status() (Status, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return Status{}, err
	}
	var st Status
	for _, e := range entries {
		dir := filepath.Join(s.Root, e.Name())
		switch readAttr(dir, "type") {
		case "Battery":
			if readAttr(dir, "present") != "0" {
				st.HasBattery = true
			}
		case "Mains", "USB", "USB_C", "USB_PD":
			if readAttr(dir, "online") == "1" {
				st.ACOnline = true
			}
		}
	}
	return st, nil
}

func readAttr(dir, name string) string {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
