//go:build windows

package power

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32                 = windows.NewLazySystemDLL("kernel32.dll")
	procGetSystemPowerStatus = kernel32.NewProc("GetSystemPowerStatus")
)

type systemPowerStatus struct {
	ACLineStatus        byte
	BatteryFlag         byte
	BatteryLifePercent  byte
	SystemStatusFlag    byte
	BatteryLifeTime     uint32
	BatteryFullLifeTime uint32
}

const (
	acOnline        = 1
	batteryFlagNone = 128
)

type KernelSource struct{}

func NewSource() KernelSource {
	return KernelSource{}
}

func (KernelSource) Status() (Status, error) {
	var sps systemPowerStatus
	r, _, err := procGetSystemPowerStatus.Call(uintptr(unsafe.Pointer(&sps)))
	if r == 0 {
		return Status{}, fmt.Errorf("GetSystemPowerStatus: %w", err)
	}
	return Status{
		HasBattery: sps.BatteryFlag != batteryFlagNone,
		ACOnline:   sps.ACLineStatus == acOnline,
	}, nil
}
