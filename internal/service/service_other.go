//go:build !windows

package service

// IsWindowsService is always false off Windows.
func IsWindowsService() (bool, error) {
	return false, nil
}

func RunWindowsService(string) error {
	return nil
}
