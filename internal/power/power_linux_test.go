//go:build linux

package power

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSupply(t *testing.T, root, name string, attrs map[string]string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for k, v := range attrs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, k), []byte(v+"\n"), 0o644))
	}
}

func TestSysfsSourceLaptopOnAC(t *testing.T) {
	root := t.TempDir()
	writeSupply(t, root, "BAT0", map[string]string{"type": "Battery", "present": "1"})
	writeSupply(t, root, "AC", map[string]string{"type": "Mains", "online": "1"})

	st, err := (&SysfsSource{Root: root}).Status()
	require.NoError(t, err)
	assert.Equal(t, Status{HasBattery: true, ACOnline: true}, st)
}

func TestSysfsSourceDesktopWithoutBattery(t *testing.T) {
	root := t.TempDir()
	writeSupply(t, root, "AC", map[string]string{"type": "Mains", "online": "1"})
	writeSupply(t, root, "hidpp_battery_0", map[string]string{"type": "Battery", "present": "0"})

	st, err := (&SysfsSource{Root: root}).Status()
	require.NoError(t, err)
	assert.False(t, st.HasBattery)
	assert.True(t, st.ACOnline)
}

func TestSysfsSourceMissingRoot(t *testing.T) {
	_, err := (&SysfsSource{Root: filepath.Join(t.TempDir(), "absent")}).Status()
	assert.Error(t, err)
}
