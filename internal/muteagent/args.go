package muteagent

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// Marker is the first argument that selects agent mode in the dual-mode
// executable.
const Marker = "session-muter"

type Params struct {
	ControllerPID int
	InRef         string
	OutRef        string
}

// Args builds the argument vector (marker included) that starts an agent.
func Args(controllerPID int, inRef, outRef string) []string {
	return []string{Marker, strconv.Itoa(controllerPID), inRef, outRef}
}

// ParseArgs parses the three positional agent parameters that follow the
// marker.
func ParseArgs(args []string) (Params, error) {
	if len(args) != 3 {
		return Params{}, fmt.Errorf("expected 3 arguments (controller pid, in handle, out handle), got %d", len(args))
	}
	pid, err := strconv.Atoi(args[0])
	if err != nil || pid <= 0 {
		return Params{}, fmt.Errorf("invalid controller pid %q", args[0])
	}
	if args[1] == "" || args[2] == "" {
		return Params{}, errors.New("handle references required")
	}
	return Params{ControllerPID: pid, InRef: args[1], OutRef: args[2]}, nil
}

// Open turns inherited handle references into files. A reference is the
// numeric descriptor or handle value as seen by the agent process.
func (p Params) Open() (in, out *os.File, err error) {
	in, err = openRef(p.InRef, "mute-in")
	if err != nil {
		return nil, nil, err
	}
	out, err = openRef(p.OutRef, "mute-out")
	if err != nil {
		_ = in.Close()
		return nil, nil, err
	}
	return in, out, nil
}

func openRef(ref, name string) (*os.File, error) {
	v, err := strconv.ParseUint(ref, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid handle reference %q: %w", ref, err)
	}
	f := os.NewFile(uintptr(v), name)
	if f == nil {
		return nil, fmt.Errorf("invalid handle reference %q", ref)
	}
	return f, nil
}
