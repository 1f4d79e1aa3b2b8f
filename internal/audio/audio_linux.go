//go:build linux

package audio

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

var (
	execCommand = exec.Command
	lookPath    = exec.LookPath
)

const defaultSink = "@DEFAULT_SINK@"

// PulseEndpoint drives the default PulseAudio/PipeWire sink through pactl.
type PulseEndpoint struct{}

func NewEndpoint() *PulseEndpoint {
	return &PulseEndpoint{}
}

var percentRE = regexp.MustCompile(`(\d+)%`)

func (PulseEndpoint) MasterVolume() (float32, error) {
	out, err := pactl("get-sink-volume", defaultSink)
	if err != nil {
		return 0, err
	}
	m := percentRE.FindSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("unexpected pactl volume output %q", strings.TrimSpace(string(out)))
	}
	pct, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0, err
	}
	return float32(pct) / 100, nil
}

func (PulseEndpoint) SetMasterVolume(level float32) error {
	_, err := pactl("set-sink-volume", defaultSink, fmt.Sprintf("%d%%", int(level*100+0.5)))
	return err
}

func (PulseEndpoint) Mute() (bool, error) {
	out, err := pactl("get-sink-mute", defaultSink)
	if err != nil {
		return false, err
	}
	return parseYesNo(string(out))
}

func (PulseEndpoint) SetMute(muted bool) error {
	_, err := pactl("set-sink-mute", defaultSink, boolArg(muted))
	return err
}

// PulseSessionMuter mutes sink inputs, PulseAudio's per-stream sessions.
type PulseSessionMuter struct{}

func NewSessionMuter() *PulseSessionMuter {
	return &PulseSessionMuter{}
}

func (PulseSessionMuter) MuteAllExcept(pid int) error {
	sessions, err := ListSessions()
	if err != nil {
		return err
	}
	return forEachExcept(sessions, pid, func(s LocalSession) error {
		_, err := pactl("set-sink-input-mute", s.ID, "1")
		return err
	})
}

func (PulseSessionMuter) UnmuteAll() error {
	sessions, err := ListSessions()
	if err != nil {
		return err
	}
	return forEachExcept(sessions, 0, func(s LocalSession) error {
		_, err := pactl("set-sink-input-mute", s.ID, "0")
		return err
	})
}

func ListSessions() ([]LocalSession, error) {
	out, err := pactl("list", "sink-inputs")
	if err != nil {
		return nil, err
	}
	return parseSinkInputs(out), nil
}

func parseSinkInputs(out []byte) []LocalSession {
	var sessions []LocalSession
	var cur *LocalSession
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "Sink Input #"):
			sessions = append(sessions, LocalSession{ID: strings.TrimPrefix(line, "Sink Input #")})
			cur = &sessions[len(sessions)-1]
		case cur == nil:
		case strings.HasPrefix(line, "Mute:"):
			cur.Muted, _ = parseYesNo(line)
		case strings.HasPrefix(line, "application.process.id = "):
			cur.PID, _ = strconv.Atoi(unquoteProp(line, "application.process.id = "))
		case strings.HasPrefix(line, "application.name = "):
			cur.Name = unquoteProp(line, "application.name = ")
		}
	}
	return sessions
}

func unquoteProp(line, prefix string) string {
	return strings.Trim(strings.TrimPrefix(line, prefix), `"`)
}

func parseYesNo(s string) (bool, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasSuffix(s, "yes"):
		return true, nil
	case strings.HasSuffix(s, "no"):
		return false, nil
	default:
		return false, fmt.Errorf("unexpected pactl mute output %q", s)
	}
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func pactl(args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := execCommand("pactl", args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("pactl %s: %w: %s", args[0], err, msg)
		}
		return nil, fmt.Errorf("pactl %s: %w", args[0], err)
	}
	return out, nil
}

// CommandPlayer plays a file with the first available of paplay or aplay.
type CommandPlayer struct {
	Candidates []string
}

func NewPlayer() *CommandPlayer {
	return &CommandPlayer{Candidates: []string{"paplay", "aplay"}}
}

func (p *CommandPlayer) Start(file string, done func(error)) error {
	var bin string
	for _, c := range p.Candidates {
		if path, err := lookPath(c); err == nil {
			bin = path
			break
		}
	}
	if bin == "" {
		return errors.New("no audio player found (tried " + strings.Join(p.Candidates, ", ") + ")")
	}
	cmd := execCommand(bin, file)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		done(cmd.Wait())
	}()
	return nil
}
