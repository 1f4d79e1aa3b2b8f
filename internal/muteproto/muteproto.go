// Package muteproto is the single-byte command protocol spoken between the
// controller and a session mute agent. Every command is one unsigned byte with
// no framing and no payload; PING, MUTE and UNMUTE are answered by one ACK.
package muteproto

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Command is one protocol message as it appears on the wire.
type Command byte

const (
	None   Command = 0
	Ping   Command = 1
	Mute   Command = 2
	Unmute Command = 3
	Exit   Command = 254
	Ack    Command = 255
)

var (
	ErrUnknownCommand  = errors.New("unknown command")
	ErrUnexpectedReply = errors.New("unexpected reply")
	ErrTimeout         = errors.New("timed out waiting for reply")
)

func (c Command) String() string {
	switch c {
	case None:
		return "NONE"
	case Ping:
		return "PING"
	case Mute:
		return "MUTE"
	case Unmute:
		return "UNMUTE"
	case Exit:
		return "EXIT"
	case Ack:
		return "ACK"
	default:
		return fmt.Sprintf("Command(%d)", byte(c))
	}
}

// ExpectsReply reports whether the receiver must answer c with ACK.
func (c Command) ExpectsReply() bool {
	return c == Ping || c == Mute || c == Unmute
}

// Decode maps a wire byte to a Command. Bytes outside the vocabulary are a
// protocol error.
func Decode(b byte) (Command, error) {
	switch c := Command(b); c {
	case None, Ping, Mute, Unmute, Exit, Ack:
		return c, nil
	default:
		return None, fmt.Errorf("%w: %d", ErrUnknownCommand, b)
	}
}

// WriteCommand writes c as a single byte.
func WriteCommand(w io.Writer, c Command) error {
	_, err := w.Write([]byte{byte(c)})
	return err
}

// ReadCommand blocks until one byte arrives and decodes it.
func ReadCommand(r io.Reader) (Command, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return None, err
	}
	return Decode(buf[0])
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// ReadReply reads one command, giving up after timeout. Streams that support
// read deadlines use them; anything else races the read against a timer, in
// which case the abandoned read may still consume a later byte, so a stream
// that timed out must not be reused.
func ReadReply(r io.Reader, timeout time.Duration) (Command, error) {
	if timeout <= 0 {
		return ReadCommand(r)
	}
	if d, ok := r.(readDeadliner); ok {
		if err := d.SetReadDeadline(time.Now().Add(timeout)); err == nil {
			defer d.SetReadDeadline(time.Time{})
			c, err := ReadCommand(r)
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return None, ErrTimeout
			}
			return c, err
		}
	}

	type result struct {
		cmd Command
		err error
	}
	done := make(chan result, 1)
	go func() {
		c, err := ReadCommand(r)
		done <- result{cmd: c, err: err}
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-done:
		return res.cmd, res.err
	case <-timer.C:
		return None, ErrTimeout
	}
}

// Exchange sends c on w and, when c expects an answer, waits up to timeout for
// an ACK on r.
func Exchange(w io.Writer, r io.Reader, c Command, timeout time.Duration) error {
	if err := WriteCommand(w, c); err != nil {
		return fmt.Errorf("write %s: %w", c, err)
	}
	if !c.ExpectsReply() {
		return nil
	}
	reply, err := ReadReply(r, timeout)
	if err != nil {
		return fmt.Errorf("read %s reply: %w", c, err)
	}
	if reply != Ack {
		return fmt.Errorf("%w to %s: %s", ErrUnexpectedReply, c, reply)
	}
	return nil
}
