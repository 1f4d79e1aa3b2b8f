package control

import (
	"github.com/fxamacker/cbor/v2"
)

// Message types.
const (
	TypeCommand   = "command"
	TypeStatus    = "status"
	TypeHeartbeat = "heartbeat"
	TypeResult    = "result"
	TypeError     = "error"
)

// Message is the single frame shape exchanged on the control socket, encoded
// as CBOR in binary WebSocket messages.
type Message struct {
	Type       string        `cbor:"type"`
	RequestID  string        `cbor:"request_id,omitempty"`
	Code       int           `cbor:"code,omitempty"`
	Status     string        `cbor:"status,omitempty"`
	Message    string        `cbor:"message,omitempty"`
	Sessions   []SessionInfo `cbor:"sessions,omitempty"`
	Playing    bool          `cbor:"playing,omitempty"`
	Adjustment string        `cbor:"adjustment,omitempty"`
}

type SessionInfo struct {
	ID       uint32 `cbor:"id"`
	AgentPID int    `cbor:"agent_pid"`
	Alive    bool   `cbor:"alive"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("control: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("control: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeMessage(m Message) ([]byte, error) {
	return encMode.Marshal(m)
}

func decodeMessage(data []byte) (Message, error) {
	var m Message
	err := decMode.Unmarshal(data, &m)
	return m, err
}
