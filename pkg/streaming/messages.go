package streaming

import (
	"encoding/json"
	"fmt"

	"github.com/parkspot/tracker/pkg/core"
)

// Message type constants for the UI push protocol.
const (
	TypeNotice = "notice"
	TypeEvent  = "event"
	TypeHello  = "hello"

	// Client to server.
	TypeCommand = "command"
	// Reply to a command, sent only to the client that issued it.
	TypeResult = "result"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// HelloPayload is sent once when a client connects.
type HelloPayload struct {
	Online  bool          `json:"online"`
	Notices []core.Notice `json:"notices"`
}

// CommandPayload asks the server to run a dispatcher command. ID is echoed
// in the result so clients can match replies.
type CommandPayload struct {
	ID      string          `json:"id,omitempty"`
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// ResultPayload answers a CommandPayload. Error is empty on success.
type ResultPayload struct {
	ID      string `json:"id,omitempty"`
	Command string `json:"command"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewEnvelope marshals payload under the given message type.
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return Envelope{Type: msgType, Payload: data}, nil
}

// NoticeEnvelope wraps a notice.
func NoticeEnvelope(n core.Notice) (Envelope, error) {
	return NewEnvelope(TypeNotice, n)
}

// EventEnvelope wraps a lifecycle event.
func EventEnvelope(e core.Event) (Envelope, error) {
	return NewEnvelope(TypeEvent, e)
}
