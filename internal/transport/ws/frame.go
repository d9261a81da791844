package ws

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oggyb/anon-relay/internal/transport"
)

// Inbound frame types.
const (
	// FrameText carries raw user text; "/cmd args" becomes a command.
	FrameText = "text"
	// FrameMessage carries any relayable content.
	FrameMessage = "message"
)

// Outbound frame types.
const (
	FrameNotice = "notice"
	FrameError  = "error"
)

var errBadFrame = errors.New("invalid frame")

type inbound struct {
	Type    string             `json:"type"`
	Text    string             `json:"text,omitempty"`
	Content *transport.Content `json:"content,omitempty"`
}

// Outbound is every frame the gateway writes. Relayed content frames carry
// only the content.
type Outbound struct {
	Type    string             `json:"type"`
	Notice  *transport.Notice  `json:"notice,omitempty"`
	Content *transport.Content `json:"content,omitempty"`
	Code    string             `json:"code,omitempty"`
	Message string             `json:"message,omitempty"`
}

// decodeEvent turns a client frame into an event.
func decodeEvent(raw []byte) (transport.Event, error) {
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadFrame, err)
	}
	switch in.Type {
	case FrameText:
		if cmd, ok := transport.ParseCommand(in.Text); ok {
			return cmd, nil
		}
		return transport.Message{Content: transport.Content{Kind: transport.KindText, Text: in.Text}}, nil
	case FrameMessage:
		if in.Content == nil {
			return nil, fmt.Errorf("%w: message without content", errBadFrame)
		}
		return transport.Message{Content: *in.Content}, nil
	}
	return nil, fmt.Errorf("%w: unsupported type %q", errBadFrame, in.Type)
}

func encode(out Outbound) ([]byte, error) {
	return json.Marshal(out)
}
