// ABOUTME: Inbound socket frame decoding through a type-keyed dispatch table
// ABOUTME: Each frame type decodes into exactly one hub request

package socket

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/wallboard-gateway/internal/hub"
	"github.com/2389/wallboard-gateway/internal/messaging"
)

// Inbound frame types.
const (
	TypeStatusChange = "status-change"
	TypeJoin         = "join"
	TypeLeave        = "leave"
	TypePing         = "ping"
	TypeLogout       = "logout"
	TypeSendMessage  = "send-message"
)

// CodeBadFrame is the error code for frames that cannot be decoded.
const CodeBadFrame = "BAD_FRAME"

var (
	// ErrMalformedFrame is returned for frames that are not valid JSON or
	// whose payload does not match their type.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnknownFrame is returned for frame types with no decoder.
	ErrUnknownFrame = errors.New("unknown frame type")
)

// Frame is the wire shape of every inbound frame.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type statusPayload struct {
	Status string `json:"status"`
}

type topicPayload struct {
	Topic   string `json:"topic"`
	Monitor bool   `json:"monitor,omitempty"`
}

type decoder func(requestID string, payload json.RawMessage) (hub.Inbound, error)

var decoders = map[string]decoder{
	TypeStatusChange: func(id string, raw json.RawMessage) (hub.Inbound, error) {
		var p statusPayload
		if err := unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return hub.StatusChange{RequestID: id, Status: p.Status}, nil
	},
	TypeJoin: func(id string, raw json.RawMessage) (hub.Inbound, error) {
		var p topicPayload
		if err := unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return hub.Join{RequestID: id, Topic: p.Topic, Monitor: p.Monitor}, nil
	},
	TypeLeave: func(id string, raw json.RawMessage) (hub.Inbound, error) {
		var p topicPayload
		if err := unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return hub.Leave{RequestID: id, Topic: p.Topic}, nil
	},
	TypePing: func(id string, _ json.RawMessage) (hub.Inbound, error) {
		return hub.Heartbeat{RequestID: id}, nil
	},
	TypeLogout: func(id string, _ json.RawMessage) (hub.Inbound, error) {
		return hub.Logout{RequestID: id}, nil
	},
	TypeSendMessage: func(id string, raw json.RawMessage) (hub.Inbound, error) {
		var p messaging.Request
		if err := unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return hub.SendMessage{RequestID: id, Message: p}, nil
	},
}

// Decode parses one inbound frame. The request ID is returned even when
// decoding fails so the error reply can carry it.
func Decode(data []byte) (hub.Inbound, string, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	dec, ok := decoders[f.Type]
	if !ok {
		return nil, f.RequestID, fmt.Errorf("%w: %q", ErrUnknownFrame, f.Type)
	}
	in, err := dec(f.RequestID, f.Payload)
	return in, f.RequestID, err
}

func unmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}
