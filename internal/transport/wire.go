package transport

import (
	"encoding/json"

	"github.com/webitel/im-bridge/internal/domain/bridge"
)

// Frame types used on the ws wire and in amqp message metadata.
const (
	FrameRequest     = "req"
	FrameResponse    = "res"
	FrameEvent       = "event"
	FrameSubscribe   = "sub"
	FrameUnsubscribe = "unsub"
)

// Frame is the envelope exchanged with the host. Exactly one of the
// direction-specific fields is meaningful per Type.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`      // request/response correlation
	Command string          `json:"command,omitempty"` // FrameRequest
	Topic   string          `json:"topic,omitempty"`   // FrameEvent / FrameSubscribe / FrameUnsubscribe
	Seq     uint64          `json:"seq,omitempty"`     // FrameEvent, host-assigned per-topic order
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *WireError      `json:"error,omitempty"` // FrameResponse failure
}

// WireError is the uniform host failure shape, surfaced regardless of which
// command or topic failed.
type WireError struct {
	Code    string          `json:"code"`
	Message string          `json:"message,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}

// ToBridge converts a host wire error into the caller-facing shape. Codes
// outside the known taxonomy collapse to SERVER_ERROR: the host reported a
// handler failure we have no dedicated class for.
func (we *WireError) ToBridge() *bridge.Error {
	code := bridge.Code(we.Code)
	switch code {
	case bridge.CodeNetwork, bridge.CodeTimeout, bridge.CodeUnauthorized,
		bridge.CodeForbidden, bridge.CodeServer, bridge.CodeUnknown:
	default:
		code = bridge.CodeServer
	}
	var details any
	if len(we.Details) > 0 {
		details = we.Details
	}
	return &bridge.Error{Code: code, Message: we.Message, Details: details}
}
