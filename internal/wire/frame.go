// Package wire defines the JSON frame format shared by the socket transport.
// Two frame shapes travel over the same connection: correlated rpc frames
// (requests and their replies) and uncorrelated event frames (server pushes).
// A tagged kind field makes the distinction explicit rather than relying on
// the structural absence of an id.
package wire

import (
	"encoding/json"
	"fmt"
)

// FrameKind discriminates the two frame shapes on the wire.
type FrameKind string

const (
	// KindRPC marks a correlated request or reply frame. These always carry
	// an id; replies additionally carry a success flag.
	KindRPC FrameKind = "rpc"

	// KindEvent marks an unsolicited server push. Event frames carry an
	// action but never an id.
	KindEvent FrameKind = "event"
)

// Frame is the envelope for all socket messages.
type Frame struct {
	// Kind identifies the frame shape. Decoders fall back to id-presence
	// when talking to peers that predate the kind field.
	Kind FrameKind `json:"kind,omitempty"`

	// ID is the correlation id for rpc frames. Empty for event frames.
	ID string `json:"id,omitempty"`

	// Action is the logical channel name. Set on outbound requests and on
	// every event frame; replies omit it.
	Action string `json:"action,omitempty"`

	// Payload carries action-specific request or event data.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Success is set on reply frames: true resolves the pending request
	// with Result, false rejects it with Error.
	Success *bool `json:"success,omitempty"`

	// Result carries the reply data when Success is true.
	Result json.RawMessage `json:"result,omitempty"`

	// Error carries the backend's error message when Success is false.
	Error string `json:"error,omitempty"`
}

// IsRPC reports whether the frame belongs to the request/response path.
func (f *Frame) IsRPC() bool {
	if f.Kind != "" {
		return f.Kind == KindRPC
	}
	// Legacy peers omit kind; an id means rpc, no id means event.
	return f.ID != ""
}

// IsEvent reports whether the frame is an unsolicited push.
func (f *Frame) IsEvent() bool {
	return !f.IsRPC()
}

// NewRequest creates an rpc request frame. The payload is marshalled here so
// callers pass plain structs; a marshal failure is a programming error and
// is returned rather than panicking.
func NewRequest(id, action string, payload interface{}) (*Frame, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload for %s: %w", action, err)
		}
		raw = data
	}
	return &Frame{
		Kind:    KindRPC,
		ID:      id,
		Action:  action,
		Payload: raw,
	}, nil
}

// NewEvent creates a push frame for the given action.
func NewEvent(action string, payload interface{}) (*Frame, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload for %s: %w", action, err)
		}
		raw = data
	}
	return &Frame{
		Kind:    KindEvent,
		Action:  action,
		Payload: raw,
	}, nil
}

// NewReply creates a successful reply frame for the given correlation id.
func NewReply(id string, result interface{}) (*Frame, error) {
	var raw json.RawMessage
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		raw = data
	}
	ok := true
	return &Frame{
		Kind:    KindRPC,
		ID:      id,
		Success: &ok,
		Result:  raw,
	}, nil
}

// NewErrorReply creates a failed reply frame carrying the backend's message.
func NewErrorReply(id, message string) *Frame {
	ok := false
	return &Frame{
		Kind:    KindRPC,
		ID:      id,
		Success: &ok,
		Error:   message,
	}
}

// DecodeFrame parses a raw socket message into a Frame.
// Unknown fields are ignored so protocol additions don't break older clients.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return &f, nil
}

// Encode serializes the frame for transmission.
func (f *Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}
