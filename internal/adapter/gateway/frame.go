package gateway

import "encoding/json"

// FrameType identifies the kind of frame sent over the event stream.
type FrameType string

const (
	FrameTypeHello FrameType = "hello"
	FrameTypeEvent FrameType = "event"
)

// Frame is the envelope written to /v1/events subscribers.
type Frame struct {
	Type    FrameType       `json:"type"`
	Event   string          `json:"event,omitempty"`   // dispatch event type (event frames only)
	Payload json.RawMessage `json:"payload,omitempty"` // DispatchEvent JSON, or hello info
}
