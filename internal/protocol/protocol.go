// Package protocol defines the wire types shared by the agentdeck server
// and client: JSON terminal frames carried over the per-session WebSocket,
// and the named event kinds carried on the file-tail push channel.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Terminal frame types. A frame's Type discriminates which of the other
// fields are meaningful.
const (
	// Client → server.
	FrameInput  = "input"
	FrameResize = "resize"

	// Server → client.
	FrameOutput = "output"
	FrameExit   = "exit"
	FrameError  = "error"
)

// Frame is one message on a terminal channel. Exactly one direction uses
// each type; Data carries input or output bytes as a string, Cols/Rows are
// set only on resize frames, Message only on error frames.
type Frame struct {
	Type    string `json:"type"`
	Data    string `json:"data,omitempty"`
	Cols    int    `json:"cols,omitempty"`
	Rows    int    `json:"rows,omitempty"`
	Message string `json:"message,omitempty"`
}

// Validate checks that the frame is a well-formed member of the closed
// frame union. Malformed frames are a channel-level protocol error: the
// receiver logs and drops them without closing the transport.
func (f Frame) Validate() error {
	switch f.Type {
	case FrameInput, FrameOutput:
		return nil
	case FrameResize:
		if f.Cols <= 0 || f.Rows <= 0 {
			return fmt.Errorf("resize frame with non-positive grid %dx%d", f.Cols, f.Rows)
		}
		return nil
	case FrameExit:
		return nil
	case FrameError:
		return nil
	case "":
		return fmt.Errorf("frame missing type")
	default:
		return fmt.Errorf("unknown frame type %q", f.Type)
	}
}

// Tail event kinds, used as SSE event names.
const (
	TailInitial = "initial"
	TailAppend  = "append"
	TailReplace = "replace"
	TailError   = "error"
)

// TailSnapshot is the payload of initial and replace events: the full file
// content as of the event, self-sufficient without any prior appends.
type TailSnapshot struct {
	Content   string `json:"content"`
	Truncated bool   `json:"truncated,omitempty"`
}

// TailDelta is the payload of append events: only the bytes written since
// the previous event.
type TailDelta struct {
	Data string `json:"data"`
}

// TailFailure is the payload of error events. The watch channel stays open;
// the message is surfaced to the user inline.
type TailFailure struct {
	Message string `json:"message"`
}

// EncodeSSE renders one server-sent event with the given name and JSON
// payload. SSE data lines may not contain raw newlines, so the payload is
// JSON-encoded first (JSON strings escape them).
func EncodeSSE(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", event, err)
	}
	return []byte("event: " + event + "\ndata: " + string(data) + "\n\n"), nil
}
