package log

import (
	"time"

	"github.com/chanwire/chanwire-go/pkg/wire"
)

// MaxFrameDataSize is the maximum frame data size kept in frame events (4 KB).
// Larger frames are truncated to avoid excessive memory usage.
const MaxFrameDataSize = 4096

// KindOf classifies an envelope frame.
func KindOf(f *wire.Frame) MessageKind {
	switch {
	case f.State.IsProgress():
		return MessageKindProgress
	case f.State != wire.StateNone:
		return MessageKindResponse
	case f.CorrelationID != "":
		return MessageKindRequest
	default:
		return MessageKindMessage
	}
}

// NewMessageEvent builds a wire-layer event for an envelope frame.
func NewMessageEvent(connID string, dir Direction, f *wire.Frame) Event {
	return Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    dir,
		Layer:        LayerWire,
		Category:     CategoryMessage,
		Message: &MessageEvent{
			Kind:          KindOf(f),
			Type:          f.Type,
			CorrelationID: f.CorrelationID,
			State:         string(f.State),
			Payload:       f.Payload,
		},
	}
}

// NewFrameEvent builds a transport-layer event for raw frame bytes.
// overhead is the number of framing bytes not included in data.
func NewFrameEvent(connID string, dir Direction, data []byte, overhead int) Event {
	frameData := data
	truncated := false
	if len(data) > MaxFrameDataSize {
		frameData = data[:MaxFrameDataSize]
		truncated = true
	}

	return Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    dir,
		Layer:        LayerTransport,
		Category:     CategoryMessage,
		Frame: &FrameEvent{
			Size:      overhead + len(data),
			Data:      frameData,
			Truncated: truncated,
		},
	}
}

// NewStateEvent builds a channel-layer state change event.
func NewStateEvent(connID string, change StateChangeEvent) Event {
	return Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Layer:        LayerChannel,
		Category:     CategoryState,
		StateChange:  &change,
	}
}

// NewErrorEvent builds an error event.
func NewErrorEvent(connID string, layer Layer, context string, err error) Event {
	return Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Layer:        layer,
		Category:     CategoryError,
		Error: &ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Context: context,
		},
	}
}
