package log

import (
	"time"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// Endpoint is the far end (URL or host:port).
	Endpoint string `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"` // Wire layer (decoded)
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Ready state / subscriptions
	Heartbeat   *HeartbeatEvent   `cbor:"13,keyasint,omitempty"` // Heartbeat fired
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the envelope layer (decoded frames).
	LayerWire Layer = 1
	// LayerChannel is the connection and subscription layer.
	LayerChannel Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerChannel:
		return "CHANNEL"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol frame.
	CategoryMessage Category = 0
	// CategoryHeartbeat indicates a heartbeat fire.
	CategoryHeartbeat Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryHeartbeat:
		return "HEARTBEAT"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes (including any length prefix).
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures a decoded envelope frame.
type MessageEvent struct {
	// Kind distinguishes requests, responses, progress and plain messages.
	Kind MessageKind `cbor:"1,keyasint"`

	// Type is the dotted type tag.
	Type string `cbor:"2,keyasint"`

	// CorrelationID links requests and responses (empty for plain messages).
	CorrelationID string `cbor:"3,keyasint,omitempty"`

	// State is the response state ("s", "f", "q", "r"); empty for requests
	// and plain messages.
	State string `cbor:"4,keyasint,omitempty"`

	// Payload is the decoded payload.
	Payload any `cbor:"5,keyasint,omitempty"`
}

// MessageKind classifies an envelope frame.
type MessageKind uint8

const (
	// MessageKindMessage is a fire-and-forget frame without correlation id.
	MessageKindMessage MessageKind = 0
	// MessageKindRequest is a correlated frame without state.
	MessageKindRequest MessageKind = 1
	// MessageKindResponse is a terminal (success or failure) response.
	MessageKindResponse MessageKind = 2
	// MessageKindProgress is a queued or running update.
	MessageKindProgress MessageKind = 3
)

// String returns the message kind name.
func (k MessageKind) String() string {
	switch k {
	case MessageKindMessage:
		return "MESSAGE"
	case MessageKindRequest:
		return "REQUEST"
	case MessageKindResponse:
		return "RESPONSE"
	case MessageKindProgress:
		return "PROGRESS"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures connection and subscription lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`

	// Channel is the channel key ("type/pk") for subscription changes.
	Channel string `cbor:"5,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a ready-state change.
	StateEntityConnection StateEntity = 0
	// StateEntitySubscription indicates a channel subscription change.
	StateEntitySubscription StateEntity = 1
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntitySubscription:
		return "SUBSCRIPTION"
	default:
		return "UNKNOWN"
	}
}

// HeartbeatEvent captures a heartbeat callback firing.
type HeartbeatEvent struct {
	// ID is the heartbeat registration id.
	ID uint64 `cbor:"1,keyasint"`

	// Interval is the configured quiet interval.
	Interval time.Duration `cbor:"2,keyasint"`

	// Reset names the traffic direction that resets it ("EITHER", "INCOMING", "OUTGOING").
	Reset string `cbor:"3,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
