package wire

import (
	"errors"
	"strings"
)

// Frame errors.
var (
	ErrMissingType = errors.New("frame type is required")
	ErrNoPayload   = errors.New("frame has no payload")
)

// Reserved type tags.
const (
	// TypeBatch carries several payloads of one sub-type in a single frame.
	TypeBatch = "s.batch"

	// TypeChannelSubscribe requests a channel subscription (correlated).
	TypeChannelSubscribe = "channel.subscribe"

	// TypeChannelSubscribed is the successful answer to a subscribe request.
	TypeChannelSubscribed = "channel.subscribed"

	// TypeChannelLeave drops a channel subscription (fire-and-forget).
	TypeChannelLeave = "channel.leave"
)

// NamespaceSeparator splits a type tag into namespace and rest.
const NamespaceSeparator = "."

// State is the processing state carried by a correlated frame.
type State string

const (
	// StateNone marks a plain type message (no "s" key).
	StateNone State = ""

	// StateSuccess is a terminal successful response.
	StateSuccess State = "s"

	// StateFailed is a terminal failed response.
	StateFailed State = "f"

	// StateQueued reports that the request is waiting to be processed.
	StateQueued State = "q"

	// StateRunning reports that the request is being processed.
	StateRunning State = "r"
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateSuccess:
		return "SUCCESS"
	case StateFailed:
		return "FAILED"
	case StateQueued:
		return "QUEUED"
	case StateRunning:
		return "RUNNING"
	default:
		return "UNKNOWN(" + string(s) + ")"
	}
}

// IsProgress returns true for Queued and Running.
func (s State) IsProgress() bool {
	return s == StateQueued || s == StateRunning
}

// IsTerminal returns true for Success and Failed.
func (s State) IsTerminal() bool {
	return s == StateSuccess || s == StateFailed
}

// Frame is the envelope of every message on the connection.
type Frame struct {
	Type          string `json:"t" cbor:"t"`
	CorrelationID string `json:"i,omitempty" cbor:"i,omitempty"`
	State         State  `json:"s,omitempty" cbor:"s,omitempty"`
	Payload       any    `json:"p,omitempty" cbor:"p,omitempty"`
}

// Validate checks if the frame is well formed.
func (f *Frame) Validate() error {
	if f.Type == "" {
		return ErrMissingType
	}
	return nil
}

// Namespace returns the top-level namespace of the frame's type tag.
func (f *Frame) Namespace() string {
	return Namespace(f.Type)
}

// IsCorrelated returns true if the frame answers or reports progress on a request.
func (f *Frame) IsCorrelated() bool {
	return f.CorrelationID != "" && f.State != StateNone
}

// IsSubscribed returns true for a successful subscribe acknowledgement.
func (f *Frame) IsSubscribed() bool {
	if f.State != StateSuccess {
		return false
	}
	return f.Type == TypeChannelSubscribed || f.Type == TypeChannelSubscribe
}

// Namespace returns the portion of a type tag before the first separator.
// A tag without a separator is its own namespace.
func Namespace(typ string) string {
	if i := strings.Index(typ, NamespaceSeparator); i >= 0 {
		return typ[:i]
	}
	return typ
}

// NewRequest builds a correlated request frame {t, i, p}.
func NewRequest(typ, correlationID string, payload any) *Frame {
	return &Frame{Type: typ, CorrelationID: correlationID, Payload: payload}
}

// NewMessage builds a fire-and-forget frame {t, p}.
func NewMessage(typ string, payload any) *Frame {
	return &Frame{Type: typ, Payload: payload}
}

// NewResponse builds a response frame {t, i, s, p}.
// An empty state defaults to StateSuccess.
func NewResponse(typ, correlationID string, state State, payload any) *Frame {
	if state == StateNone {
		state = StateSuccess
	}
	return &Frame{Type: typ, CorrelationID: correlationID, State: state, Payload: payload}
}
