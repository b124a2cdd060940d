package transport

import (
	"context"
	"errors"

	"github.com/chanwire/chanwire-go/pkg/log"
)

// Transport errors.
var (
	// ErrNotConnected is returned when sending on a transport that is not open.
	ErrNotConnected = errors.New("transport not connected")

	// ErrAlreadyOpen is returned when opening a transport that is open or
	// still connecting.
	ErrAlreadyOpen = errors.New("transport already open")
)

// ReadyState is the lifecycle state of a transport.
type ReadyState uint8

const (
	// Connecting means Open is in progress.
	Connecting ReadyState = iota
	// Open means messages can be sent and received.
	Open
	// Closing means Close is in progress.
	Closing
	// Closed means the transport is not connected.
	Closed
)

// String returns the state name.
func (s ReadyState) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Open:
		return "OPEN"
	case Closing:
		return "CLOSING"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Events receives transport lifecycle and message callbacks.
// Any field may be nil. Callbacks run on the transport's read goroutine
// (or the goroutine calling Open for OnOpen) and are never concurrent with
// each other for one connection.
type Events struct {
	// OnOpen is called once the transport is open.
	OnOpen func()

	// OnMessage is called for every received message.
	OnMessage func(data []byte)

	// OnClose is called once when an open transport closes. err is nil
	// for a local Close.
	OnClose func(err error)

	// OnError is called for errors that do not close the transport.
	OnError func(err error)
}

// Transport is a full-duplex message transport.
type Transport interface {
	// Open connects and starts delivering events. It blocks until the
	// transport is open or the attempt failed.
	Open(ctx context.Context, events Events) error

	// Send transmits one message.
	Send(data []byte) error

	// Close disconnects. Closing a closed transport is a no-op.
	Close() error

	// ReadyState returns the current lifecycle state.
	ReadyState() ReadyState
}

// Loggable is implemented by transports that record raw frames.
type Loggable interface {
	SetLogger(logger log.Logger, connID string)
}

// FrameReadWriter provides length-prefixed frame I/O.
// Implemented by Framer.
type FrameReadWriter interface {
	// ReadFrame reads a length-prefixed frame.
	ReadFrame() ([]byte, error)

	// WriteFrame writes a length-prefixed frame.
	WriteFrame(data []byte) error
}

// Compile-time interface satisfaction checks.
var (
	_ Transport       = (*WebSocket)(nil)
	_ Transport       = (*Stream)(nil)
	_ Transport       = (*Pipe)(nil)
	_ Loggable        = (*WebSocket)(nil)
	_ Loggable        = (*Stream)(nil)
	_ FrameReadWriter = (*Framer)(nil)
)
