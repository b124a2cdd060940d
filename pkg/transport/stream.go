package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/chanwire/chanwire-go/pkg/log"
)

// DefaultConnectTimeout bounds Open when the context has no deadline.
const DefaultConnectTimeout = 30 * time.Second

// StreamConfig configures a Stream transport.
type StreamConfig struct {
	// Address is the host:port to dial.
	Address string

	// TLSConfig enables TLS when non-nil.
	TLSConfig *tls.Config

	// MaxMessageSize is the maximum message size (default: 1 MB).
	MaxMessageSize uint32

	// ConnectTimeout is the connection timeout (default: 30s).
	ConnectTimeout time.Duration
}

// Stream is a TCP (optionally TLS) transport with length-prefixed frames.
type Stream struct {
	config StreamConfig

	mu     sync.Mutex
	state  ReadyState
	conn   net.Conn
	framer *Framer
	logger log.Logger
	connID string
}

// NewStream creates a closed stream transport.
func NewStream(config StreamConfig) *Stream {
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	return &Stream{config: config, state: Closed}
}

// SetLogger records raw frames to logger. Takes effect on the next Open.
func (s *Stream) SetLogger(logger log.Logger, connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
	s.connID = connID
	if s.framer != nil {
		s.framer.SetLogger(logger, connID)
	}
}

// Open dials the configured address.
func (s *Stream) Open(ctx context.Context, events Events) error {
	s.mu.Lock()
	if s.state == Open || s.state == Connecting {
		s.mu.Unlock()
		return ErrAlreadyOpen
	}
	s.state = Connecting
	s.mu.Unlock()

	conn, err := s.dial(ctx)
	if err != nil {
		s.setState(Closed)
		return err
	}

	framer := NewFramer(conn, s.config.MaxMessageSize)

	s.mu.Lock()
	if s.logger != nil {
		framer.SetLogger(s.logger, s.connID)
	}
	s.conn = conn
	s.framer = framer
	s.state = Open
	s.mu.Unlock()

	if events.OnOpen != nil {
		events.OnOpen()
	}
	go s.readLoop(conn, framer, events)
	return nil
}

func (s *Stream) dial(ctx context.Context) (net.Conn, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ConnectTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", s.config.Address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	if s.config.TLSConfig == nil {
		return conn, nil
	}

	tlsConn := tls.Client(conn, s.config.TLSConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}
	return tlsConn, nil
}

func (s *Stream) readLoop(conn net.Conn, framer *Framer, events Events) {
	for {
		data, err := framer.ReadFrame()
		if err != nil {
			if errors.Is(err, ErrMessageTooLarge) || errors.Is(err, ErrMessageEmpty) {
				// The stream is out of sync after a bad prefix.
				if events.OnError != nil {
					events.OnError(err)
				}
			}
			s.finish(conn, err, events)
			return
		}
		if events.OnMessage != nil {
			events.OnMessage(data)
		}
	}
}

// finish marks the stream closed and reports why.
func (s *Stream) finish(conn net.Conn, err error, events Events) {
	s.mu.Lock()
	local := s.conn != conn || s.state == Closed
	if s.conn == conn {
		s.conn = nil
		s.framer = nil
		s.state = Closed
	}
	s.mu.Unlock()
	conn.Close()

	if local || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		err = nil
	}
	if events.OnClose != nil {
		events.OnClose(err)
	}
}

// Send writes one frame.
func (s *Stream) Send(data []byte) error {
	s.mu.Lock()
	framer := s.framer
	open := s.state == Open
	s.mu.Unlock()

	if !open || framer == nil {
		return ErrNotConnected
	}
	return framer.WriteFrame(data)
}

// Close closes the connection.
func (s *Stream) Close() error {
	s.mu.Lock()
	conn := s.conn
	if conn == nil || s.state == Closed {
		s.mu.Unlock()
		return nil
	}
	s.state = Closed
	s.mu.Unlock()

	return conn.Close()
}

// ReadyState returns the current state.
func (s *Stream) ReadyState() ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RemoteAddr returns the peer address, or nil when closed.
func (s *Stream) RemoteAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.RemoteAddr()
}

func (s *Stream) setState(state ReadyState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
