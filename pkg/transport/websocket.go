package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chanwire/chanwire-go/pkg/log"
)

// WebSocket defaults.
const (
	// DefaultHandshakeTimeout bounds the WebSocket opening handshake.
	DefaultHandshakeTimeout = 10 * time.Second

	// closeGracePeriod bounds the close handshake write.
	closeGracePeriod = time.Second
)

// WebSocketConfig configures a WebSocket transport.
type WebSocketConfig struct {
	// URL is the ws:// or wss:// endpoint.
	URL string

	// Header is sent with the opening handshake.
	Header http.Header

	// Binary sends binary messages instead of text (use with the CBOR codec).
	Binary bool

	// HandshakeTimeout bounds the opening handshake (default: 10s).
	HandshakeTimeout time.Duration

	// Dialer overrides the default dialer (proxy, TLS settings).
	Dialer *websocket.Dialer
}

// WebSocket is a client WebSocket transport. Each frame is one message.
type WebSocket struct {
	config WebSocketConfig
	dialer *websocket.Dialer

	mu     sync.Mutex
	state  ReadyState
	conn   *websocket.Conn
	logger log.Logger
	connID string

	writeMu sync.Mutex
}

// NewWebSocket creates a closed WebSocket transport.
func NewWebSocket(config WebSocketConfig) *WebSocket {
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	dialer := config.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		}
	}
	return &WebSocket{config: config, dialer: dialer, state: Closed}
}

// SetLogger records raw messages to logger.
func (w *WebSocket) SetLogger(logger log.Logger, connID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.logger = logger
	w.connID = connID
}

// Open performs the WebSocket handshake.
func (w *WebSocket) Open(ctx context.Context, events Events) error {
	w.mu.Lock()
	if w.state == Open || w.state == Connecting {
		w.mu.Unlock()
		return ErrAlreadyOpen
	}
	w.state = Connecting
	w.mu.Unlock()

	conn, resp, err := w.dialer.DialContext(ctx, w.config.URL, w.config.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		w.setState(Closed)
		if resp != nil {
			return fmt.Errorf("websocket handshake failed (%s): %w", resp.Status, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.state = Open
	w.mu.Unlock()

	if events.OnOpen != nil {
		events.OnOpen()
	}
	go w.readLoop(conn, events)
	return nil
}

func (w *WebSocket) readLoop(conn *websocket.Conn, events Events) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			w.finish(conn, err, events)
			return
		}
		w.logFrame(log.DirectionIn, data)
		if events.OnMessage != nil {
			events.OnMessage(data)
		}
	}
}

func (w *WebSocket) finish(conn *websocket.Conn, err error, events Events) {
	w.mu.Lock()
	local := w.conn != conn || w.state == Closed
	if w.conn == conn {
		w.conn = nil
		w.state = Closed
	}
	w.mu.Unlock()
	conn.Close()

	var closeErr *websocket.CloseError
	if local || (errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure) {
		err = nil
	}
	if events.OnClose != nil {
		events.OnClose(err)
	}
}

// Send writes one message.
func (w *WebSocket) Send(data []byte) error {
	w.mu.Lock()
	conn := w.conn
	open := w.state == Open
	w.mu.Unlock()

	if !open || conn == nil {
		return ErrNotConnected
	}

	messageType := websocket.TextMessage
	if w.config.Binary {
		messageType = websocket.BinaryMessage
	}

	w.writeMu.Lock()
	err := conn.WriteMessage(messageType, data)
	w.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("websocket write failed: %w", err)
	}

	w.logFrame(log.DirectionOut, data)
	return nil
}

// Close sends a close message and closes the connection.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	conn := w.conn
	if conn == nil || w.state == Closed {
		w.mu.Unlock()
		return nil
	}
	w.state = Closed
	w.mu.Unlock()

	w.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGracePeriod))
	w.writeMu.Unlock()

	return conn.Close()
}

// ReadyState returns the current state.
func (w *WebSocket) ReadyState() ReadyState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *WebSocket) setState(state ReadyState) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}

func (w *WebSocket) logFrame(dir log.Direction, data []byte) {
	w.mu.Lock()
	logger, connID := w.logger, w.connID
	w.mu.Unlock()
	if logger != nil {
		logger.Log(log.NewFrameEvent(connID, dir, data, 0))
	}
}
