package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chanwire/chanwire-go/pkg/log"
	"github.com/chanwire/chanwire-go/pkg/transport"
	"github.com/chanwire/chanwire-go/pkg/wire"
)

// writeTimeout bounds a single WebSocket write.
const writeTimeout = 10 * time.Second

// ServerConfig configures a Server.
type ServerConfig struct {
	Codec wire.Codec

	// Interval between pushed tick batches. Zero disables pushes.
	Interval time.Duration

	Clock  clock.Clock
	Logger *slog.Logger

	// ProtocolLogger records raw frames of stream sessions.
	ProtocolLogger log.Logger
}

// Server accepts chanwire clients over WebSocket and length-prefixed
// TCP streams.
type Server struct {
	codec    wire.Codec
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger
	protoLog log.Logger
	upgrader websocket.Upgrader

	wg sync.WaitGroup
}

// NewServer creates a server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Codec == nil {
		cfg.Codec = wire.JSON
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		codec:    cfg.Codec,
		interval: cfg.Interval,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		protoLog: cfg.ProtocolLogger,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// ServeHTTP upgrades the request and runs a session until the client
// goes away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	msgType := websocket.TextMessage
	if s.codec.Name() == "cbor" {
		msgType = websocket.BinaryMessage
	}

	var writeMu sync.Mutex
	sess := newSession(uuid.NewString(), s, func(data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteMessage(msgType, data)
	})
	defer sess.close()

	sess.logger.Info("websocket session opened", "remote", conn.RemoteAddr().String())
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sess.logger.Warn("websocket closed unexpectedly", "error", err)
			}
			break
		}
		sess.handle(data)
	}
	sess.logger.Info("websocket session closed")
}

// ServeStream accepts stream clients on ln until ctx is done.
func (s *Server) ServeStream(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveStreamConn(ctx, conn)
		}()
	}
}

func (s *Server) serveStreamConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	framer := transport.NewFramer(conn, 0)
	id := uuid.NewString()
	if s.protoLog != nil {
		framer.SetLogger(s.protoLog, id)
	}

	sess := newSession(id, s, framer.WriteFrame)
	defer sess.close()

	sess.logger.Info("stream session opened", "remote", conn.RemoteAddr().String())
	for {
		data, err := framer.ReadFrame()
		if err != nil {
			break
		}
		sess.handle(data)
	}
	sess.logger.Info("stream session closed")
}
