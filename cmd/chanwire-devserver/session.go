package main

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/chanwire/chanwire-go/pkg/wire"
)

// Suffixes that make an echoed request fail.
const (
	suffixFail    = ".fail"
	suffixInvalid = ".invalid"
)

// session is the far end of one client connection.
type session struct {
	id       string
	codec    wire.Codec
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger
	send     func(data []byte) error

	mu       sync.Mutex
	channels map[string]*feed
	closed   bool
}

// feed pushes ticks for one subscribed channel.
type feed struct {
	ch     wire.ChannelID
	ticker *clock.Ticker
	stop   chan struct{}
	seq    int
}

func newSession(id string, srv *Server, send func([]byte) error) *session {
	return &session{
		id:       id,
		codec:    srv.codec,
		clock:    srv.clock,
		interval: srv.interval,
		logger:   srv.logger.With("session", id),
		send:     send,
		channels: make(map[string]*feed),
	}
}

// handle processes one inbound message.
func (s *session) handle(data []byte) {
	f, err := wire.DecodeFrame(s.codec, data)
	if err != nil {
		s.logger.Warn("dropping undecodable frame", "error", err)
		return
	}

	switch f.Type {
	case wire.TypeChannelSubscribe:
		s.subscribe(f)
	case wire.TypeChannelLeave:
		s.leave(f)
	default:
		if f.CorrelationID == "" {
			s.logger.Debug("message", "type", f.Type)
			return
		}
		s.echo(f)
	}
}

func (s *session) subscribe(f *wire.Frame) {
	var sp wire.SubscribePayload
	if err := wire.DecodePayload(s.codec, f.Payload, &sp); err != nil || sp.ChannelType == "" {
		s.reply(wire.NewResponse(wire.TypeChannelSubscribe, f.CorrelationID, wire.StateFailed,
			&wire.FailurePayload{Message: "channel_type and pk are required"}))
		return
	}
	ch := wire.ChannelID{Type: sp.ChannelType, PK: sp.PK}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	fd, ok := s.channels[ch.Key()]
	if !ok {
		fd = &feed{ch: ch, stop: make(chan struct{})}
		if s.interval > 0 {
			fd.ticker = s.clock.Ticker(s.interval)
		}
		s.channels[ch.Key()] = fd
	}
	seq := fd.seq
	s.mu.Unlock()

	s.reply(wire.NewResponse(wire.TypeChannelSubscribed, f.CorrelationID, wire.StateSuccess, &wire.SubscribedPayload{
		ChannelType: ch.Type,
		ChannelName: ch.Key(),
		PK:          ch.PK,
		AppState:    snapshot(ch, seq),
	}))
	s.logger.Info("channel subscribed", "channel", ch.Key())

	if !ok && fd.ticker != nil {
		go s.push(fd)
	}
}

func (s *session) leave(f *wire.Frame) {
	var sp wire.SubscribePayload
	if err := wire.DecodePayload(s.codec, f.Payload, &sp); err != nil {
		return
	}
	ch := wire.ChannelID{Type: sp.ChannelType, PK: sp.PK}

	s.mu.Lock()
	fd, ok := s.channels[ch.Key()]
	delete(s.channels, ch.Key())
	s.mu.Unlock()

	if ok {
		fd.halt()
		s.logger.Info("channel left", "channel", ch.Key())
	}
}

// echo answers a request with Queued and Running updates followed by
// the request payload, unless the type asks for a failure.
func (s *session) echo(f *wire.Frame) {
	switch {
	case strings.HasSuffix(f.Type, suffixFail):
		s.reply(wire.NewResponse(f.Type, f.CorrelationID, wire.StateFailed,
			&wire.FailurePayload{Message: "requested failure"}))
	case strings.HasSuffix(f.Type, suffixInvalid):
		s.reply(wire.NewResponse(f.Type, f.CorrelationID, wire.StateFailed, &wire.FailurePayload{
			Message: "validation failed",
			Errors:  []wire.FieldError{{Loc: []string{"body", "name"}, Message: "field required", Type: "missing"}},
		}))
	default:
		s.reply(wire.NewResponse(f.Type, f.CorrelationID, wire.StateQueued, nil))
		s.reply(wire.NewResponse(f.Type, f.CorrelationID, wire.StateRunning, map[string]any{"progress": 0.5}))
		s.reply(wire.NewResponse(f.Type, f.CorrelationID, wire.StateSuccess, f.Payload))
	}
}

func (s *session) push(fd *feed) {
	for {
		select {
		case <-fd.ticker.C:
		case <-fd.stop:
			return
		}

		s.mu.Lock()
		if s.channels[fd.ch.Key()] != fd {
			s.mu.Unlock()
			return
		}
		fd.seq += 2
		seq := fd.seq
		s.mu.Unlock()

		s.reply(tickBatch(fd.ch, seq-1, seq))
	}
}

func (s *session) reply(f *wire.Frame) {
	data, err := wire.EncodeFrame(s.codec, f)
	if err != nil {
		s.logger.Error("encode frame", "type", f.Type, "error", err)
		return
	}
	if err := s.send(data); err != nil {
		s.logger.Debug("send failed", "type", f.Type, "error", err)
	}
}

// close stops every feed.
func (s *session) close() {
	s.mu.Lock()
	s.closed = true
	feeds := s.channels
	s.channels = make(map[string]*feed)
	s.mu.Unlock()

	for _, fd := range feeds {
		fd.halt()
	}
}

func (fd *feed) halt() {
	if fd.ticker != nil {
		fd.ticker.Stop()
	}
	close(fd.stop)
}

// snapshot is the app state of a channel: a reset followed by the
// ticks so far, batched.
func snapshot(ch wire.ChannelID, seq int) []*wire.Frame {
	frames := []*wire.Frame{
		wire.NewMessage(ch.Type+".reset", map[string]any{"pk": ch.PK}),
	}
	if seq > 0 {
		frames = append(frames, tickBatch(ch, 1, seq))
	}
	return frames
}

func tickBatch(ch wire.ChannelID, from, to int) *wire.Frame {
	payloads := make([]any, 0, to-from+1)
	for n := from; n <= to; n++ {
		payloads = append(payloads, map[string]any{"pk": ch.PK, "seq": n})
	}
	return wire.NewMessage(wire.TypeBatch, &wire.BatchPayload{Type: ch.Type + ".tick", Payloads: payloads})
}
