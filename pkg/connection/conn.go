package connection

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/chanwire/chanwire-go/pkg/correlator"
	"github.com/chanwire/chanwire-go/pkg/deferred"
	"github.com/chanwire/chanwire-go/pkg/dispatch"
	"github.com/chanwire/chanwire-go/pkg/heartbeat"
	"github.com/chanwire/chanwire-go/pkg/log"
	"github.com/chanwire/chanwire-go/pkg/subscription"
	"github.com/chanwire/chanwire-go/pkg/transport"
	"github.com/chanwire/chanwire-go/pkg/wire"
)

// Config configures a Conn.
type Config struct {
	// Timeout is the default response idle timeout for calls.
	Timeout time.Duration

	// LeaveDelay is the default debounce before a channel.leave is sent.
	LeaveDelay time.Duration

	// Manual suppresses the automatic Connect in Dial.
	Manual bool

	// Debug warns about frames no handler is registered for.
	Debug bool

	// BeforeAppState runs once per subscribed acknowledgement, before its
	// app_state snapshot is replayed.
	BeforeAppState func(ch wire.ChannelID)

	// Codec encodes and decodes frames. Nil uses wire.JSON.
	Codec wire.Codec

	// Endpoint names the far end in protocol log events.
	Endpoint string

	// Logger receives operational log output. Nil disables it.
	Logger *slog.Logger

	// ProtocolLogger records frames and state changes. Nil disables it.
	ProtocolLogger log.Logger

	// Clock drives call timeouts, leave timers and heartbeats.
	// Nil uses the wall clock.
	Clock clock.Clock
}

// DefaultConfig returns the configuration used for zero fields.
func DefaultConfig() Config {
	return Config{
		Timeout:    correlator.DefaultTimeout,
		LeaveDelay: subscription.DefaultLeaveDelay,
		Codec:      wire.JSON,
	}
}

// ListenerID identifies a ready-state listener.
type ListenerID uint64

type stateListener struct {
	id ListenerID
	fn func(from, to transport.ReadyState)
}

type stateChange struct {
	from, to transport.ReadyState
	reason   string
}

// binding ties transport callbacks to one Connect call. Callbacks of a
// detached binding are ignored.
type binding struct {
	detached atomic.Bool
}

// Conn is a protocol connection over one transport.
// It is safe for concurrent use.
type Conn struct {
	transport transport.Transport
	codec     wire.Codec
	endpoint  string
	hook      func(wire.ChannelID)
	logger    *slog.Logger
	protoLog  log.Logger
	clock     clock.Clock

	dispatcher *dispatch.Dispatcher
	unwrap     dispatch.Unwrapper
	heartbeats *heartbeat.Scheduler
	calls      *correlator.Correlator
	subs       *subscription.Manager

	mu           sync.Mutex
	state        transport.ReadyState
	binding      *binding
	connID       string
	listeners    []stateListener
	lastListener ListenerID
	changes      []stateChange
	draining     bool
}

// New creates a connection over t. The transport is not opened.
func New(t transport.Transport, cfg Config) *Conn {
	if cfg.Codec == nil {
		cfg.Codec = wire.JSON
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.ProtocolLogger == nil {
		cfg.ProtocolLogger = log.NoopLogger{}
	}

	c := &Conn{
		transport: t,
		codec:     cfg.Codec,
		endpoint:  cfg.Endpoint,
		hook:      cfg.BeforeAppState,
		logger:    cfg.Logger,
		protoLog:  cfg.ProtocolLogger,
		clock:     cfg.Clock,
		state:     t.ReadyState(),
		unwrap:    dispatch.Unwrapper{Codec: cfg.Codec},
	}

	c.dispatcher = dispatch.New(dispatch.Config{Debug: cfg.Debug, Logger: cfg.Logger})
	c.heartbeats = heartbeat.New(cfg.Clock)
	c.calls = correlator.New(c.transmit, correlator.Config{
		Timeout: cfg.Timeout,
		Clock:   cfg.Clock,
		Codec:   cfg.Codec,
		Logger:  cfg.Logger,
	})
	c.subs = subscription.NewManager(c, subscription.Config{
		LeaveDelay: cfg.LeaveDelay,
		Clock:      cfg.Clock,
		Logger:     cfg.Logger,
	})
	c.subs.OnSubscribedChanged(c.logSubscription)

	if c.state == transport.Open {
		c.heartbeats.Start()
	}
	return c
}

// Dial creates a connection and, unless cfg.Manual is set, connects it.
// The connection is returned even if connecting fails.
func Dial(ctx context.Context, t transport.Transport, cfg Config) (*Conn, error) {
	c := New(t, cfg)
	if cfg.Manual {
		return c, nil
	}
	return c, c.Connect(ctx)
}

// Connect opens the transport. Connecting a connection that is open or
// still connecting returns transport.ErrAlreadyOpen.
func (c *Conn) Connect(ctx context.Context) error {
	switch c.transport.ReadyState() {
	case transport.Open, transport.Connecting:
		return transport.ErrAlreadyOpen
	}

	b := &binding{}
	connID := uuid.NewString()

	c.mu.Lock()
	if c.binding != nil {
		c.binding.detached.Store(true)
	}
	c.binding = b
	c.connID = connID
	c.mu.Unlock()

	if l, ok := c.transport.(transport.Loggable); ok {
		l.SetLogger(c.protoLog, connID)
	}

	c.debugLog("connecting", "conn_id", connID, "endpoint", c.endpoint)
	if err := c.transport.Open(ctx, c.events(b)); err != nil {
		c.logEvent(c.errorEvent(log.LayerTransport, "connect", err))
		c.syncState("connect failed")
		return fmt.Errorf("connect: %w", err)
	}
	c.syncState("")
	return nil
}

func (c *Conn) events(b *binding) transport.Events {
	return transport.Events{
		OnOpen: func() {
			if !b.detached.Load() {
				c.syncState("opened")
			}
		},
		OnMessage: func(data []byte) {
			if !b.detached.Load() {
				c.receive(data)
			}
		},
		OnClose: func(err error) {
			if b.detached.Load() {
				return
			}
			reason := "closed by peer"
			if err != nil {
				reason = err.Error()
				c.logEvent(c.errorEvent(log.LayerTransport, "connection lost", err))
			}
			c.syncState(reason)
		},
		OnError: func(err error) {
			if b.detached.Load() {
				return
			}
			c.warn("transport error", "error", err)
			c.logEvent(c.errorEvent(log.LayerTransport, "transport", err))
		},
	}
}

// Close detaches the transport callbacks and closes the transport.
// Closing a closed connection is a no-op.
func (c *Conn) Close() error {
	c.mu.Lock()
	b := c.binding
	c.binding = nil
	c.mu.Unlock()

	if b != nil {
		b.detached.Store(true)
	}
	if c.transport.ReadyState() == transport.Closed {
		c.syncState("")
		return nil
	}

	err := c.transport.Close()
	c.syncState("closed locally")
	return err
}

// ReadyState returns the transport's ready state.
func (c *Conn) ReadyState() transport.ReadyState {
	return c.transport.ReadyState()
}

// IsOpen returns true if frames can be sent.
func (c *Conn) IsOpen() bool {
	return c.ReadyState() == transport.Open
}

// ConnectionID returns the id of the current or last connection attempt.
func (c *Conn) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

// OnReadyStateChanged registers fn to run on every ready-state change.
// Listeners run synchronously in registration order.
func (c *Conn) OnReadyStateChanged(fn func(from, to transport.ReadyState)) ListenerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastListener++
	c.listeners = append(c.listeners, stateListener{id: c.lastListener, fn: fn})
	return c.lastListener
}

// OffReadyStateChanged removes a listener. Unknown ids are ignored.
func (c *Conn) OffReadyStateChanged(id ListenerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, l := range c.listeners {
		if l.id == id {
			c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
			return
		}
	}
}

// syncState compares the transport state with the last observed one and
// delivers a change if there is one. A change observed while another is
// being delivered is queued and delivered afterwards by the same loop.
func (c *Conn) syncState(reason string) {
	c.mu.Lock()
	now := c.transport.ReadyState()
	if now != c.state {
		c.changes = append(c.changes, stateChange{from: c.state, to: now, reason: reason})
		c.state = now
	}
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	for len(c.changes) > 0 {
		change := c.changes[0]
		c.changes = c.changes[1:]
		listeners := c.listeners
		connID := c.connID
		c.mu.Unlock()

		c.applyState(connID, change, listeners)

		c.mu.Lock()
	}
	c.draining = false
	c.mu.Unlock()
}

func (c *Conn) applyState(connID string, change stateChange, listeners []stateListener) {
	c.debugLog("ready state", "from", change.from, "to", change.to, "reason", change.reason)
	c.logEvent(log.NewStateEvent(connID, log.StateChangeEvent{
		Entity:   log.StateEntityConnection,
		OldState: change.from.String(),
		NewState: change.to.String(),
		Reason:   change.reason,
	}))

	open := change.to == transport.Open
	if open {
		c.heartbeats.Start()
	} else {
		c.heartbeats.Stop()
	}
	c.subs.HandleReadyState(open)

	for _, l := range listeners {
		l.fn(change.from, change.to)
	}
}

// receive runs the inbound pipeline for one transport message.
func (c *Conn) receive(data []byte) {
	c.syncState("")
	c.heartbeats.Touch(heartbeat.Incoming)

	f, err := wire.DecodeFrame(c.codec, data)
	if err != nil {
		c.warn("dropping undecodable frame", "error", err, "size", len(data))
		c.logEvent(c.errorEvent(log.LayerWire, "decode", err))
		return
	}
	c.logEvent(c.messageEvent(log.DirectionIn, f))

	frames, err := c.unwrap.Expand(f)
	if err != nil {
		c.warn("dropping malformed batch", "error", err)
		c.logEvent(c.errorEvent(log.LayerWire, "batch", err))
		return
	}
	for _, fr := range frames {
		c.route(fr)
	}
}

func (c *Conn) route(f *wire.Frame) {
	if f.IsCorrelated() {
		c.calls.Handle(f)
	}

	ch, snapshot, ok, err := c.unwrap.AppState(f)
	if !ok {
		c.dispatcher.Dispatch(f)
		return
	}
	if err != nil {
		c.warn("dropping malformed app state", "error", err)
		c.logEvent(c.errorEvent(log.LayerWire, "app state", err))
		return
	}

	if c.hook != nil {
		c.hook(ch)
	}
	for _, entry := range snapshot {
		expanded, err := c.unwrap.Expand(entry)
		if err != nil {
			c.warn("skipping malformed app state entry", "channel", ch, "error", err)
			continue
		}
		for _, e := range expanded {
			c.dispatcher.Dispatch(e)
		}
	}
}

// Call sends a correlated request. It fails with ErrNotOpen if the
// connection is not open; later failures reject the returned result.
func (c *Conn) Call(typ string, payload any, opts ...correlator.CallOption) (*deferred.Deferred[*wire.Frame], error) {
	if !c.IsOpen() {
		return nil, ErrNotOpen
	}
	return c.calls.Call(typ, payload, opts...), nil
}

// Send sends a fire-and-forget frame.
func (c *Conn) Send(typ string, payload any) error {
	if !c.IsOpen() {
		return ErrNotOpen
	}
	return c.transmit(wire.NewMessage(typ, payload))
}

// Respond answers a request from the far end. An empty state means
// wire.StateSuccess.
func (c *Conn) Respond(typ, correlationID string, state wire.State, payload any) error {
	if !c.IsOpen() {
		return ErrNotOpen
	}
	return c.transmit(wire.NewResponse(typ, correlationID, state, payload))
}

// transmit encodes and writes one frame.
func (c *Conn) transmit(f *wire.Frame) error {
	c.heartbeats.Touch(heartbeat.Outgoing)

	data, err := wire.EncodeFrame(c.codec, f)
	if err != nil {
		return err
	}
	c.logEvent(c.messageEvent(log.DirectionOut, f))

	if err := c.transport.Send(data); err != nil {
		c.logEvent(c.errorEvent(log.LayerTransport, "send "+f.Type, err))
		if errors.Is(err, transport.ErrNotConnected) {
			return fmt.Errorf("%w: %w", ErrNotOpen, err)
		}
		return fmt.Errorf("send %s: %w", f.Type, err)
	}
	return nil
}

// PendingCalls returns the number of calls awaiting a response.
func (c *Conn) PendingCalls() int {
	return c.calls.Pending()
}

// AddTypeHandler registers h for the namespace of typ. A comparable
// handler is registered once per namespace; every call with a
// HandlerFunc adds a registration that only RemoveHandler can remove.
func (c *Conn) AddTypeHandler(typ string, h dispatch.Handler) dispatch.HandlerID {
	return c.dispatcher.AddTypeHandler(typ, h)
}

// RemoveTypeHandler removes one registration of h for the namespace of typ.
func (c *Conn) RemoveTypeHandler(typ string, h dispatch.Handler) {
	c.dispatcher.RemoveTypeHandler(typ, h)
}

// RemoveHandler removes the registration with the given id.
func (c *Conn) RemoveHandler(id dispatch.HandlerID) {
	c.dispatcher.RemoveHandler(id)
}

// AddHeartbeat registers fn to run after interval without traffic in dir.
// It runs only while the connection is open.
func (c *Conn) AddHeartbeat(fn func(*Conn), interval time.Duration, dir heartbeat.Direction) heartbeat.ID {
	var id atomic.Uint64
	hid := c.heartbeats.Add(func() {
		c.logEvent(log.Event{
			ConnectionID: c.ConnectionID(),
			Layer:        log.LayerChannel,
			Category:     log.CategoryHeartbeat,
			Heartbeat: &log.HeartbeatEvent{
				ID:       id.Load(),
				Interval: interval,
				Reset:    dir.String(),
			},
		})
		fn(c)
	}, interval, dir)
	id.Store(uint64(hid))
	return hid
}

// RemoveHeartbeat cancels and removes a heartbeat. Unknown ids are ignored.
func (c *Conn) RemoveHeartbeat(id heartbeat.ID) {
	c.heartbeats.Remove(id)
}

// Subscribe registers a consumer of the channel (channelType, pk).
func (c *Conn) Subscribe(channelType string, pk int64) *subscription.Handle {
	return c.subs.Subscribe(channelType, pk)
}

// SubscribedChannels returns the channels currently subscribed.
func (c *Conn) SubscribedChannels() iter.Seq[wire.ChannelID] {
	return c.subs.SubscribedChannels()
}

// OnSubscribedChanged registers fn for subscription changes.
func (c *Conn) OnSubscribedChanged(fn func(subscription.Event)) subscription.ListenerID {
	return c.subs.OnSubscribedChanged(fn)
}

// OffSubscribedChanged removes a subscription listener.
func (c *Conn) OffSubscribedChanged(id subscription.ListenerID) {
	c.subs.OffSubscribedChanged(id)
}

func (c *Conn) logSubscription(ev subscription.Event) {
	newState, oldState := "UNSUBSCRIBED", "SUBSCRIBED"
	if ev.Subscribed {
		newState, oldState = oldState, newState
	}
	c.logEvent(log.NewStateEvent(c.ConnectionID(), log.StateChangeEvent{
		Entity:   log.StateEntitySubscription,
		OldState: oldState,
		NewState: newState,
		Channel:  ev.Channel().Key(),
	}))
}

func (c *Conn) messageEvent(dir log.Direction, f *wire.Frame) log.Event {
	ev := log.NewMessageEvent(c.ConnectionID(), dir, f)
	ev.Endpoint = c.endpoint
	return ev
}

func (c *Conn) errorEvent(layer log.Layer, op string, err error) log.Event {
	ev := log.NewErrorEvent(c.ConnectionID(), layer, op, err)
	ev.Endpoint = c.endpoint
	return ev
}

// logEvent stamps ev with the connection clock and records it.
func (c *Conn) logEvent(ev log.Event) {
	ev.Timestamp = c.clock.Now()
	c.protoLog.Log(ev)
}

// debugLog logs a debug message if logging is enabled.
func (c *Conn) debugLog(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

func (c *Conn) warn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}

// Compile-time interface satisfaction check.
var _ subscription.Conn = (*Conn)(nil)
