package subscription

import (
	"encoding/json"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/chanwire/chanwire-go/internal/idgen"
	"github.com/chanwire/chanwire-go/pkg/correlator"
	"github.com/chanwire/chanwire-go/pkg/deferred"
	"github.com/chanwire/chanwire-go/pkg/wire"
)

// DefaultLeaveDelay is the leave debounce used when Config.LeaveDelay is zero.
const DefaultLeaveDelay = time.Second

// Conn is the part of a connection the manager needs.
type Conn interface {
	// IsOpen returns true if frames can be sent.
	IsOpen() bool

	// Call sends a correlated request. It fails synchronously when the
	// connection is not open.
	Call(typ string, payload any, opts ...correlator.CallOption) (*deferred.Deferred[*wire.Frame], error)

	// Send sends a fire-and-forget frame.
	Send(typ string, payload any) error
}

// Config configures a Manager.
type Config struct {
	// LeaveDelay is the default debounce before a channel.leave is sent.
	// Negative values mean no delay.
	LeaveDelay time.Duration

	// Clock provides leave timers. Nil uses the wall clock.
	Clock clock.Clock

	// Logger receives debug output. Nil disables it.
	Logger *slog.Logger
}

// Event reports a channel becoming subscribed or unsubscribed.
type Event struct {
	ChannelType string `json:"channelType"`
	PK          int64  `json:"pk"`
	Subscribed  bool   `json:"subscribed"`
}

// Channel returns the channel identity of the event.
func (e Event) Channel() wire.ChannelID {
	return wire.ChannelID{Type: e.ChannelType, PK: e.PK}
}

// String returns the JSON form of the event.
func (e Event) String() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// ListenerID identifies a subscribed-changed listener.
type ListenerID uint64

type listener struct {
	id ListenerID
	fn func(Event)
}

// Manager tracks channel subscriptions for one connection.
// It is safe for concurrent use.
type Manager struct {
	mu sync.Mutex

	conn       Conn
	leaveDelay time.Duration
	clock      clock.Clock
	logger     *slog.Logger

	subs      map[string]*Subscription
	order     []*Subscription
	consumers idgen.Sequence

	listeners    []listener
	lastListener ListenerID
}

// NewManager creates a manager that talks through conn.
func NewManager(conn Conn, cfg Config) *Manager {
	if cfg.LeaveDelay == 0 {
		cfg.LeaveDelay = DefaultLeaveDelay
	}
	if cfg.LeaveDelay < 0 {
		cfg.LeaveDelay = 0
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	return &Manager{
		conn:       conn,
		leaveDelay: cfg.LeaveDelay,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		subs:       make(map[string]*Subscription),
	}
}

// Subscribe registers a new consumer of a channel.
//
// The first consumer of an unsubscribed channel triggers a
// channel.subscribe request if the connection is open; otherwise the
// request waits for the connection to open. A pending leave for the
// channel is cancelled.
func (m *Manager) Subscribe(channelType string, pk int64) *Handle {
	ch := wire.ChannelID{Type: channelType, PK: pk}

	m.mu.Lock()
	sub, ok := m.subs[ch.Key()]
	if !ok {
		sub = newSubscription(ch)
		m.subs[ch.Key()] = sub
		m.order = append(m.order, sub)
	}

	h := &Handle{m: m, sub: sub, consumer: m.consumers.Next()}
	sub.consumers[h.consumer] = struct{}{}
	m.cancelLeaveLocked(sub)

	var attempt uint64
	start := false
	switch {
	case sub.ShouldSubscribe() && m.conn.IsOpen():
		attempt = m.beginLocked(sub)
		start = true
		h.done = sub.pending
	case sub.status == StatusSubscribing && sub.pending != nil:
		h.done = sub.pending
	case sub.leaving:
		// Settled by fireLeave once the leave is out.
		if sub.pending == nil {
			sub.pending = deferred.New[*wire.Frame]()
		}
		h.done = sub.pending
	default:
		h.done = deferred.Resolved[*wire.Frame](nil)
	}
	m.mu.Unlock()

	m.debugLog("subscribe", "channel", ch, "consumer", h.consumer, "request", start)

	if start {
		m.request(sub, attempt, h.done)
	}
	return h
}

// beginLocked moves sub to Subscribing and returns the attempt number.
func (m *Manager) beginLocked(sub *Subscription) uint64 {
	sub.status = StatusSubscribing
	sub.attempt++
	sub.pending = deferred.New[*wire.Frame]()
	return sub.attempt
}

// request sends channel.subscribe and settles done with the outcome.
func (m *Manager) request(sub *Subscription, attempt uint64, done *deferred.Deferred[*wire.Frame]) {
	result, err := m.conn.Call(wire.TypeChannelSubscribe, wire.NewSubscribePayload(sub.Channel))
	if err != nil {
		// The connection went away before the request left. The channel
		// is retried when the connection opens again.
		m.mu.Lock()
		if sub.attempt == attempt {
			sub.status = StatusNone
			sub.pending = nil
		}
		m.mu.Unlock()

		m.debugLog("subscribe deferred", "channel", sub.Channel, "error", err)
		done.Resolve(nil)
		return
	}

	result.Then(
		func(f *wire.Frame) { m.acknowledge(sub, attempt, done, f) },
		func(err error) { m.fail(sub, attempt, done, err) },
	)
}

func (m *Manager) acknowledge(sub *Subscription, attempt uint64, done *deferred.Deferred[*wire.Frame], f *wire.Frame) {
	m.mu.Lock()
	if sub.attempt != attempt || sub.status != StatusSubscribing {
		m.mu.Unlock()
		done.Resolve(f)
		return
	}
	sub.status = StatusSubscribed
	sub.pending = nil
	if sub.ShouldLeave() {
		// Every consumer left while the request was in flight.
		m.scheduleLeaveLocked(sub, m.leaveDelay)
	}
	listeners := m.snapshotListenersLocked()
	m.mu.Unlock()

	m.debugLog("subscribed", "channel", sub.Channel)
	emit(listeners, Event{ChannelType: sub.Channel.Type, PK: sub.Channel.PK, Subscribed: true})
	done.Resolve(f)
}

func (m *Manager) fail(sub *Subscription, attempt uint64, done *deferred.Deferred[*wire.Frame], err error) {
	m.mu.Lock()
	if sub.attempt == attempt && sub.status == StatusSubscribing {
		sub.status = StatusNone
		sub.pending = nil
	}
	m.mu.Unlock()

	m.debugLog("subscribe failed", "channel", sub.Channel, "error", err)
	done.Reject(err)
}

func (m *Manager) leave(sub *Subscription, consumer string, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(sub.consumers, consumer)
	if !sub.ShouldLeave() {
		return
	}
	m.scheduleLeaveLocked(sub, delay)
}

func (m *Manager) scheduleLeaveLocked(sub *Subscription, delay time.Duration) {
	m.cancelLeaveLocked(sub)
	gen := sub.leaveGen
	sub.leaveTimer = m.clock.AfterFunc(delay, func() { m.fireLeave(sub, gen) })
}

func (m *Manager) cancelLeaveLocked(sub *Subscription) {
	if sub.leaveTimer != nil {
		sub.leaveTimer.Stop()
		sub.leaveTimer = nil
	}
	sub.leaveGen++
}

func (m *Manager) fireLeave(sub *Subscription, gen uint64) {
	m.mu.Lock()
	if sub.leaveGen != gen {
		m.mu.Unlock()
		return
	}
	sub.leaveTimer = nil
	if !sub.ShouldLeave() {
		m.mu.Unlock()
		return
	}
	sub.status = StatusNone
	sub.leaving = true
	m.mu.Unlock()

	if err := m.conn.Send(wire.TypeChannelLeave, wire.NewSubscribePayload(sub.Channel)); err != nil {
		m.debugLog("leave not sent", "channel", sub.Channel, "error", err)
	}

	// Consumers that subscribed while the leave was in flight get a fresh
	// subscribe now that it can no longer overtake the leave.
	m.mu.Lock()
	sub.leaving = false
	waiting := sub.pending
	sub.pending = nil
	var attempt uint64
	var done *deferred.Deferred[*wire.Frame]
	if sub.ShouldSubscribe() && m.conn.IsOpen() {
		attempt = m.beginLocked(sub)
		if waiting != nil {
			sub.pending = waiting
		}
		done = sub.pending
		waiting = nil
	}
	listeners := m.snapshotListenersLocked()
	m.mu.Unlock()

	emit(listeners, Event{ChannelType: sub.Channel.Type, PK: sub.Channel.PK, Subscribed: false})
	if waiting != nil {
		waiting.Resolve(nil)
	}
	if done != nil {
		m.debugLog("subscribe after leave", "channel", sub.Channel)
		m.request(sub, attempt, done)
	}
}

// HandleReadyState reacts to a connection ready-state change.
//
// Leaving the Open state resets every channel to None and cancels pending
// leaves; channels that were subscribed report subscribed=false. Entering
// the Open state subscribes every channel that has consumers.
func (m *Manager) HandleReadyState(open bool) {
	if open {
		m.resubscribe()
		return
	}

	m.mu.Lock()
	var dropped []wire.ChannelID
	for _, sub := range m.order {
		m.cancelLeaveLocked(sub)
		if sub.status == StatusSubscribed {
			dropped = append(dropped, sub.Channel)
		}
		if sub.status != StatusNone {
			sub.status = StatusNone
			sub.attempt++
			sub.pending = nil
		}
	}
	listeners := m.snapshotListenersLocked()
	m.mu.Unlock()

	for _, ch := range dropped {
		emit(listeners, Event{ChannelType: ch.Type, PK: ch.PK, Subscribed: false})
	}
}

func (m *Manager) resubscribe() {
	type job struct {
		sub     *Subscription
		attempt uint64
		done    *deferred.Deferred[*wire.Frame]
	}

	// Snapshot first: request may re-enter the manager.
	m.mu.Lock()
	var jobs []job
	for _, sub := range m.order {
		if sub.ShouldSubscribe() {
			attempt := m.beginLocked(sub)
			jobs = append(jobs, job{sub: sub, attempt: attempt, done: sub.pending})
		}
	}
	m.mu.Unlock()

	for _, j := range jobs {
		m.debugLog("resubscribe", "channel", j.sub.Channel)
		m.request(j.sub, j.attempt, j.done)
	}
}

// SubscribedChannels returns the channels currently in StatusSubscribed.
// The set is read when iteration starts; each iteration reads it afresh.
func (m *Manager) SubscribedChannels() iter.Seq[wire.ChannelID] {
	return func(yield func(wire.ChannelID) bool) {
		m.mu.Lock()
		var channels []wire.ChannelID
		for _, sub := range m.order {
			if sub.status == StatusSubscribed {
				channels = append(channels, sub.Channel)
			}
		}
		m.mu.Unlock()

		for _, ch := range channels {
			if !yield(ch) {
				return
			}
		}
	}
}

// Lookup returns a detached copy of the channel's registry entry.
func (m *Manager) Lookup(ch wire.ChannelID) (Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[ch.Key()]
	if !ok {
		return Subscription{}, false
	}
	return sub.clone(), true
}

// OnSubscribedChanged registers fn for subscribed-changed events.
func (m *Manager) OnSubscribedChanged(fn func(Event)) ListenerID {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastListener++
	m.listeners = append(m.listeners, listener{id: m.lastListener, fn: fn})
	return m.lastListener
}

// OffSubscribedChanged removes a listener. Unknown ids are ignored.
func (m *Manager) OffSubscribedChanged(id ListenerID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, l := range m.listeners {
		if l.id == id {
			m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
			return
		}
	}
}

func (m *Manager) snapshotListenersLocked() []listener {
	return append([]listener(nil), m.listeners...)
}

func emit(listeners []listener, ev Event) {
	for _, l := range listeners {
		l.fn(ev)
	}
}

func (m *Manager) debugLog(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Debug(msg, args...)
	}
}
