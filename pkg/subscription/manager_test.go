package subscription

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanwire/chanwire-go/pkg/correlator"
	"github.com/chanwire/chanwire-go/pkg/deferred"
	"github.com/chanwire/chanwire-go/pkg/wire"
)

var errNotOpen = errors.New("not open")

type pendingCall struct {
	typ     string
	payload any
	result  *deferred.Deferred[*wire.Frame]
}

// fakeConn records requests and lets tests settle them.
type fakeConn struct {
	mu    sync.Mutex
	open  bool
	calls []*pendingCall
	sent  []*wire.Frame
	order []string

	// onSend runs after a one-way frame is recorded, outside the lock.
	onSend func(typ string)
}

func (c *fakeConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeConn) setOpen(open bool) {
	c.mu.Lock()
	c.open = open
	c.mu.Unlock()
}

func (c *fakeConn) Call(typ string, payload any, _ ...correlator.CallOption) (*deferred.Deferred[*wire.Frame], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil, errNotOpen
	}
	p := &pendingCall{typ: typ, payload: payload, result: deferred.New[*wire.Frame]()}
	c.calls = append(c.calls, p)
	c.order = append(c.order, typ)
	return p.result, nil
}

func (c *fakeConn) Send(typ string, payload any) error {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return errNotOpen
	}
	c.sent = append(c.sent, wire.NewMessage(typ, payload))
	c.order = append(c.order, typ)
	hook := c.onSend
	c.mu.Unlock()

	if hook != nil {
		hook(typ)
	}
	return nil
}

func (c *fakeConn) frameOrder() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.order)
}

func (c *fakeConn) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *fakeConn) leaveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, f := range c.sent {
		if f.Type == wire.TypeChannelLeave {
			n++
		}
	}
	return n
}

func (c *fakeConn) call(t *testing.T, i int) *pendingCall {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Greater(t, len(c.calls), i)
	return c.calls[i]
}

// ack acknowledges request i as the far end would.
func (c *fakeConn) ack(t *testing.T, i int) {
	t.Helper()
	p := c.call(t, i)
	sp := p.payload.(*wire.SubscribePayload)
	p.result.Resolve(wire.NewResponse(wire.TypeChannelSubscribed, "1", wire.StateSuccess, &wire.SubscribedPayload{
		ChannelType: sp.ChannelType,
		PK:          sp.PK,
	}))
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) get() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func newTestManager(open bool) (*Manager, *fakeConn, *clock.Mock) {
	conn := &fakeConn{open: open}
	mock := clock.NewMock()
	return NewManager(conn, Config{Clock: mock}), conn, mock
}

func status(t *testing.T, m *Manager, typ string, pk int64) Status {
	t.Helper()
	sub, ok := m.Lookup(wire.ChannelID{Type: typ, PK: pk})
	require.True(t, ok)
	return sub.Status()
}

func TestSingleSubscribeRequest(t *testing.T) {
	m, conn, _ := newTestManager(true)

	h1 := m.Subscribe("A", 1)
	h2 := m.Subscribe("A", 1)
	assert.Equal(t, 1, conn.callCount())
	assert.Equal(t, StatusSubscribing, status(t, m, "A", 1))

	p := conn.call(t, 0)
	assert.Equal(t, wire.TypeChannelSubscribe, p.typ)
	assert.Equal(t, &wire.SubscribePayload{ChannelType: "A", PK: 1}, p.payload)

	conn.ack(t, 0)
	h3 := m.Subscribe("A", 1)
	assert.Equal(t, 1, conn.callCount())
	assert.Equal(t, StatusSubscribed, status(t, m, "A", 1))

	for _, h := range []*Handle{h1, h2, h3} {
		_, ok, err := h.Done().Result()
		assert.True(t, ok)
		assert.NoError(t, err)
	}

	sub, _ := m.Lookup(wire.ChannelID{Type: "A", PK: 1})
	assert.Equal(t, 3, sub.Consumers())
}

func TestDistinctChannelsSubscribeSeparately(t *testing.T) {
	m, conn, _ := newTestManager(true)
	m.Subscribe("A", 1)
	m.Subscribe("A", 2)
	m.Subscribe("B", 1)
	assert.Equal(t, 3, conn.callCount())
}

func TestLeaveLastSubscriberOnly(t *testing.T) {
	m, conn, mock := newTestManager(true)
	var log eventLog
	m.OnSubscribedChanged(log.record)

	h1 := m.Subscribe("A", 1)
	h2 := m.Subscribe("A", 1)
	conn.ack(t, 0)

	h1.Leave(0)
	mock.Add(time.Second)
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 0, conn.leaveCount())
	assert.Equal(t, StatusSubscribed, status(t, m, "A", 1))

	h2.Leave(0)
	mock.Add(0)
	require.Eventually(t, func() bool { return conn.leaveCount() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, StatusNone, status(t, m, "A", 1))

	mock.Add(time.Second)
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, conn.leaveCount())

	require.Eventually(t, func() bool { return len(log.get()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []Event{
		{ChannelType: "A", PK: 1, Subscribed: true},
		{ChannelType: "A", PK: 1, Subscribed: false},
	}, log.get())
}

func TestLeaveUsesDefaultDelay(t *testing.T) {
	m, conn, mock := newTestManager(true)
	h := m.Subscribe("A", 1)
	conn.ack(t, 0)

	h.Leave()
	mock.Add(DefaultLeaveDelay - time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 0, conn.leaveCount())

	mock.Add(time.Millisecond)
	require.Eventually(t, func() bool { return conn.leaveCount() == 1 }, time.Second, time.Millisecond)
}

func TestLeaveCancelledByResubscribe(t *testing.T) {
	m, conn, mock := newTestManager(true)
	h := m.Subscribe("A", 1)
	conn.ack(t, 0)

	h.Leave()
	mock.Add(DefaultLeaveDelay / 2)
	sub, _ := m.Lookup(wire.ChannelID{Type: "A", PK: 1})
	assert.True(t, sub.LeavePending())

	m.Subscribe("A", 1)
	mock.Add(DefaultLeaveDelay * 2)
	time.Sleep(5 * time.Millisecond)

	assert.Equal(t, 0, conn.leaveCount())
	assert.Equal(t, 1, conn.callCount())
	assert.Equal(t, StatusSubscribed, status(t, m, "A", 1))
}

func TestLeaveTwiceIsNoop(t *testing.T) {
	m, conn, mock := newTestManager(true)
	h1 := m.Subscribe("A", 1)
	m.Subscribe("A", 1)
	conn.ack(t, 0)

	h1.Leave(0)
	h1.Leave(0)
	mock.Add(time.Second)
	time.Sleep(5 * time.Millisecond)

	sub, _ := m.Lookup(wire.ChannelID{Type: "A", PK: 1})
	assert.Equal(t, 1, sub.Consumers())
	assert.Equal(t, 0, conn.leaveCount())
}

func TestLeaveWhileSubscribing(t *testing.T) {
	m, conn, mock := newTestManager(true)
	h := m.Subscribe("A", 1)

	h.Leave(0)
	assert.Equal(t, StatusSubscribing, status(t, m, "A", 1))

	conn.ack(t, 0)
	mock.Add(DefaultLeaveDelay)
	require.Eventually(t, func() bool { return conn.leaveCount() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, StatusNone, status(t, m, "A", 1))
}

func TestSubscribeDuringLeaveWaitsForLeave(t *testing.T) {
	m, conn, mock := newTestManager(true)
	h := m.Subscribe("A", 1)
	conn.ack(t, 0)

	handles := make(chan *Handle, 1)
	conn.onSend = func(typ string) {
		if typ != wire.TypeChannelLeave {
			return
		}
		sub, ok := m.Lookup(wire.ChannelID{Type: "A", PK: 1})
		assert.True(t, ok)
		assert.True(t, sub.Leaving())
		handles <- m.Subscribe("A", 1)
		assert.Equal(t, 1, conn.callCount())
	}

	h.Leave(0)
	mock.Add(0)
	require.Eventually(t, func() bool { return conn.callCount() == 2 }, time.Second, time.Millisecond)

	assert.Equal(t, []string{
		wire.TypeChannelSubscribe,
		wire.TypeChannelLeave,
		wire.TypeChannelSubscribe,
	}, conn.frameOrder())
	assert.Equal(t, StatusSubscribing, status(t, m, "A", 1))

	h2 := <-handles
	conn.ack(t, 1)
	_, err := h2.Done().Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusSubscribed, status(t, m, "A", 1))
}

func TestSubscribeDuringLeaveWhileClosing(t *testing.T) {
	m, conn, mock := newTestManager(true)
	h := m.Subscribe("A", 1)
	conn.ack(t, 0)

	handles := make(chan *Handle, 1)
	conn.onSend = func(typ string) {
		if typ != wire.TypeChannelLeave {
			return
		}
		conn.setOpen(false)
		handles <- m.Subscribe("A", 1)
	}

	h.Leave(0)
	mock.Add(0)
	h2 := <-handles

	_, err := h2.Done().Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, conn.callCount())
	assert.Equal(t, StatusNone, status(t, m, "A", 1))

	conn.setOpen(true)
	m.HandleReadyState(true)
	require.Eventually(t, func() bool { return conn.callCount() == 2 }, time.Second, time.Millisecond)
}

func TestSubscribeWhileClosedIsDeferred(t *testing.T) {
	m, conn, _ := newTestManager(false)

	h := m.Subscribe("A", 1)
	f, ok, err := h.Done().Result()
	assert.True(t, ok, "completion resolves at once")
	assert.NoError(t, err)
	assert.Nil(t, f)
	assert.Equal(t, 0, conn.callCount())
	assert.Equal(t, StatusNone, status(t, m, "A", 1))

	conn.setOpen(true)
	m.HandleReadyState(true)
	assert.Equal(t, 1, conn.callCount())
	assert.Equal(t, &wire.SubscribePayload{ChannelType: "A", PK: 1}, conn.call(t, 0).payload)
}

func TestReconnectResubscribes(t *testing.T) {
	m, conn, _ := newTestManager(true)
	var log eventLog
	m.OnSubscribedChanged(log.record)

	m.Subscribe("A", 1)
	conn.ack(t, 0)
	assert.Equal(t, StatusSubscribed, status(t, m, "A", 1))

	conn.setOpen(false)
	m.HandleReadyState(false)
	assert.Equal(t, StatusNone, status(t, m, "A", 1))
	assert.Equal(t, 0, conn.leaveCount(), "no leave frames on disconnect")

	// Redundant non-open notifications change nothing.
	m.HandleReadyState(false)

	conn.setOpen(true)
	m.HandleReadyState(true)
	require.Equal(t, 2, conn.callCount())
	conn.ack(t, 1)
	assert.Equal(t, StatusSubscribed, status(t, m, "A", 1))

	assert.Equal(t, []Event{
		{ChannelType: "A", PK: 1, Subscribed: true},
		{ChannelType: "A", PK: 1, Subscribed: false},
		{ChannelType: "A", PK: 1, Subscribed: true},
	}, log.get())
}

func TestReconnectSkipsChannelsWithoutConsumers(t *testing.T) {
	m, conn, mock := newTestManager(true)
	h := m.Subscribe("A", 1)
	conn.ack(t, 0)
	h.Leave()

	conn.setOpen(false)
	m.HandleReadyState(false)
	mock.Add(DefaultLeaveDelay * 2)
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 0, conn.leaveCount(), "disconnect cancels the pending leave")

	conn.setOpen(true)
	m.HandleReadyState(true)
	assert.Equal(t, 1, conn.callCount())
}

func TestStaleAckAfterDisconnect(t *testing.T) {
	m, conn, _ := newTestManager(true)
	m.Subscribe("A", 1)

	conn.setOpen(false)
	m.HandleReadyState(false)
	conn.ack(t, 0)
	assert.Equal(t, StatusNone, status(t, m, "A", 1))
	assert.Empty(t, slices.Collect(m.SubscribedChannels()))
}

func TestSubscribeFailure(t *testing.T) {
	m, conn, _ := newTestManager(true)
	h := m.Subscribe("A", 1)

	boom := &correlator.FailureError{Type: wire.TypeChannelSubscribe, Message: "no such channel"}
	conn.call(t, 0).result.Reject(boom)

	_, ok, err := h.Done().Result()
	require.True(t, ok)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StatusNone, status(t, m, "A", 1))

	// A later subscriber tries again.
	m.Subscribe("A", 1)
	assert.Equal(t, 2, conn.callCount())
}

func TestSubscribedChannels(t *testing.T) {
	m, conn, _ := newTestManager(true)
	m.Subscribe("A", 1)
	m.Subscribe("B", 2)
	m.Subscribe("C", 3)
	conn.ack(t, 0)
	conn.ack(t, 2)

	seq := m.SubscribedChannels()
	want := []wire.ChannelID{{Type: "A", PK: 1}, {Type: "C", PK: 3}}
	assert.Equal(t, want, slices.Collect(seq))

	conn.ack(t, 1)
	assert.Len(t, slices.Collect(seq), 3, "each iteration reads the current set")

	for ch := range seq {
		assert.Equal(t, wire.ChannelID{Type: "A", PK: 1}, ch)
		break
	}
}

func TestOffSubscribedChanged(t *testing.T) {
	m, conn, _ := newTestManager(true)
	var calls int
	id := m.OnSubscribedChanged(func(Event) { calls++ })
	m.OffSubscribedChanged(id)
	m.OffSubscribedChanged(id)

	m.Subscribe("A", 1)
	conn.ack(t, 0)
	assert.Equal(t, 0, calls)
}

func TestEventString(t *testing.T) {
	e := Event{ChannelType: "A", PK: 1, Subscribed: true}
	assert.JSONEq(t, `{"channelType":"A","pk":1,"subscribed":true}`, e.String())
	assert.Equal(t, wire.ChannelID{Type: "A", PK: 1}, e.Channel())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "NONE", StatusNone.String())
	assert.Equal(t, "SUBSCRIBING", StatusSubscribing.String())
	assert.Equal(t, "SUBSCRIBED", StatusSubscribed.String())
	assert.Equal(t, "UNKNOWN", Status(7).String())
}
