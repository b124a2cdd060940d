package subscription

import (
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/chanwire/chanwire-go/pkg/deferred"
	"github.com/chanwire/chanwire-go/pkg/wire"
)

// Status is the far-end state of a channel subscription.
type Status uint8

const (
	// StatusNone means no subscription exists on the far end.
	StatusNone Status = iota

	// StatusSubscribing means a channel.subscribe request is in flight.
	StatusSubscribing

	// StatusSubscribed means the far end acknowledged the subscription.
	StatusSubscribed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusNone:
		return "NONE"
	case StatusSubscribing:
		return "SUBSCRIBING"
	case StatusSubscribed:
		return "SUBSCRIBED"
	default:
		return "UNKNOWN"
	}
}

// Subscription is the registry entry for one channel.
// Fields are guarded by the owning Manager's lock.
type Subscription struct {
	Channel wire.ChannelID

	consumers map[string]struct{}
	status    Status

	// attempt increments whenever a subscribe request starts or the
	// connection drops, so results of superseded requests are ignored.
	attempt uint64
	pending *deferred.Deferred[*wire.Frame]

	leaveTimer *clock.Timer
	leaveGen   uint64

	// leaving is set while a channel.leave is being sent. A subscribe
	// arriving meanwhile is held back until the leave is on the wire.
	leaving bool
}

func newSubscription(ch wire.ChannelID) *Subscription {
	return &Subscription{
		Channel:   ch,
		consumers: make(map[string]struct{}),
	}
}

// ShouldSubscribe returns true if the channel has consumers but no
// subscription on the far end, and no leave is being sent.
func (s *Subscription) ShouldSubscribe() bool {
	return len(s.consumers) > 0 && s.status == StatusNone && !s.leaving
}

// ShouldLeave returns true if the channel is subscribed but nobody is
// listening any more.
func (s *Subscription) ShouldLeave() bool {
	return len(s.consumers) == 0 && s.status == StatusSubscribed
}

// Status returns the subscription status.
func (s *Subscription) Status() Status {
	return s.status
}

// Consumers returns the number of consumers.
func (s *Subscription) Consumers() int {
	return len(s.consumers)
}

// LeavePending returns true while a leave timer is armed.
func (s *Subscription) LeavePending() bool {
	return s.leaveTimer != nil
}

// Leaving returns true while a channel.leave is being sent.
func (s *Subscription) Leaving() bool {
	return s.leaving
}

// clone returns a detached copy for callers outside the manager lock.
func (s *Subscription) clone() Subscription {
	c := Subscription{
		Channel:   s.Channel,
		consumers: make(map[string]struct{}, len(s.consumers)),
		status:    s.status,
		attempt:   s.attempt,
		leaving:   s.leaving,
	}
	for id := range s.consumers {
		c.consumers[id] = struct{}{}
	}
	if s.leaveTimer != nil {
		// Marks the copy as leave-pending; never stopped through the copy.
		c.leaveTimer = s.leaveTimer
	}
	return c
}

// Handle is one consumer's interest in a channel.
type Handle struct {
	m        *Manager
	sub      *Subscription
	consumer string
	done     *deferred.Deferred[*wire.Frame]
	left     atomic.Bool
}

// Channel returns the subscribed channel.
func (h *Handle) Channel() wire.ChannelID {
	return h.sub.Channel
}

// Done returns the completion of the subscribe.
//
// It resolves with the acknowledgement frame once the far end confirms,
// or with nil if nothing needed sending (already subscribed, or the
// connection is not open and the request is deferred). It rejects if the
// subscribe request fails.
func (h *Handle) Done() *deferred.Deferred[*wire.Frame] {
	return h.done
}

// Leave drops this consumer's interest. When it was the last consumer of
// a subscribed channel, a channel.leave is sent after delay (default:
// the manager's leave delay). Calling Leave more than once has no effect.
func (h *Handle) Leave(delay ...time.Duration) {
	if !h.left.CompareAndSwap(false, true) {
		return
	}
	d := h.m.leaveDelay
	if len(delay) > 0 {
		d = delay[0]
	}
	h.m.leave(h.sub, h.consumer, d)
}
