// Package correlator matches responses to outstanding requests.
//
// Each call gets a fresh correlation id and an idle timeout. Queued and
// Running frames for the id restart the timeout and report progress;
// Success resolves the call with the full frame; Failed rejects it with a
// *ValidationError or *FailureError. Any other state rejects it with a
// *ProtocolError.
package correlator

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/chanwire/chanwire-go/internal/idgen"
	"github.com/chanwire/chanwire-go/pkg/deferred"
	"github.com/chanwire/chanwire-go/pkg/wire"
)

// DefaultTimeout is the idle timeout used when Config.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// SendFunc transmits a request frame.
type SendFunc func(f *wire.Frame) error

// Config configures a Correlator.
type Config struct {
	// Timeout is the default idle timeout per call.
	Timeout time.Duration

	// Clock provides timers. Nil uses the wall clock.
	Clock clock.Clock

	// Codec decodes failure payloads. Nil uses wire.JSON.
	Codec wire.Codec

	// Logger receives debug output. Nil disables it.
	Logger *slog.Logger
}

// CallOption customizes a single call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout time.Duration
}

// WithTimeout overrides the idle timeout for one call.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

type pendingCall struct {
	id      string
	typ     string
	result  *deferred.Deferred[*wire.Frame]
	timeout time.Duration
	timer   *clock.Timer
	gen     uint64
}

// Correlator tracks pending calls. It is safe for concurrent use.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*pendingCall
	ids     idgen.Sequence

	send    SendFunc
	timeout time.Duration
	clock   clock.Clock
	codec   wire.Codec
	logger  *slog.Logger
}

// New creates a correlator that transmits requests through send.
func New(send SendFunc, cfg Config) *Correlator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Codec == nil {
		cfg.Codec = wire.JSON
	}

	c := &Correlator{
		pending: make(map[string]*pendingCall),
		send:    send,
		timeout: cfg.Timeout,
		clock:   cfg.Clock,
		codec:   cfg.Codec,
		logger:  cfg.Logger,
	}
	// Next is only called with c.mu held.
	c.ids.InUse = c.pendingLocked
	return c
}

// Call sends a request and returns its result handle.
//
// The call is registered before the frame is transmitted, so a response
// delivered during transmission is not lost. A transmit error rejects the
// handle immediately.
func (c *Correlator) Call(typ string, payload any, opts ...CallOption) *deferred.Deferred[*wire.Frame] {
	o := callOptions{timeout: c.timeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.timeout <= 0 {
		o.timeout = c.timeout
	}

	p := &pendingCall{
		typ:     typ,
		result:  deferred.New[*wire.Frame](),
		timeout: o.timeout,
	}

	c.mu.Lock()
	p.id = c.ids.Next()
	c.pending[p.id] = p
	c.armLocked(p)
	c.mu.Unlock()

	c.debugLog("call", "id", p.id, "type", typ, "timeout", o.timeout)

	if err := c.send(wire.NewRequest(typ, p.id, payload)); err != nil {
		if c.remove(p) {
			p.result.Reject(fmt.Errorf("send %s: %w", typ, err))
		}
	}
	return p.result
}

// Handle routes a correlated frame to its pending call.
// Returns false if no call with the frame's correlation id is pending.
func (c *Correlator) Handle(f *wire.Frame) bool {
	if f.CorrelationID == "" {
		return false
	}

	c.mu.Lock()
	p, ok := c.pending[f.CorrelationID]
	if !ok {
		c.mu.Unlock()
		c.debugLog("no pending call", "id", f.CorrelationID, "type", f.Type)
		return false
	}

	outcome := wire.Interpret(c.codec, f)
	if progress, ok := outcome.(wire.InProgress); ok {
		c.armLocked(p)
		c.mu.Unlock()

		if progress.Payload != nil {
			p.result.Progress(progress.Payload)
		}
		return true
	}

	c.removeLocked(p)
	c.mu.Unlock()

	switch o := outcome.(type) {
	case wire.Succeeded:
		p.result.Resolve(o.Frame)
	case wire.Invalid:
		p.result.Reject(&ValidationError{Type: f.Type, Message: o.Message, Errors: o.Errors})
	case wire.Failed:
		p.result.Reject(&FailureError{Type: f.Type, Message: o.Message})
	case wire.Violation:
		p.result.Reject(&ProtocolError{Type: f.Type, State: o.State})
	}
	return true
}

// Abandon removes a pending call and rejects it with ErrAbandoned.
// Returns false if the call is no longer pending.
func (c *Correlator) Abandon(id string) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		c.removeLocked(p)
	}
	c.mu.Unlock()

	if ok {
		p.result.Reject(fmt.Errorf("call %s (%s): %w", id, p.typ, ErrAbandoned))
	}
	return ok
}

// Pending returns the number of outstanding calls.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) pendingLocked(id string) bool {
	_, ok := c.pending[id]
	return ok
}

// armLocked cancels the call's timer and starts a fresh one.
func (c *Correlator) armLocked(p *pendingCall) {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.gen++
	gen := p.gen
	p.timer = c.clock.AfterFunc(p.timeout, func() { c.expire(p, gen) })
}

func (c *Correlator) remove(p *pendingCall) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[p.id] != p {
		return false
	}
	c.removeLocked(p)
	return true
}

func (c *Correlator) removeLocked(p *pendingCall) {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.gen++
	delete(c.pending, p.id)
}

func (c *Correlator) expire(p *pendingCall, gen uint64) {
	c.mu.Lock()
	if c.pending[p.id] != p || p.gen != gen {
		c.mu.Unlock()
		return
	}
	c.removeLocked(p)
	c.mu.Unlock()

	c.debugLog("call timed out", "id", p.id, "type", p.typ, "timeout", p.timeout)
	p.result.Reject(fmt.Errorf("call %s (%s) after %s: %w", p.id, p.typ, p.timeout, ErrTimeout))
}

func (c *Correlator) debugLog(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
