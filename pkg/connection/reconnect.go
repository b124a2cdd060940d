package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/chanwire/chanwire-go/pkg/transport"
)

// DefaultAttemptTimeout bounds a single reconnection attempt.
const DefaultAttemptTimeout = 30 * time.Second

// ReconnectConfig configures a Reconnector.
type ReconnectConfig struct {
	// Backoff shapes the delay between attempts.
	Backoff BackoffConfig

	// AttemptTimeout bounds each Connect call (default: 30s).
	AttemptTimeout time.Duration

	// Clock schedules attempts. Nil uses the wall clock.
	Clock clock.Clock

	// Logger receives debug output. Nil disables it.
	Logger *slog.Logger
}

// Reconnector reconnects a Conn whenever its ready state becomes Closed.
//
// Stop the Reconnector before closing the connection on purpose;
// otherwise the local close is treated like any other disconnect.
type Reconnector struct {
	conn    *Conn
	backoff *Backoff
	clock   clock.Clock
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	running  bool
	stopped  bool
	listener ListenerID
	timer    *clock.Timer
	gen      uint64
	ctx      context.Context
	cancel   context.CancelFunc

	onReconnecting func(attempt int, delay time.Duration)
	onConnected    func()
	onFailed       func(attempt int, err error)
}

// NewReconnector creates a stopped reconnector for conn.
func NewReconnector(conn *Conn, cfg ReconnectConfig) *Reconnector {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconnector{
		conn:    conn,
		backoff: NewBackoff(cfg.Backoff),
		clock:   cfg.Clock,
		timeout: cfg.AttemptTimeout,
		logger:  cfg.Logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins watching the connection. If it is already closed, the
// first attempt is scheduled right away.
func (r *Reconnector) Start() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrReconnectorStopped
	}
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.mu.Unlock()

	id := r.conn.OnReadyStateChanged(r.stateChanged)

	r.mu.Lock()
	r.listener = id
	var notify func()
	if r.conn.ReadyState() == transport.Closed {
		notify = r.scheduleLocked()
	}
	r.mu.Unlock()

	if notify != nil {
		notify()
	}
	return nil
}

// Stop cancels any scheduled or running attempt. A stopped Reconnector
// cannot be restarted.
func (r *Reconnector) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.running = false
	r.cancelTimerLocked()
	id := r.listener
	r.mu.Unlock()

	r.cancel()
	r.conn.OffReadyStateChanged(id)
}

// Attempts returns the number of attempts since the last successful
// connection.
func (r *Reconnector) Attempts() int {
	return r.backoff.Attempts()
}

// Pending returns true while an attempt is scheduled.
func (r *Reconnector) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timer != nil
}

// OnReconnecting sets a callback run when an attempt is scheduled.
func (r *Reconnector) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReconnecting = fn
}

// OnConnected sets a callback run when the connection opens again.
func (r *Reconnector) OnConnected(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onConnected = fn
}

// OnFailed sets a callback run when an attempt fails.
func (r *Reconnector) OnFailed(fn func(attempt int, err error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFailed = fn
}

func (r *Reconnector) stateChanged(_, to transport.ReadyState) {
	switch to {
	case transport.Open:
		r.backoff.Reset()
		r.mu.Lock()
		r.cancelTimerLocked()
		fn := r.onConnected
		r.mu.Unlock()
		if fn != nil {
			fn()
		}
	case transport.Closed:
		r.mu.Lock()
		notify := r.scheduleLocked()
		r.mu.Unlock()
		if notify != nil {
			notify()
		}
	}
}

// scheduleLocked arms the next attempt unless one is already pending.
// The returned function, if any, runs the OnReconnecting callback and
// must be called without the lock held.
func (r *Reconnector) scheduleLocked() func() {
	if !r.running || r.timer != nil {
		return nil
	}
	delay := r.backoff.Next()
	attempt := r.backoff.Attempts()
	r.gen++
	gen := r.gen
	r.timer = r.clock.AfterFunc(delay, func() { r.attempt(gen, attempt) })

	if r.logger != nil {
		r.logger.Debug("reconnect scheduled", "attempt", attempt, "delay", delay)
	}
	fn := r.onReconnecting
	if fn == nil {
		return nil
	}
	return func() { fn(attempt, delay) }
}

func (r *Reconnector) cancelTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.gen++
}

func (r *Reconnector) attempt(gen uint64, attempt int) {
	r.mu.Lock()
	if r.gen != gen || !r.running {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	err := r.conn.Connect(ctx)
	cancel()

	if err == nil || errors.Is(err, transport.ErrAlreadyOpen) {
		return
	}

	r.mu.Lock()
	failed := r.onFailed
	var notify func()
	if r.conn.ReadyState() == transport.Closed {
		notify = r.scheduleLocked()
	}
	r.mu.Unlock()

	if r.logger != nil {
		r.logger.Debug("reconnect failed", "attempt", attempt, "error", err)
	}
	if failed != nil {
		failed(attempt, err)
	}
	if notify != nil {
		notify()
	}
}
