package transport

import (
	"context"
	"sync"
)

// Pipe is an in-memory transport. The far end is the test or component
// holding the Pipe: it reads what the near end sent with Sent or a Peer
// callback, and delivers messages with Inject.
//
// All callbacks run synchronously on the caller's goroutine.
type Pipe struct {
	mu     sync.Mutex
	state  ReadyState
	events Events
	sent   [][]byte

	// Peer, when set, receives every sent message.
	Peer func(data []byte)

	// OpenErr, when set, makes the next Open fail with it.
	OpenErr error
}

// NewPipe creates a closed pipe.
func NewPipe() *Pipe {
	return &Pipe{state: Closed}
}

// Open opens the pipe immediately.
func (p *Pipe) Open(_ context.Context, events Events) error {
	p.mu.Lock()
	if p.state == Open || p.state == Connecting {
		p.mu.Unlock()
		return ErrAlreadyOpen
	}
	if err := p.OpenErr; err != nil {
		p.OpenErr = nil
		p.mu.Unlock()
		return err
	}
	p.state = Open
	p.events = events
	p.mu.Unlock()

	if events.OnOpen != nil {
		events.OnOpen()
	}
	return nil
}

// Send records the message and forwards it to Peer.
func (p *Pipe) Send(data []byte) error {
	p.mu.Lock()
	if p.state != Open {
		p.mu.Unlock()
		return ErrNotConnected
	}
	msg := append([]byte(nil), data...)
	p.sent = append(p.sent, msg)
	peer := p.Peer
	p.mu.Unlock()

	if peer != nil {
		peer(msg)
	}
	return nil
}

// Close closes the pipe locally. OnClose is called with a nil error.
func (p *Pipe) Close() error {
	p.drop(nil)
	return nil
}

// Drop closes the pipe as if the far end went away.
func (p *Pipe) Drop(err error) {
	p.drop(err)
}

func (p *Pipe) drop(err error) {
	p.mu.Lock()
	if p.state == Closed {
		p.mu.Unlock()
		return
	}
	p.state = Closed
	events := p.events
	p.events = Events{}
	p.mu.Unlock()

	if events.OnClose != nil {
		events.OnClose(err)
	}
}

// Inject delivers a message from the far end.
// Returns ErrNotConnected if the pipe is not open.
func (p *Pipe) Inject(data []byte) error {
	p.mu.Lock()
	events := p.events
	open := p.state == Open
	p.mu.Unlock()

	if !open {
		return ErrNotConnected
	}
	if events.OnMessage != nil {
		events.OnMessage(data)
	}
	return nil
}

// Fail reports a non-fatal error to the near end.
func (p *Pipe) Fail(err error) {
	p.mu.Lock()
	events := p.events
	p.mu.Unlock()
	if events.OnError != nil {
		events.OnError(err)
	}
}

// SetState forces the ready state without firing callbacks.
func (p *Pipe) SetState(state ReadyState) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}

// Sent returns a copy of every message sent so far.
func (p *Pipe) Sent() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.sent...)
}

// Reset forgets sent messages.
func (p *Pipe) Reset() {
	p.mu.Lock()
	p.sent = nil
	p.mu.Unlock()
}

// ReadyState returns the current state.
func (p *Pipe) ReadyState() ReadyState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}
