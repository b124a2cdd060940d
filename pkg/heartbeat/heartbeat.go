// Package heartbeat schedules callbacks that fire after a period of quiet
// traffic.
//
// Each entry measures the time since the last matching traffic, not wall
// time: Touch restarts every entry whose direction matches. Entries repeat
// on their interval until touched again. Timers only run between Start and
// Stop, which the owning connection calls on open and close.
package heartbeat

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Direction selects which traffic resets a heartbeat.
type Direction uint8

const (
	// Either resets on traffic in any direction.
	Either Direction = iota

	// Incoming resets on received frames only.
	Incoming

	// Outgoing resets on sent frames only.
	Outgoing
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case Either:
		return "EITHER"
	case Incoming:
		return "INCOMING"
	case Outgoing:
		return "OUTGOING"
	default:
		return "UNKNOWN"
	}
}

// matches reports whether traffic in direction t resets an entry with d.
func (d Direction) matches(t Direction) bool {
	return d == Either || t == Either || d == t
}

// ID identifies a registered heartbeat.
type ID uint64

type entry struct {
	id       ID
	fn       func()
	interval time.Duration
	dir      Direction

	timer   *clock.Timer
	gen     uint64
	removed bool
}

// Scheduler owns a set of heartbeat entries.
// It is safe for concurrent use.
type Scheduler struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries []*entry
	lastID  ID
	running bool
}

// New creates a stopped scheduler. A nil clock uses the wall clock.
func New(clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{clock: clk}
}

// Add registers fn to run after interval of quiet traffic in dir.
// The entry is armed immediately if the scheduler is running.
// Panics if interval is not positive.
func (s *Scheduler) Add(fn func(), interval time.Duration, dir Direction) ID {
	if interval <= 0 {
		panic("heartbeat: non-positive interval")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastID++
	e := &entry{id: s.lastID, fn: fn, interval: interval, dir: dir}
	s.entries = append(s.entries, e)
	if s.running {
		s.armLocked(e)
	}
	return e.id
}

// Remove cancels and removes an entry. Unknown ids are ignored.
func (s *Scheduler) Remove(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.entries {
		if e.id == id {
			s.disarmLocked(e)
			e.removed = true
			s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
			return
		}
	}
}

// Touch restarts every entry whose direction matches dir.
// It has no effect while the scheduler is stopped.
func (s *Scheduler) Touch(dir Direction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	for _, e := range s.entries {
		if e.dir.matches(dir) {
			s.armLocked(e)
		}
	}
}

// Start arms every entry from zero.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = true
	for _, e := range s.entries {
		s.armLocked(e)
	}
}

// Stop cancels every timer. Entries stay registered.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	for _, e := range s.entries {
		s.disarmLocked(e)
	}
}

// Len returns the number of registered entries.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// armLocked cancels any running timer for e and starts a fresh one.
func (s *Scheduler) armLocked(e *entry) {
	s.disarmLocked(e)
	gen := e.gen
	e.timer = s.clock.AfterFunc(e.interval, func() { s.fire(e, gen) })
}

func (s *Scheduler) disarmLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	// A timer that already fired but has not yet taken the lock sees a
	// newer generation and does nothing.
	e.gen++
}

func (s *Scheduler) fire(e *entry, gen uint64) {
	s.mu.Lock()
	if !s.running || e.removed || e.gen != gen {
		s.mu.Unlock()
		return
	}
	s.armLocked(e)
	fn := e.fn
	s.mu.Unlock()

	fn()
}
