package dispatch

import (
	"log/slog"
	"reflect"
	"sync"

	"github.com/chanwire/chanwire-go/pkg/wire"
)

// Handler processes a dispatched frame.
type Handler interface {
	HandleFrame(f *wire.Frame)
}

// HandlerFunc adapts a function to Handler.
//
// Function values are not comparable, so a HandlerFunc can only be removed
// through the HandlerID returned by AddTypeHandler.
type HandlerFunc func(f *wire.Frame)

// HandleFrame calls fn(f).
func (fn HandlerFunc) HandleFrame(f *wire.Frame) { fn(f) }

// HandlerID identifies one registration.
type HandlerID uint64

type registration struct {
	id      HandlerID
	handler Handler
}

// Config configures a Dispatcher.
type Config struct {
	// Debug logs frames that no handler observed.
	Debug bool

	// Logger receives debug warnings. Nil disables them.
	Logger *slog.Logger
}

// Dispatcher is a registry of frame handlers keyed by type namespace.
// It is safe for concurrent use.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]registration
	lastID   HandlerID

	debug  bool
	logger *slog.Logger
}

// New creates a dispatcher.
func New(cfg Config) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string][]registration),
		debug:    cfg.Debug,
		logger:   cfg.Logger,
	}
}

// AddTypeHandler registers h for the namespace of typ.
//
// Registering the same comparable handler twice for one namespace is a
// no-op that returns the id of the existing registration. Handlers that
// are not comparable, such as a HandlerFunc, cannot be matched: each call
// adds a new registration, and only RemoveHandler with the returned id
// removes it.
func (d *Dispatcher) AddTypeHandler(typ string, h Handler) HandlerID {
	ns := wire.Namespace(typ)

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, r := range d.handlers[ns] {
		if sameHandler(r.handler, h) {
			return r.id
		}
	}

	d.lastID++
	d.handlers[ns] = append(d.handlers[ns], registration{id: d.lastID, handler: h})
	return d.lastID
}

// RemoveTypeHandler removes the first registration of h for the namespace
// of typ. Unknown or non-comparable handlers are ignored.
func (d *Dispatcher) RemoveTypeHandler(typ string, h Handler) {
	ns := wire.Namespace(typ)

	d.mu.Lock()
	defer d.mu.Unlock()

	regs := d.handlers[ns]
	for i, r := range regs {
		if sameHandler(r.handler, h) {
			d.removeLocked(ns, i)
			return
		}
	}
}

// RemoveHandler removes the registration identified by id.
func (d *Dispatcher) RemoveHandler(id HandlerID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for ns, regs := range d.handlers {
		for i, r := range regs {
			if r.id == id {
				d.removeLocked(ns, i)
				return
			}
		}
	}
}

func (d *Dispatcher) removeLocked(ns string, i int) {
	regs := d.handlers[ns]
	if len(regs) == 1 {
		delete(d.handlers, ns)
		return
	}
	next := make([]registration, 0, len(regs)-1)
	next = append(next, regs[:i]...)
	next = append(next, regs[i+1:]...)
	d.handlers[ns] = next
}

// HandlerCount returns the number of handlers registered for the
// namespace of typ.
func (d *Dispatcher) HandlerCount(typ string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[wire.Namespace(typ)])
}

// Dispatch invokes every handler registered for the frame's namespace and
// returns how many were called. Frames nobody handles are dropped.
//
// Handlers run on the caller's goroutine and may add or remove
// registrations; changes take effect from the next Dispatch.
func (d *Dispatcher) Dispatch(f *wire.Frame) int {
	ns := f.Namespace()

	d.mu.RLock()
	regs := d.handlers[ns]
	d.mu.RUnlock()

	if len(regs) == 0 {
		if d.debug && d.logger != nil {
			d.logger.Warn("no handler for frame type", "type", f.Type, "namespace", ns)
		}
		return 0
	}

	// regs is never mutated in place, so iterating it unlocked is safe.
	for _, r := range regs {
		r.handler.HandleFrame(f)
	}
	return len(regs)
}

// sameHandler reports whether a and b are the same comparable handler.
func sameHandler(a, b Handler) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || ta == nil || !ta.Comparable() {
		return false
	}
	return a == b
}
