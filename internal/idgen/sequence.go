// Package idgen allocates process-local identifiers.
package idgen

import (
	"strconv"
	"sync"
)

// Sequence hands out monotonically increasing identifiers.
//
// Each owner keeps its own Sequence; there is no global counter. The
// counter wraps after math.MaxUint64 and the optional InUse predicate
// lets the owner skip identifiers that are still outstanding.
type Sequence struct {
	mu   sync.Mutex
	last uint64

	// InUse reports whether an identifier is still held by its owner.
	// Consulted only after the counter has wrapped.
	InUse func(id string) bool

	wrapped bool
}

// Next returns the next identifier formatted in base 10.
// The first identifier is "1".
func (s *Sequence) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		s.last++
		if s.last == 0 {
			s.wrapped = true
			continue
		}
		id := strconv.FormatUint(s.last, 10)
		if s.wrapped && s.InUse != nil && s.InUse(id) {
			continue
		}
		return id
	}
}
