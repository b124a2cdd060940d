package heartbeat

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const interval = 10 * time.Millisecond

type counter struct{ n atomic.Int32 }

func (c *counter) inc()        { c.n.Add(1) }
func (c *counter) load() int32 { return c.n.Load() }

func eventually(t *testing.T, c *counter, want int32) {
	t.Helper()
	require.Eventually(t, func() bool { return c.load() == want }, time.Second, time.Millisecond,
		"want %d fires", want)
}

// settle gives timer goroutines from the mock clock a chance to run.
func settle() { time.Sleep(5 * time.Millisecond) }

func TestDormantUntilStart(t *testing.T) {
	mock := clock.NewMock()
	s := New(mock)
	var c counter
	s.Add(c.inc, interval, Either)

	mock.Add(interval * 3)
	settle()
	assert.Equal(t, int32(0), c.load())

	s.Start()
	mock.Add(interval)
	eventually(t, &c, 1)
}

func TestRepeatsWhileQuiet(t *testing.T) {
	mock := clock.NewMock()
	s := New(mock)
	s.Start()
	var c counter
	s.Add(c.inc, interval, Either)

	for i := int32(1); i <= 3; i++ {
		mock.Add(interval)
		eventually(t, &c, i)
	}
}

func TestTouchResetsMatchingDirection(t *testing.T) {
	mock := clock.NewMock()
	s := New(mock)
	s.Start()

	var in, out, either counter
	s.Add(in.inc, interval, Incoming)
	s.Add(out.inc, interval, Outgoing)
	s.Add(either.inc, interval, Either)

	mock.Add(interval / 2)
	s.Touch(Incoming)
	mock.Add(interval / 2)

	eventually(t, &out, 1)
	settle()
	assert.Equal(t, int32(0), in.load(), "incoming entry was reset")
	assert.Equal(t, int32(0), either.load(), "either entry was reset")

	mock.Add(interval / 2)
	eventually(t, &in, 1)
	eventually(t, &either, 1)
}

func TestStopCancelsWithoutRemoving(t *testing.T) {
	mock := clock.NewMock()
	s := New(mock)
	s.Start()
	var c counter
	s.Add(c.inc, interval, Either)

	s.Stop()
	mock.Add(interval * 2)
	settle()
	assert.Equal(t, int32(0), c.load())
	assert.Equal(t, 1, s.Len())

	// Touch while stopped does not arm anything.
	s.Touch(Outgoing)
	mock.Add(interval)
	settle()
	assert.Equal(t, int32(0), c.load())

	s.Start()
	mock.Add(interval)
	eventually(t, &c, 1)
}

func TestRemove(t *testing.T) {
	mock := clock.NewMock()
	s := New(mock)
	s.Start()
	var a, b counter
	idA := s.Add(a.inc, interval, Either)
	s.Add(b.inc, interval, Either)

	s.Remove(idA)
	s.Remove(idA)
	s.Remove(ID(999))
	assert.Equal(t, 1, s.Len())

	mock.Add(interval)
	eventually(t, &b, 1)
	assert.Equal(t, int32(0), a.load())
}

func TestAddPanicsOnBadInterval(t *testing.T) {
	assert.Panics(t, func() { New(nil).Add(func() {}, 0, Either) })
}

func TestDirectionString(t *testing.T) {
	assert.Equal(t, "EITHER", Either.String())
	assert.Equal(t, "INCOMING", Incoming.String())
	assert.Equal(t, "OUTGOING", Outgoing.String())
	assert.Equal(t, "UNKNOWN", Direction(9).String())
}
