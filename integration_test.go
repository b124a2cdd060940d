package chanwire_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanwire/chanwire-go/pkg/connection"
	"github.com/chanwire/chanwire-go/pkg/correlator"
	"github.com/chanwire/chanwire-go/pkg/dispatch"
	"github.com/chanwire/chanwire-go/pkg/subscription"
	"github.com/chanwire/chanwire-go/pkg/transport"
	"github.com/chanwire/chanwire-go/pkg/wire"
)

// peer is a minimal length-prefixed TCP server speaking the JSON codec.
type peer struct {
	t  *testing.T
	ln net.Listener

	mu         sync.Mutex
	conns      []net.Conn
	subscribes int
}

func startPeer(t *testing.T) *peer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	p := &peer{t: t, ln: ln}
	go p.accept()
	t.Cleanup(func() {
		ln.Close()
		p.drop()
	})
	return p
}

func (p *peer) addr() string { return p.ln.Addr().String() }

func (p *peer) accept() {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			return
		}
		p.mu.Lock()
		p.conns = append(p.conns, conn)
		p.mu.Unlock()
		go p.serve(conn)
	}
}

func (p *peer) accepted() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

func (p *peer) subscribeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subscribes
}

// drop closes every accepted connection.
func (p *peer) drop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.conns {
		c.Close()
	}
}

func (p *peer) serve(conn net.Conn) {
	framer := transport.NewFramer(conn, 0)
	write := func(f *wire.Frame) {
		data, err := wire.EncodeFrame(wire.JSON, f)
		if !assert.NoError(p.t, err) {
			return
		}
		_ = framer.WriteFrame(data)
	}

	for {
		data, err := framer.ReadFrame()
		if err != nil {
			return
		}
		f, err := wire.DecodeFrame(wire.JSON, data)
		if err != nil {
			continue
		}

		switch f.Type {
		case wire.TypeChannelSubscribe:
			var sp wire.SubscribePayload
			if err := wire.DecodePayload(wire.JSON, f.Payload, &sp); err != nil {
				continue
			}
			p.mu.Lock()
			p.subscribes++
			n := p.subscribes
			p.mu.Unlock()

			write(wire.NewResponse(wire.TypeChannelSubscribed, f.CorrelationID, wire.StateSuccess, &wire.SubscribedPayload{
				ChannelType: sp.ChannelType,
				PK:          sp.PK,
				AppState: []*wire.Frame{
					wire.NewMessage(sp.ChannelType+".update", map[string]any{"seq": n}),
				},
			}))
		case "math.add":
			var args struct{ A, B int }
			if err := wire.DecodePayload(wire.JSON, f.Payload, &args); err != nil {
				write(wire.NewResponse(f.Type, f.CorrelationID, wire.StateFailed, &wire.FailurePayload{Message: err.Error()}))
				continue
			}
			write(wire.NewResponse(f.Type, f.CorrelationID, wire.StateRunning, nil))
			write(wire.NewResponse(f.Type, f.CorrelationID, wire.StateSuccess, map[string]int{"sum": args.A + args.B}))
		case "math.div":
			write(wire.NewResponse(f.Type, f.CorrelationID, wire.StateFailed, &wire.FailurePayload{Message: "division by zero"}))
		}
	}
}

func dial(t *testing.T, p *peer) *connection.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := connection.Dial(ctx, transport.NewStream(transport.StreamConfig{Address: p.addr()}), connection.Config{
		Codec:      wire.JSON,
		LeaveDelay: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestCallOverStream(t *testing.T) {
	p := startPeer(t)
	conn := dial(t, p)

	var progress int
	var mu sync.Mutex
	d, err := conn.Call("math.add", map[string]int{"a": 2, "b": 40})
	require.NoError(t, err)
	d.OnProgress(func(any) {
		mu.Lock()
		progress++
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f, err := d.Wait(ctx)
	require.NoError(t, err)

	var result struct{ Sum int }
	require.NoError(t, wire.DecodePayload(wire.JSON, f.Payload, &result))
	assert.Equal(t, 42, result.Sum)
	assert.Equal(t, 0, conn.PendingCalls())

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, progress, 1)
}

func TestCallFailureOverStream(t *testing.T) {
	p := startPeer(t)
	conn := dial(t, p)

	d, err := conn.Call("math.div", nil, correlator.WithTimeout(time.Second))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = d.Wait(ctx)

	var failure *correlator.FailureError
	require.True(t, errors.As(err, &failure), "got %v", err)
	assert.Equal(t, "math.div", failure.Type)
	assert.Equal(t, "division by zero", failure.Message)
}

func TestSubscribeSurvivesReconnect(t *testing.T) {
	p := startPeer(t)
	conn := dial(t, p)

	rc := connection.NewReconnector(conn, connection.ReconnectConfig{
		Backoff: connection.BackoffConfig{Initial: 20 * time.Millisecond, Jitter: -1},
	})
	require.NoError(t, rc.Start())
	t.Cleanup(rc.Stop)

	var mu sync.Mutex
	var updates []float64
	var events []subscription.Event
	conn.AddTypeHandler("ticker.update", dispatch.HandlerFunc(func(f *wire.Frame) {
		var update struct{ Seq float64 }
		if wire.DecodePayload(wire.JSON, f.Payload, &update) == nil {
			mu.Lock()
			updates = append(updates, update.Seq)
			mu.Unlock()
		}
	}))
	conn.OnSubscribedChanged(func(ev subscription.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	h := conn.Subscribe("ticker", 7)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(updates) == 1
	}, 5*time.Second, 5*time.Millisecond)

	p.drop()

	require.Eventually(t, func() bool { return p.accepted() == 2 }, 5*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(updates) == 2
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, p.subscribeCount())

	mu.Lock()
	assert.Equal(t, []float64{1, 2}, updates)
	require.Len(t, events, 3)
	assert.True(t, events[0].Subscribed)
	assert.False(t, events[1].Subscribed)
	assert.True(t, events[2].Subscribed)
	assert.Equal(t, wire.ChannelID{Type: "ticker", PK: 7}, events[2].Channel())
	mu.Unlock()

	h.Leave()
	require.Eventually(t, func() bool {
		for range conn.SubscribedChannels() {
			return false
		}
		return true
	}, 5*time.Second, 5*time.Millisecond)
}
