package interactive

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanwire/chanwire-go/pkg/connection"
	"github.com/chanwire/chanwire-go/pkg/transport"
	"github.com/chanwire/chanwire-go/pkg/wire"
)

// syncBuffer is a bytes.Buffer safe for use from timer goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixture struct {
	t      *testing.T
	pipe   *transport.Pipe
	clock  *clock.Mock
	conn   *connection.Conn
	client *Client
	out    *syncBuffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pipe := transport.NewPipe()
	clk := clock.NewMock()
	conn := connection.New(pipe, connection.Config{Clock: clk, LeaveDelay: time.Second})
	out := &syncBuffer{}

	c := newClient(out)
	c.Attach(conn, wire.JSON)
	require.NoError(t, conn.Connect(context.Background()))

	return &fixture{t: t, pipe: pipe, clock: clk, conn: conn, client: c, out: out}
}

func (f *fixture) exec(line string) {
	f.t.Helper()
	assert.False(f.t, f.client.Execute(context.Background(), line, f.out))
}

func (f *fixture) sent(typ string) []*wire.Frame {
	f.t.Helper()
	var frames []*wire.Frame
	for _, data := range f.pipe.Sent() {
		fr, err := wire.DecodeFrame(wire.JSON, data)
		require.NoError(f.t, err)
		if fr.Type == typ {
			frames = append(frames, fr)
		}
	}
	return frames
}

func (f *fixture) inject(fr *wire.Frame) {
	f.t.Helper()
	data, err := wire.EncodeFrame(wire.JSON, fr)
	require.NoError(f.t, err)
	require.NoError(f.t, f.pipe.Inject(data))
}

func TestCallPrintsProgressAndResponse(t *testing.T) {
	f := newFixture(t)

	f.exec(`call room.echo {"text": "hi"}`)
	reqs := f.sent("room.echo")
	require.Len(t, reqs, 1)
	assert.Equal(t, map[string]any{"text": "hi"}, reqs[0].Payload)

	id := reqs[0].CorrelationID
	f.inject(wire.NewResponse("room.echo", id, wire.StateRunning, "working"))
	f.inject(wire.NewResponse("room.echo", id, wire.StateSuccess, map[string]any{"text": "hi"}))

	out := f.out.String()
	assert.Contains(t, out, `[room.echo] progress "working"`)
	assert.Contains(t, out, `[room.echo] room.echo id=`+id+` state=SUCCESS {"text":"hi"}`)
}

func TestCallTimeoutOption(t *testing.T) {
	f := newFixture(t)

	f.exec("call slow.op timeout=5s")
	reqs := f.sent("slow.op")
	require.Len(t, reqs, 1)
	assert.Nil(t, reqs[0].Payload)

	f.clock.Add(5 * time.Second)
	require.Eventually(t, func() bool {
		return strings.Contains(f.out.String(), "[slow.op] failed:")
	}, time.Second, time.Millisecond)
}

func TestCallFailureIsPrinted(t *testing.T) {
	f := newFixture(t)

	f.exec("call room.create {}")
	id := f.sent("room.create")[0].CorrelationID
	f.inject(wire.NewResponse("room.create", id, wire.StateFailed, &wire.FailurePayload{Message: "room exists"}))

	assert.Contains(t, f.out.String(), "[room.create] failed:")
	assert.Contains(t, f.out.String(), "room exists")
}

func TestSendCommand(t *testing.T) {
	f := newFixture(t)

	f.exec(`send cursor.move [1, 2]`)
	msgs := f.sent("cursor.move")
	require.Len(t, msgs, 1)
	assert.Equal(t, []any{float64(1), float64(2)}, msgs[0].Payload)
	assert.Empty(t, msgs[0].CorrelationID)
	assert.Contains(t, f.out.String(), "Sent")
}

func TestSubscribeWatchAndLeave(t *testing.T) {
	f := newFixture(t)

	f.exec("subscribe board 7")
	reqs := f.sent(wire.TypeChannelSubscribe)
	require.Len(t, reqs, 1)

	f.inject(wire.NewResponse(wire.TypeChannelSubscribed, reqs[0].CorrelationID, wire.StateSuccess,
		&wire.SubscribedPayload{ChannelType: "board", PK: 7}))
	require.Eventually(t, func() bool {
		return strings.Contains(f.out.String(), `[channel] {"channelType":"board","pk":7,"subscribed":true}`)
	}, time.Second, time.Millisecond)

	f.inject(wire.NewMessage("board.move", map[string]any{"x": 3}))
	assert.Contains(t, f.out.String(), `<- board.move {"x":3}`)

	f.exec("channels")
	assert.Contains(t, f.out.String(), "board/7")
	assert.Contains(t, f.out.String(), "1 local subscriber(s)")

	f.exec("leave board 7")
	assert.Contains(t, f.out.String(), "Left board/7")
	assert.Empty(t, f.sent(wire.TypeChannelLeave))

	f.clock.Add(time.Second)
	require.Eventually(t, func() bool {
		return len(f.sent(wire.TypeChannelLeave)) == 1
	}, time.Second, time.Millisecond)
}

func TestWatchAndUnwatch(t *testing.T) {
	f := newFixture(t)

	f.exec("watch presence")
	assert.Contains(t, f.out.String(), "Watching presence")

	f.exec("watch presence.diff")
	assert.Equal(t, 1, strings.Count(f.out.String(), "Watching presence"))

	f.inject(wire.NewMessage("presence.diff", nil))
	assert.Contains(t, f.out.String(), "<- presence.diff")

	f.exec("unwatch presence")
	assert.Contains(t, f.out.String(), "Stopped watching presence")

	before := strings.Count(f.out.String(), "<- presence")
	f.inject(wire.NewMessage("presence.diff", nil))
	assert.Equal(t, before, strings.Count(f.out.String(), "<- presence"))

	f.exec("unwatch presence")
	assert.Contains(t, f.out.String(), "Not watching presence")
}

func TestStateConnectClose(t *testing.T) {
	f := newFixture(t)

	f.exec("state")
	assert.Contains(t, f.out.String(), "OPEN")
	assert.Contains(t, f.out.String(), f.conn.ConnectionID())

	f.exec("close")
	assert.Contains(t, f.out.String(), "Closed")
	assert.False(t, f.conn.IsOpen())

	f.exec("call room.echo")
	assert.Contains(t, f.out.String(), "Call failed")

	f.exec("connect")
	assert.Contains(t, f.out.String(), "Connected")
	assert.True(t, f.conn.IsOpen())
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"frobnicate", "Unknown command: frobnicate"},
		{"call", "Usage: call"},
		{"call room.echo {broken", "Invalid payload"},
		{"call room.echo timeout=soon", "Invalid timeout"},
		{"send", "Usage: send"},
		{"subscribe board", "Usage: subscribe"},
		{"subscribe board seven", "Invalid pk: seven"},
		{"leave board 1", "Not subscribed to board/1"},
		{"leave board 1 later", "Invalid delay"},
		{"watch", "Usage: watch"},
		{"channels", "No subscribed channels"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			f := newFixture(t)
			f.exec(tt.line)
			assert.Contains(t, f.out.String(), tt.want)
		})
	}
}

func TestQuit(t *testing.T) {
	f := newFixture(t)
	assert.True(t, f.client.Execute(context.Background(), "quit", f.out))
	assert.False(t, f.client.Execute(context.Background(), "   ", f.out))
}

func TestSplitCommand(t *testing.T) {
	cmd, args, rest := splitCommand(`  CALL room.echo {"a": 1}  `)
	assert.Equal(t, "call", cmd)
	assert.Equal(t, []string{"room.echo", `{"a":`, "1}"}, args)
	assert.Equal(t, `room.echo {"a": 1}`, rest)
}
