package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanwire/chanwire-go/pkg/wire"
)

func decode(t *testing.T, s string) *wire.Frame {
	t.Helper()
	f, err := wire.DecodeFrame(wire.JSON, []byte(s))
	require.NoError(t, err)
	return f
}

func TestExpandPlainFrame(t *testing.T) {
	f := &wire.Frame{Type: "x.y", Payload: 1}
	frames, err := Unwrapper{}.Expand(f)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Same(t, f, frames[0])
}

func TestExpandBatch(t *testing.T) {
	f := decode(t, `{"t":"s.batch","i":"7","p":{"t":"X.update","payloads":[{"n":1},{"n":2}]}}`)

	frames, err := Unwrapper{}.Expand(f)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	for k, fr := range frames {
		assert.Equal(t, "X.update", fr.Type)
		assert.Equal(t, "7", fr.CorrelationID)
		assert.Equal(t, wire.StateNone, fr.State)
		assert.Equal(t, map[string]any{"n": float64(k + 1)}, fr.Payload)
	}
}

func TestBatchDispatchesEachPayloadInOrder(t *testing.T) {
	d := New(Config{})
	h := &recorder{}
	d.AddTypeHandler("X", h)
	batch := &recorder{}
	d.AddTypeHandler("s", batch)

	f := &wire.Frame{Type: wire.TypeBatch, Payload: &wire.BatchPayload{Type: "X", Payloads: []any{"p1", "p2"}}}
	frames, err := Unwrapper{}.Expand(f)
	require.NoError(t, err)
	for _, fr := range frames {
		d.Dispatch(fr)
	}

	require.Len(t, h.frames, 2)
	assert.Equal(t, "p1", h.frames[0].Payload)
	assert.Equal(t, "p2", h.frames[1].Payload)
	assert.Empty(t, batch.frames, "batch frames are never dispatched themselves")
}

func TestExpandBatchErrors(t *testing.T) {
	_, err := Unwrapper{}.Expand(&wire.Frame{Type: wire.TypeBatch})
	assert.ErrorIs(t, err, wire.ErrNoPayload)

	_, err = Unwrapper{}.Expand(&wire.Frame{Type: wire.TypeBatch, Payload: map[string]any{"payloads": []any{1}}})
	assert.ErrorIs(t, err, ErrMissingSubType)
}

func TestExpandEmptyBatch(t *testing.T) {
	frames, err := Unwrapper{}.Expand(&wire.Frame{Type: wire.TypeBatch, Payload: &wire.BatchPayload{Type: "X"}})
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestAppState(t *testing.T) {
	f := decode(t, `{"t":"channel.subscribed","i":"3","s":"s","p":{
		"channel_type":"A","channel_name":"a-1","pk":1,
		"app_state":[{"t":"A.created","p":{"x":1}},{"p":"no type"},{"t":"A.updated","p":{"x":2}}]}}`)

	ch, snapshot, ok, err := Unwrapper{}.AppState(f)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, wire.ChannelID{Type: "A", PK: 1}, ch)
	require.Len(t, snapshot, 2)
	assert.Equal(t, "A.created", snapshot[0].Type)
	assert.Equal(t, "A.updated", snapshot[1].Type)
}

func TestAppStateNull(t *testing.T) {
	f := decode(t, `{"t":"channel.subscribed","i":"3","s":"s","p":{"channel_type":"A","pk":1,"app_state":null}}`)
	_, snapshot, ok, err := Unwrapper{}.AppState(f)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, snapshot)
}

func TestAppStateIgnoresOtherFrames(t *testing.T) {
	for _, f := range []*wire.Frame{
		{Type: "channel.subscribed", CorrelationID: "1", State: wire.StateFailed},
		{Type: "channel.other", State: wire.StateSuccess},
		{Type: "A.update"},
	} {
		_, _, ok, err := Unwrapper{}.AppState(f)
		assert.NoError(t, err)
		assert.False(t, ok, f.Type)
	}
}
