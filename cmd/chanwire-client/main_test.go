package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanwire/chanwire-go/pkg/transport"
	"github.com/chanwire/chanwire-go/pkg/wire"
)

func TestNewTransport(t *testing.T) {
	ws, err := newTransport("ws://localhost:4000/socket", wire.JSON)
	require.NoError(t, err)
	assert.IsType(t, &transport.WebSocket{}, ws)

	stream, err := newTransport("tcp://localhost:4001", wire.CBOR)
	require.NoError(t, err)
	assert.IsType(t, &transport.Stream{}, stream)

	secure, err := newTransport("tls://example.com:4443", wire.CBOR)
	require.NoError(t, err)
	assert.IsType(t, &transport.Stream{}, secure)

	_, err = newTransport("tls://example.com", wire.CBOR)
	assert.Error(t, err)

	_, err = newTransport("http://example.com", wire.JSON)
	assert.ErrorContains(t, err, "unsupported url scheme")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}
