package clientconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "client.yaml", `
url: ws://localhost:4000/socket
codec: cbor
timeout: 3s
heartbeat: 0s
reconnect:
  enabled: false
  max: 1m
capture_file: /tmp/capture.log
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:4000/socket", cfg.URL)
	assert.Equal(t, "cbor", cfg.Codec)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.Equal(t, time.Duration(0), cfg.Heartbeat)
	assert.False(t, cfg.Reconnect.Enabled)
	assert.Equal(t, time.Minute, cfg.Reconnect.Max)
	assert.Equal(t, "/tmp/capture.log", cfg.CaptureFile)

	// Unset keys keep their defaults.
	assert.Equal(t, time.Second, cfg.LeaveDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.Reconnect.Initial)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "client.toml", `
codec = "json"
timeout = "15s"
metrics_addr = ":9090"

[discovery]
enabled = true
interface = "eth0"
timeout = "2s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Empty(t, cfg.URL)
	assert.Equal(t, 15*time.Second, cfg.Timeout)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.True(t, cfg.Discovery.Enabled)
	assert.Equal(t, "eth0", cfg.Discovery.Interface)
	assert.Equal(t, 2*time.Second, cfg.Discovery.Timeout)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    error
	}{
		{"no endpoint", "a.yaml", "codec: json\n", ErrNoEndpoint},
		{"bad codec", "b.yaml", "url: ws://x/socket\ncodec: xml\n", ErrUnknownCodec},
		{"bad scheme", "c.toml", "url = \"http://x/socket\"\n", ErrUnknownScheme},
		{"negative", "d.yaml", "url: ws://x/socket\ntimeout: -1s\n", ErrNegativeWindow},
		{"format", "e.ini", "url=ws://x\n", ErrUnknownFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadSyntaxError(t *testing.T) {
	_, err := Load(writeFile(t, "broken.toml", "url = \n"))
	assert.ErrorContains(t, err, "config parse failed")
}

func TestDefaultNeedsEndpoint(t *testing.T) {
	cfg := Default()
	assert.ErrorIs(t, cfg.Validate(), ErrNoEndpoint)

	cfg.URL = "tcp://127.0.0.1:4001"
	assert.NoError(t, cfg.Validate())
}
