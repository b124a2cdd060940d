// Package clientconfig loads chanwire-client configuration files.
//
// Files ending in .toml are parsed as TOML; .yaml, .yml and files without
// an extension are parsed as YAML. Durations are written as Go duration
// strings ("10s", "1m30s").
package clientconfig

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the client configuration.
type Config struct {
	// URL is the server endpoint: ws://, wss:// or tcp://host:port.
	URL string `yaml:"url" toml:"url"`

	// Codec is "json" or "cbor".
	Codec string `yaml:"codec" toml:"codec"`

	// Timeout is the call idle timeout.
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`

	// LeaveDelay debounces channel.leave.
	LeaveDelay time.Duration `yaml:"leave_delay" toml:"leave_delay"`

	// Heartbeat sends a ping after this much silence. Zero disables it.
	Heartbeat time.Duration `yaml:"heartbeat" toml:"heartbeat"`

	Reconnect Reconnect `yaml:"reconnect" toml:"reconnect"`
	Discovery Discovery `yaml:"discovery" toml:"discovery"`

	// MetricsAddr serves Prometheus metrics when set, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr" toml:"metrics_addr"`

	// CaptureFile records every protocol event in CBOR when set.
	CaptureFile string `yaml:"capture_file" toml:"capture_file"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level" toml:"log_level"`
}

// Reconnect configures automatic reconnection.
type Reconnect struct {
	Enabled bool          `yaml:"enabled" toml:"enabled"`
	Initial time.Duration `yaml:"initial" toml:"initial"`
	Max     time.Duration `yaml:"max" toml:"max"`
}

// Discovery configures mDNS lookup of the server when URL is empty.
type Discovery struct {
	Enabled   bool          `yaml:"enabled" toml:"enabled"`
	Interface string        `yaml:"interface" toml:"interface"`
	Timeout   time.Duration `yaml:"timeout" toml:"timeout"`
}

// Validation errors.
var (
	ErrNoEndpoint     = errors.New("url is required unless discovery is enabled")
	ErrUnknownCodec   = errors.New("unknown codec")
	ErrUnknownScheme  = errors.New("unsupported url scheme")
	ErrUnknownFormat  = errors.New("unknown config file format")
	ErrNegativeWindow = errors.New("durations must not be negative")
)

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Codec:      "json",
		Timeout:    10 * time.Second,
		LeaveDelay: time.Second,
		Heartbeat:  30 * time.Second,
		Reconnect: Reconnect{
			Enabled: true,
			Initial: 500 * time.Millisecond,
			Max:     30 * time.Second,
		},
		Discovery: Discovery{
			Timeout: 5 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	default:
		return Config{}, fmt.Errorf("%w: %s", ErrUnknownFormat, ext)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	switch c.Codec {
	case "json", "cbor":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCodec, c.Codec)
	}

	if c.URL == "" {
		if !c.Discovery.Enabled {
			return ErrNoEndpoint
		}
	} else {
		u, err := url.Parse(c.URL)
		if err != nil {
			return fmt.Errorf("url: %w", err)
		}
		switch u.Scheme {
		case "ws", "wss", "tcp", "tls":
		default:
			return fmt.Errorf("%w: %q", ErrUnknownScheme, u.Scheme)
		}
	}

	for _, d := range []time.Duration{c.Timeout, c.LeaveDelay, c.Heartbeat, c.Reconnect.Initial, c.Reconnect.Max, c.Discovery.Timeout} {
		if d < 0 {
			return ErrNegativeWindow
		}
	}
	return nil
}
