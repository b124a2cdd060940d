// Command chanwire-client is an interactive chanwire client.
//
// Usage:
//
//	chanwire-client [flags]
//
// Flags:
//
//	-config string      Configuration file (.yaml or .toml)
//	-url string         Server endpoint: ws://, wss://, tcp:// or tls://
//	-codec string       Frame codec: json or cbor
//	-log-level string   Log level: debug, info, warn, error
//	-metrics string     Serve Prometheus metrics on this address
//	-capture string     Record protocol events to this file
//	-discover           Find the server via mDNS when -url is empty
//	-no-reconnect       Do not reconnect after the connection drops
//
// Examples:
//
//	# Connect to a local development server
//	chanwire-client -url ws://localhost:4000/socket
//
//	# Find a server on the LAN and capture the session
//	chanwire-client -discover -capture session.log
//
// The capture file can be inspected with chanwire-log.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chanwire/chanwire-go/cmd/chanwire-client/interactive"
	"github.com/chanwire/chanwire-go/internal/clientconfig"
	"github.com/chanwire/chanwire-go/pkg/connection"
	"github.com/chanwire/chanwire-go/pkg/discovery"
	"github.com/chanwire/chanwire-go/pkg/heartbeat"
	"github.com/chanwire/chanwire-go/pkg/log"
	"github.com/chanwire/chanwire-go/pkg/metrics"
	"github.com/chanwire/chanwire-go/pkg/transport"
	"github.com/chanwire/chanwire-go/pkg/wire"
)

// TypeHeartbeat is sent after a period without outgoing traffic.
const TypeHeartbeat = "heartbeat.ping"

var (
	configFile  = flag.String("config", "", "Configuration file (.yaml or .toml)")
	urlFlag     = flag.String("url", "", "Server endpoint: ws://, wss://, tcp:// or tls://")
	codecFlag   = flag.String("codec", "", "Frame codec: json or cbor")
	logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
	metricsAddr = flag.String("metrics", "", "Serve Prometheus metrics on this address")
	captureFile = flag.String("capture", "", "Record protocol events to this file")
	discover    = flag.Bool("discover", false, "Find the server via mDNS when -url is empty")
	noReconnect = flag.Bool("no-reconnect", false, "Do not reconnect after the connection drops")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig() (clientconfig.Config, error) {
	cfg := clientconfig.Default()
	if *configFile != "" {
		var err error
		if cfg, err = clientconfig.Load(*configFile); err != nil {
			return cfg, err
		}
	}

	if *urlFlag != "" {
		cfg.URL = *urlFlag
	}
	if *codecFlag != "" {
		cfg.Codec = *codecFlag
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *captureFile != "" {
		cfg.CaptureFile = *captureFile
	}
	if *discover {
		cfg.Discovery.Enabled = true
	}
	if *noReconnect {
		cfg.Reconnect.Enabled = false
	}
	return cfg, cfg.Validate()
}

func run(cfg clientconfig.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cli, err := interactive.New()
	if err != nil {
		return err
	}
	defer cli.Close()
	// Route log output through readline so it does not garble the prompt.
	logger := slog.New(slog.NewTextHandler(cli.Stderr(), &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if cfg.URL == "" {
		svc, err := findServer(ctx, cfg.Discovery)
		if err != nil {
			return err
		}
		cfg.URL = svc.URL()
		if svc.Codec != "" {
			cfg.Codec = svc.Codec
		}
		logger.Info("discovered server", "instance", svc.Instance, "url", cfg.URL)
	}

	codec, err := wire.CodecByName(cfg.Codec)
	if err != nil {
		return err
	}
	t, err := newTransport(cfg.URL, codec)
	if err != nil {
		return err
	}

	collector := metrics.New()
	protoLoggers := []log.Logger{collector}
	if cfg.LogLevel == "debug" {
		protoLoggers = append(protoLoggers, log.NewSlogAdapter(logger))
	}
	if cfg.CaptureFile != "" {
		fl, err := log.NewFileLogger(cfg.CaptureFile)
		if err != nil {
			return fmt.Errorf("open capture file: %w", err)
		}
		defer fl.Close()
		protoLoggers = append(protoLoggers, fl)
		logger.Info("capturing protocol events", "file", cfg.CaptureFile)
	}

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, collector, logger)
		defer srv.Close()
	}

	conn := connection.New(t, connection.Config{
		Timeout:        cfg.Timeout,
		LeaveDelay:     cfg.LeaveDelay,
		Debug:          cfg.LogLevel == "debug",
		Codec:          codec,
		Endpoint:       cfg.URL,
		Logger:         logger,
		ProtocolLogger: log.NewMultiLogger(protoLoggers...),
	})

	if cfg.Heartbeat > 0 {
		conn.AddHeartbeat(func(c *connection.Conn) {
			if err := c.Send(TypeHeartbeat, nil); err != nil {
				logger.Debug("heartbeat not sent", "error", err)
			}
		}, cfg.Heartbeat, heartbeat.Outgoing)
	}

	var rc *connection.Reconnector
	if cfg.Reconnect.Enabled {
		rc = connection.NewReconnector(conn, connection.ReconnectConfig{
			Backoff: connection.BackoffConfig{Initial: cfg.Reconnect.Initial, Max: cfg.Reconnect.Max},
			Logger:  logger,
		})
		rc.OnReconnecting(func(attempt int, delay time.Duration) {
			logger.Info("reconnecting", "attempt", attempt, "delay", delay)
		})
		rc.OnConnected(func() {
			logger.Info("connected", "url", cfg.URL)
		})
	}

	if err := conn.Connect(ctx); err != nil {
		if rc == nil {
			return err
		}
		logger.Warn("initial connect failed", "error", err)
	}
	if rc != nil {
		if err := rc.Start(); err != nil {
			return err
		}
		defer rc.Stop()
	}

	cli.Attach(conn, codec)
	go cli.Run(ctx, cancel)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig)
	case <-ctx.Done():
	}

	if rc != nil {
		rc.Stop()
	}
	return conn.Close()
}

// newTransport picks the transport from the URL scheme.
func newTransport(rawURL string, codec wire.Codec) (transport.Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		return transport.NewWebSocket(transport.WebSocketConfig{
			URL:    rawURL,
			Binary: codec.Name() == "cbor",
		}), nil
	case "tcp":
		return transport.NewStream(transport.StreamConfig{Address: u.Host}), nil
	case "tls":
		host, _, err := net.SplitHostPort(u.Host)
		if err != nil {
			return nil, fmt.Errorf("parse url: %w", err)
		}
		return transport.NewStream(transport.StreamConfig{
			Address:   u.Host,
			TLSConfig: &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12},
		}), nil
	default:
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
}

func findServer(ctx context.Context, cfg clientconfig.Discovery) (*discovery.Service, error) {
	if !cfg.Enabled {
		return nil, clientconfig.ErrNoEndpoint
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	browser := discovery.NewMDNSBrowser(discovery.BrowserConfig{Interface: cfg.Interface})
	svc, err := browser.FindFirst(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover server: %w", err)
	}
	return svc, nil
}

func serveMetrics(addr string, collector *metrics.Collector, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return srv
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
