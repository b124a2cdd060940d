// Command chanwire-devserver is a development server for chanwire clients.
//
// It answers channel.subscribe with an app state snapshot, pushes batched
// ticks on every subscribed channel, and echoes every other request with
// Queued and Running updates before the final response. Request types
// ending in ".fail" or ".invalid" get a failed response instead.
//
// Usage:
//
//	chanwire-devserver [flags]
//
// Flags:
//
//	-addr string        WebSocket listen address (default ":4000")
//	-stream string      Length-prefixed TCP listen address (disabled if empty)
//	-path string        WebSocket endpoint path (default "/socket")
//	-codec string       Frame codec: json or cbor (default "json")
//	-interval duration  Push interval, 0 disables pushes (default 2s)
//	-advertise string   Advertise via mDNS under this instance name
//	-log-level string   Log level: debug, info, warn, error (default "info")
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/chanwire/chanwire-go/pkg/discovery"
	"github.com/chanwire/chanwire-go/pkg/log"
	"github.com/chanwire/chanwire-go/pkg/wire"
)

var (
	addr      = flag.String("addr", ":4000", "WebSocket listen address")
	streamAt  = flag.String("stream", "", "Length-prefixed TCP listen address (disabled if empty)")
	path      = flag.String("path", discovery.DefaultPath, "WebSocket endpoint path")
	codecName = flag.String("codec", "json", "Frame codec: json or cbor")
	interval  = flag.Duration("interval", 2*time.Second, "Push interval, 0 disables pushes")
	advertise = flag.String("advertise", "", "Advertise via mDNS under this instance name")
	logLevel  = flag.String("log-level", "info", "Log level: debug, info, warn, error")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	codec, err := wire.CodecByName(*codecName)
	if err != nil {
		return err
	}

	cfg := ServerConfig{Codec: codec, Interval: *interval, Logger: logger}
	if level <= slog.LevelDebug {
		cfg.ProtocolLogger = log.NewSlogAdapter(logger)
	}
	srv := NewServer(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mux := http.NewServeMux()
	mux.Handle(*path, srv)
	httpSrv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	go func() {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			cancel()
		}
	}()
	logger.Info("serving websocket", "addr", ln.Addr().String(), "path", *path, "codec", codec.Name())

	if *streamAt != "" {
		sl, err := net.Listen("tcp", *streamAt)
		if err != nil {
			return fmt.Errorf("listen stream: %w", err)
		}
		go func() {
			if err := srv.ServeStream(ctx, sl); err != nil {
				logger.Error("stream server failed", "error", err)
			}
		}()
		logger.Info("serving stream", "addr", sl.Addr().String())
	}

	if *advertise != "" {
		adv, err := startAdvertising(*advertise, ln.Addr(), codec)
		if err != nil {
			return err
		}
		defer adv.Stop()
		logger.Info("advertising", "instance", *advertise, "service", discovery.ServiceType)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	return httpSrv.Shutdown(shutdownCtx)
}

func startAdvertising(instance string, listenAddr net.Addr, codec wire.Codec) (*discovery.MDNSAdvertiser, error) {
	_, portStr, err := net.SplitHostPort(listenAddr.String())
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, err
	}

	adv := discovery.NewMDNSAdvertiser(discovery.AdvertiserConfig{})
	err = adv.Advertise(discovery.ServerInfo{
		Instance:  instance,
		Port:      uint16(port),
		Path:      *path,
		Transport: discovery.TransportWebSocket,
		Codec:     codec.Name(),
	})
	if err != nil {
		return nil, err
	}
	return adv, nil
}
