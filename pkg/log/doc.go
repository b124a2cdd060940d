// Package log provides protocol capture for chanwire connections.
//
// This package defines the Logger interface and Event types for recording
// what crosses a connection: raw transport frames, decoded envelope frames,
// ready-state and subscription changes, heartbeats and errors. It is
// separate from operational logging (slog); a capture is a complete
// machine-readable trace for debugging and analysis.
//
// # Basic Usage
//
// Applications configure capture by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For later analysis: write to a capture file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/tmp/session.clog")
//
//	// Both: use MultiLogger
//	cfg.ProtocolLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Events are captured at three layers:
//   - Transport: raw frame bytes (FrameEvent)
//   - Wire: decoded envelope frames (MessageEvent)
//   - Channel: ready-state and subscription changes (StateChangeEvent)
//
// Heartbeat fires and errors have dedicated event types.
//
// # File Format
//
// Capture files are a stream of CBOR-encoded events with integer keys and
// use the .clog extension. The chanwire-log command views and summarises
// them.
package log
