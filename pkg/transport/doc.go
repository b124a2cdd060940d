// Package transport provides the message transports a chanwire connection
// runs on.
//
// A Transport carries whole messages in both directions and reports its
// lifecycle through Events. Three implementations are provided:
//   - WebSocket: one frame per WebSocket message (gorilla/websocket)
//   - Stream: TCP or TLS with 4-byte length-prefixed frames
//   - Pipe: an in-memory transport for tests and local wiring
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│   Envelope frames (JSON/CBOR)  │
//	├───────────────┬────────────────┤
//	│   WebSocket   │ Length prefix  │
//	│   messages    │ framing (4B)   │
//	├───────────────┼────────────────┤
//	│   HTTP / TLS  │   TCP / TLS    │
//	└───────────────┴────────────────┘
//
// Transports do not reconnect. The connection layer and the application
// decide when to call Open again.
package transport
