// Package wire defines the envelope frame and payload shapes exchanged with a
// chanwire server.
//
// Every message on the connection is one Frame:
//
//	{
//	  "t": "channel.subscribe",   // dotted type tag, required
//	  "i": "17",                  // correlation id, absent on fire-and-forget
//	  "s": "s",                   // state: s=success f=failed q=queued r=running
//	  "p": {...}                  // payload, shape depends on t and s
//	}
//
// The top-level namespace of a type tag is everything before the first dot
// ("channel" for "channel.subscribe"). Handlers are registered per namespace.
//
// # Codecs
//
// The envelope is JSON-shaped. JSON is the default codec; CBOR carries the
// same structure with text keys for binary transports. Payloads stay opaque
// (decoded as map[string]any / []any) until a consumer asks for a typed view
// with DecodePayload.
//
// # Outcomes
//
// A correlated response is interpreted into one Outcome, discriminated first
// by state and, for failures, by the presence of field-level errors.
package wire
