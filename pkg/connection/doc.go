// Package connection composes the channel protocol on top of a transport.
//
// A Conn owns one transport and the protocol state bound to it: the type
// dispatcher, the heartbeat scheduler, the call correlator and the
// subscription manager. It exposes a normalized ready state and notifies
// listeners once per actual change.
//
// # Inbound frames
//
// Every received message is processed in arrival order:
//
//  1. the ready state is synchronized with the transport
//  2. incoming traffic resets matching heartbeats
//  3. the frame is decoded and batches are expanded
//  4. frames with a correlation id and a state go to the correlator
//  5. a successful channel.subscribed frame runs the BeforeAppState hook
//     and replays its app_state snapshot through the dispatcher
//  6. every other frame, correlated or not, is dispatched by type
//     namespace
//
// # Outbound frames
//
// Call, Send and Respond fail with ErrNotOpen unless the connection is
// open. Each resets outgoing heartbeats before the frame is written.
//
// # Reconnection
//
// Conn never reconnects on its own. A Reconnector drives Connect with
// exponential backoff whenever the ready state becomes Closed:
//
//	delay = min(initial * multiplier^attempt, max)
//	actual_delay = delay + random(0, delay * jitter)
//
// The backoff resets once the connection is open again.
package connection
