// Package dispatch routes inbound frames to handlers by type namespace.
//
// Handlers register for the namespace of a dotted type tag (the portion
// before the first '.'), so a handler added for "echo.request" also sees
// "echo.response". Every handler for a namespace is invoked, in
// registration order, with the full frame.
//
// The Unwrapper expands envelope frames before dispatch:
//
//   - "s.batch" frames become one synthetic frame per bundled payload,
//     each carrying the batch's sub-type and correlation id.
//   - successful "channel.subscribed" frames expose their app_state
//     snapshot so the caller can replay it through the same dispatcher.
package dispatch
