// Package subscription implements reference-counted channel subscriptions.
//
// A channel is a (type, primary key) topic the far end pushes updates for.
// Many consumers may subscribe to the same channel; only the first causes a
// channel.subscribe request, and only the last leaving causes a
// channel.leave.
//
// # Status
//
// Each channel moves through None, Subscribing and Subscribed. A channel
// should be subscribed when it has consumers and status None; it should be
// left when it has no consumers and status Subscribed.
//
// # Debounced Leave
//
// Leaving does not unsubscribe at once. The leave frame is sent after a
// delay, and a new consumer arriving in that window cancels it, so rapid
// subscribe/leave churn costs no round trips.
//
// # Lifecycle
//
// Subscriptions do not survive connection loss on the far end. When the
// connection leaves the Open state every channel drops back to None without
// sending anything. When it opens again every channel that still has
// consumers is subscribed anew, so consumers never re-issue Subscribe.
package subscription
