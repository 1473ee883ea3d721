// Package realtime implements the in-process event hub that fans typed
// envelopes out to websocket connections.
//
// A Hub owns a subscription index keyed by user, channel and team. Each
// Connection owns a bounded outbound queue that the transport loop drains;
// the hub is the only writer. Slow consumers are isolated by dropping on a
// full queue and force closing once too many drops pile up inside the drop
// window. Presence is derived from the index and the last activity of each
// connection, and a periodic reaper closes connections whose heartbeat has
// lapsed.
package realtime
