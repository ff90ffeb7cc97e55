// Package connection owns the single upstream websocket connection to the
// LS real-time feed: the receive pump, the ordered inbound queue, outbound
// subscribe/unsubscribe commands, and the reconnect policy.
package connection
