// Package router consumes the ordered inbound queue and dispatches decoded
// feed messages: VI events and trade ticks go to the subscription registry,
// system acknowledgements are logged, everything else is dropped.
package router
