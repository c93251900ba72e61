// Package eventsock implements an event-named duplex message channel over a
// single websocket, with automatic bounded reconnection.
//
// Frames are JSON: an event frame carries an event name, an optional payload
// and an optional ack id the peer answers; an ack frame carries the id and
// the acknowledgement arguments. Lifecycle transitions (connect,
// connect_error, reconnecting, disconnect) are synthesized locally and
// delivered through the same handler registry as server events, all from one
// goroutine so handlers observe a strict arrival order.
package eventsock
