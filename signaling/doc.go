// Package signaling implements the conference control channel: a persistent,
// reconnecting client that negotiates session setup and teardown with a
// conference server and reports session-lifecycle events to an Observer.
//
// The channel is deliberately independent of the media path. It speaks an
// event-named duplex protocol (login/relogin handshakes, participant, stream
// and text events) over a Transport; the default transport lives in
// internal/eventsock and runs on a single websocket.
package signaling
