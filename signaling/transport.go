package signaling

import (
	"crypto/tls"
	"encoding/json"
)

// Transport lifecycle event names. Every Transport implementation must deliver
// these through registered On handlers, alongside the server's own events.
const (
	EventConnect      = "connect"
	EventConnectError = "connect_error"
	EventReconnecting = "reconnecting"
	EventDisconnect   = "disconnect"
)

// Handler receives the payload of a single named event.
type Handler = func(payload json.RawMessage)

// AckFunc receives the positional arguments of a server acknowledgement.
type AckFunc = func(args []json.RawMessage)

// Transport is the duplex, event-named message channel the signaling channel
// runs on. Implementations must:
//
//   - deliver every handler invocation serialized, in arrival order, from a
//     single goroutine;
//   - reconnect automatically on transient failures up to the configured
//     attempt bound, emitting EventReconnecting before each attempt and
//     EventConnectError after each failed one;
//   - resolve Disconnect to exactly one EventDisconnect and then stop all
//     activity, including pending reconnects.
//
// The default implementation is internal/eventsock; tests and embedders may
// substitute their own via Configuration.TransportFactory.
type Transport interface {
	// Connect starts the connection attempt. Handlers must already be
	// registered: events fired before registration are lost.
	Connect() error
	On(event string, handler func(payload json.RawMessage))
	// Emit sends a named event. payload may be nil for bodyless events; ack,
	// when non-nil, is invoked with the server's acknowledgement arguments.
	Emit(event string, payload any, ack func(args []json.RawMessage)) error
	Connected() bool
	Disconnect()
}

// TransportOptions carries the channel's requirements into a TransportFactory.
type TransportOptions struct {
	// MaxReconnectAttempts bounds automatic reconnection; once exhausted the
	// transport stops retrying after a final EventConnectError.
	MaxReconnectAttempts int
	// TLSConfig overrides certificate trust and hostname verification for
	// secure endpoints. nil means standard verification.
	TLSConfig *tls.Config
}

// TransportFactory builds a Transport for the endpoint URL derived from the
// session token (e.g. "https://conf.example.com").
type TransportFactory func(endpoint string, opts TransportOptions) (Transport, error)
