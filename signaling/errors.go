package signaling

import (
	"errors"
	"fmt"
)

var (
	errEmptyAck      = errors.New("signaling: empty acknowledgement")
	errMissingTicket = errors.New("signaling: missing reconnectionTicket")
)

// ProtocolError reports a contract violation between the channel and the
// server: an unrecognized discriminant, a missing required field, or a relogin
// attempted without a stored ticket. It indicates the two sides have diverged
// on protocol version, as opposed to a recoverable input error.
//
// By default violations are logged and counted; with
// Configuration.StrictProtocol the channel panics instead so test runs fail
// loudly.
type ProtocolError struct {
	Event  string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("signaling: protocol violation in %q event: %s", e.Event, e.Reason)
}

func protocolErrorf(event, format string, args ...any) *ProtocolError {
	return &ProtocolError{Event: event, Reason: fmt.Sprintf(format, args...)}
}
