package eventsock

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Lifecycle event names delivered through On handlers. They are reserved:
// wire frames must not carry them.
const (
	EventConnect      = "connect"
	EventConnectError = "connect_error"
	EventReconnecting = "reconnecting"
	EventDisconnect   = "disconnect"
)

var (
	errEmptyFrame    = errors.New("eventsock: empty frame")
	errReservedEvent = errors.New("eventsock: reserved event name on the wire")
	errArgsOnEvent   = errors.New("eventsock: ack args on an event frame")
	errMissingEvent  = errors.New("eventsock: missing event name")
)

// frame is the single message shape exchanged over the websocket.
//
// Event frames: Event set, optional Payload, optional Ack id for the peer to
// answer. Ack frames: Ack set, optional Args, no Event.
type frame struct {
	Event   string            `json:"event,omitempty"`
	Payload json.RawMessage   `json:"payload,omitempty"`
	Ack     int64             `json:"ack,omitempty"`
	Args    []json.RawMessage `json:"args,omitempty"`
}

func (f frame) isAck() bool {
	return f.Event == "" && f.Ack != 0
}

func (f frame) validate() error {
	if f.Event == "" && f.Ack == 0 {
		return errEmptyFrame
	}
	if f.Event != "" {
		if isLifecycleEvent(f.Event) {
			return fmt.Errorf("%w: %q", errReservedEvent, f.Event)
		}
		if f.Args != nil {
			return errArgsOnEvent
		}
	}
	return nil
}

func parseFrame(b []byte) (frame, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var f frame
	if err := dec.Decode(&f); err != nil {
		return frame{}, fmt.Errorf("eventsock: malformed frame: %w", err)
	}
	if err := f.validate(); err != nil {
		return frame{}, err
	}
	return f, nil
}

func isLifecycleEvent(name string) bool {
	switch name {
	case EventConnect, EventConnectError, EventReconnecting, EventDisconnect:
		return true
	}
	return false
}

func errorPayload(err error) json.RawMessage {
	body, _ := json.Marshal(struct {
		Message string `json:"message"`
	}{Message: err.Error()})
	return body
}

func attemptPayload(attempt int) json.RawMessage {
	body, _ := json.Marshal(struct {
		Attempt int `json:"attempt"`
	}{Attempt: attempt})
	return body
}
