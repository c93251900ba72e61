package signaling

import "encoding/json"

// RoomInfo is the session information returned by a successful login. Raw
// carries the server's full response for consumers that need fields beyond
// the ones modeled here.
type RoomInfo struct {
	// ID is the room identifier, when the server provides one.
	ID string
	// ReconnectionTicket resumes the session after transient disconnects. It
	// is also stored inside the channel; it is surfaced here for diagnostics
	// only.
	ReconnectionTicket string
	Raw                json.RawMessage
}

// RemoteStream describes a stream published into the room by another
// participant. Raw is the server's stream description; the media engine
// consumes it to subscribe.
type RemoteStream struct {
	ID  string
	Raw json.RawMessage
}

// Participant describes a conference participant.
type Participant struct {
	ID   string
	Role string
	Raw  json.RawMessage
}

// Observer receives session-lifecycle and in-room events. Exactly one
// observer is attached per channel, at construction.
//
// Callbacks are invoked from the channel's worker goroutine, serialized and
// in order. Implementations must not block; a blocked callback stalls all
// signaling for the channel. After a terminal callback (OnRoomConnectFailed
// or OnRoomDisconnected) no further callbacks are delivered.
type Observer interface {
	// OnRoomConnected fires once after a successful login.
	OnRoomConnected(info RoomInfo)
	// OnRoomConnectFailed fires when the session could not be established:
	// token decode failure, endpoint malformation, login rejection, or
	// retries exhausted before ever logging in.
	OnRoomConnectFailed(reason string)
	// OnReconnecting fires on the first reconnect attempt of an episode,
	// only when the session had been established. Later attempts of the same
	// episode are silent.
	OnReconnecting()
	// OnRoomDisconnected fires when an established session ends: explicit
	// Disconnect, relogin rejection, or reconnect attempts exhausted.
	OnRoomDisconnected()

	OnProgressMessage(msg json.RawMessage)
	OnTextMessage(from, message string)

	OnStreamAdded(stream RemoteStream)
	OnStreamRemoved(id string)
	OnStreamUpdated(id string, update json.RawMessage)

	OnParticipantJoined(participant Participant)
	OnParticipantLeft(id string)
}
