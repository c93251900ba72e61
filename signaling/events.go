package signaling

import "encoding/json"

// Server event names and request names on the wire.
const (
	eventLogin       = "login"
	eventRelogin     = "relogin"
	eventProgress    = "progress"
	eventParticipant = "participant"
	eventStream      = "stream"
	eventText        = "text"
	eventDrop        = "drop"

	statusOK = "ok"
)

const (
	participantActionJoin  = "join"
	participantActionLeave = "leave"

	streamStatusAdd    = "add"
	streamStatusRemove = "remove"
	streamStatusUpdate = "update"
)

// participantUpdate is the decoded form of a "participant" event: either a
// join carrying the new participant, or a leave carrying the leaver's id.
type participantUpdate struct {
	action string
	joined Participant
	leftID string
}

func parseParticipantEvent(payload json.RawMessage) (participantUpdate, error) {
	var wire struct {
		Action string          `json:"action"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &wire); err != nil {
		return participantUpdate{}, protocolErrorf(eventParticipant, "malformed payload: %v", err)
	}

	switch wire.Action {
	case participantActionJoin:
		var p struct {
			ID   string `json:"id"`
			Role string `json:"role"`
		}
		if err := json.Unmarshal(wire.Data, &p); err != nil {
			return participantUpdate{}, protocolErrorf(eventParticipant, "malformed join data: %v", err)
		}
		if p.ID == "" {
			return participantUpdate{}, protocolErrorf(eventParticipant, "join data missing id")
		}
		return participantUpdate{
			action: participantActionJoin,
			joined: Participant{ID: p.ID, Role: p.Role, Raw: wire.Data},
		}, nil

	case participantActionLeave:
		var id string
		if err := json.Unmarshal(wire.Data, &id); err != nil || id == "" {
			return participantUpdate{}, protocolErrorf(eventParticipant, "leave data is not a participant id")
		}
		return participantUpdate{action: participantActionLeave, leftID: id}, nil

	default:
		return participantUpdate{}, protocolErrorf(eventParticipant, "unknown action %q", wire.Action)
	}
}

// streamUpdate is the decoded form of a "stream" event.
type streamUpdate struct {
	status string
	id     string
	data   json.RawMessage
}

func parseStreamEvent(payload json.RawMessage) (streamUpdate, error) {
	var wire struct {
		Status string          `json:"status"`
		ID     string          `json:"id"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &wire); err != nil {
		return streamUpdate{}, protocolErrorf(eventStream, "malformed payload: %v", err)
	}
	if wire.ID == "" {
		return streamUpdate{}, protocolErrorf(eventStream, "missing stream id")
	}

	switch wire.Status {
	case streamStatusAdd:
		if len(wire.Data) == 0 {
			return streamUpdate{}, protocolErrorf(eventStream, "add without stream data")
		}
	case streamStatusRemove:
		// No body beyond the id.
	case streamStatusUpdate:
		if len(wire.Data) == 0 {
			return streamUpdate{}, protocolErrorf(eventStream, "update without data")
		}
	default:
		return streamUpdate{}, protocolErrorf(eventStream, "unknown status %q", wire.Status)
	}
	return streamUpdate{status: wire.Status, id: wire.ID, data: wire.Data}, nil
}

type textMessage struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

func parseTextEvent(payload json.RawMessage) (textMessage, error) {
	var msg textMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return textMessage{}, protocolErrorf(eventText, "malformed payload: %v", err)
	}
	if msg.From == "" {
		return textMessage{}, protocolErrorf(eventText, "missing sender")
	}
	return msg, nil
}

// Login/relogin acknowledgements arrive as positional arguments:
// args[0] is the status string, args[1] the session info (ok) or the
// rejection reason.

func ackStatus(args []json.RawMessage) (string, error) {
	if len(args) == 0 || len(args[0]) == 0 {
		return "", errEmptyAck
	}
	var status string
	if err := json.Unmarshal(args[0], &status); err != nil {
		return "", protocolErrorf(eventLogin, "non-string ack status: %s", args[0])
	}
	return status, nil
}

func ackReason(args []json.RawMessage) string {
	if len(args) < 2 {
		return "rejected by server"
	}
	var reason string
	if err := json.Unmarshal(args[1], &reason); err == nil {
		return reason
	}
	return string(args[1])
}

func ackBody(args []json.RawMessage) json.RawMessage {
	if len(args) < 2 {
		return nil
	}
	return args[1]
}

func parseRoomInfo(body json.RawMessage) (RoomInfo, error) {
	info := RoomInfo{Raw: body}
	if len(body) == 0 {
		return info, protocolErrorf(eventLogin, "ok ack without session info")
	}

	var wire struct {
		ID   string `json:"id"`
		Room struct {
			ID string `json:"id"`
		} `json:"room"`
		ReconnectionTicket string `json:"reconnectionTicket"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return info, protocolErrorf(eventLogin, "malformed session info: %v", err)
	}

	info.ID = wire.Room.ID
	if info.ID == "" {
		info.ID = wire.ID
	}
	info.ReconnectionTicket = wire.ReconnectionTicket
	if info.ReconnectionTicket == "" {
		return info, errMissingTicket
	}
	return info, nil
}

// reloginTicket extracts the refreshed ticket from a relogin ok-ack.
func reloginTicket(body json.RawMessage) (string, error) {
	if len(body) == 0 {
		return "", errMissingTicket
	}
	var wire struct {
		ReconnectionTicket string `json:"reconnectionTicket"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return "", protocolErrorf(eventRelogin, "malformed relogin ack: %v", err)
	}
	if wire.ReconnectionTicket == "" {
		return "", errMissingTicket
	}
	return wire.ReconnectionTicket, nil
}

// transportErrorMessage pulls a human-readable message out of a
// connect_error payload. The payload shape is transport-defined; anything
// unrecognized is passed through verbatim.
func transportErrorMessage(payload json.RawMessage) string {
	if len(payload) == 0 {
		return "unknown transport error"
	}
	var wire struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &wire); err == nil && wire.Message != "" {
		return wire.Message
	}
	var plain string
	if err := json.Unmarshal(payload, &plain); err == nil && plain != "" {
		return plain
	}
	return string(payload)
}
