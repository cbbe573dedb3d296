package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeJoin  = "join"
	InboundTypeLeave = "leave"
	InboundTypeMsg   = "msg"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"
)

// JoinData requests to join a specific room.
type JoinData struct {
	Room string `json:"room"`
}

// MsgData is a chat message for the client's current room.
type MsgData struct {
	Text string `json:"text"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// EventMessage is a chat message broadcast to a room.
type EventMessage struct {
	Room string `json:"room"`
	From string `json:"from"`
	Name string `json:"name"`
	Text string `json:"text"`
	TS   int64  `json:"ts"`
}

// EventMemberCount notifies a room of its updated membership count.
type EventMemberCount struct {
	Room  string `json:"room"`
	Count int    `json:"count"`
}

// EventHistory delivers retained messages upon joining a room.
type EventHistory struct {
	Room     string         `json:"room"`
	Messages []EventMessage `json:"messages"`
}

// EventRoomCleared notifies a room that its history was wiped.
type EventRoomCleared struct {
	Room string `json:"room"`
}

// EventNotice is a private server-to-client notice, including denial
// notifications. MuteSeconds is set when a mute applies.
type EventNotice struct {
	Reason      string `json:"reason"`
	Text        string `json:"text,omitempty"`
	MuteSeconds int64  `json:"mute_seconds,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
