package core

// Message is the domain model for a chat message.
type Message struct {
	Room string
	From string
	Name string
	Text string
	TS   int64
}

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventRoomMessage notifies clients about a chat message in a room.
	EventRoomMessage EventKind = iota
	// EventMemberCount notifies a room about its updated membership count.
	EventMemberCount
	// EventHistory delivers retained messages to a client joining a room.
	EventHistory
	// EventRoomCleared notifies a room that an admin wiped its history.
	EventRoomCleared
	// EventNotice carries a private server-to-client notice.
	EventNotice
	// EventError notifies a client about a domain error.
	EventError
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind     EventKind
	Room     string
	Count    int
	Message  Message
	Messages []Message // for EventHistory
	Notice   *Notice   // for EventNotice
	Error    *CoreError
}

// Notice is a direct server-to-client message, never broadcast room-wide.
type Notice struct {
	Reason      string
	Text        string
	MuteSeconds int64
}
