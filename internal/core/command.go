package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandJoinRoom subscribes the client to a room, leaving any prior one.
	CommandJoinRoom CommandKind = iota
	// CommandLeaveRoom unsubscribes the client from its current room.
	CommandLeaveRoom
	// CommandBroadcast relays an already-admitted message to the client's room.
	CommandBroadcast
)

// Command represents an action requested by a client. Messages reach the
// hub only after the spam gate admitted them; the hub itself never touches
// the store.
type Command struct {
	Kind    CommandKind
	Room    string
	Message Message
}
