package core

import (
	"context"
	"regexp"

	"github.com/rs/zerolog"
)

// roomNameRe bounds room identifiers: alphanumeric, dash, underscore, at
// most 32 characters.
var roomNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

// ValidRoomName reports whether name is an acceptable room identifier.
func ValidRoomName(name string) bool {
	return roomNameRe.MatchString(name)
}

type envelope struct {
	client *Client
	cmd    *Command
}

type announcement struct {
	room  string
	event *Event
}

// Hub coordinates presence: which connections belong to which room, and
// broadcasting. It runs a single loop over in-memory state and performs no
// store I/O, so no client's store round-trip can stall another's; each
// command is a pure state transition plus outgoing events.
type Hub struct {
	log *zerolog.Logger

	register   chan *Client
	unregister chan *Client
	commands   chan envelope
	announce   chan announcement
	roomsReq   chan chan []string

	rooms   map[string]*Room
	clients map[*Client]struct{}
}

// NewHub creates a new hub instance.
func NewHub(logger *zerolog.Logger) *Hub {
	return &Hub{
		log:        logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		commands:   make(chan envelope),
		announce:   make(chan announcement, 16),
		roomsReq:   make(chan chan []string),
		rooms:      make(map[string]*Room),
		clients:    make(map[*Client]struct{}),
	}
}

// RegisterClient adds a client to the hub. Its commands are consumed until
// CloseCommands is called, after which the hub removes it and closes its
// Events channel.
func (h *Hub) RegisterClient(c *Client) {
	h.register <- c
}

// RoomNames returns a snapshot of rooms that currently have members.
// Requires Run to be active.
func (h *Hub) RoomNames() []string {
	reply := make(chan []string, 1)
	h.roomsReq <- reply
	return <-reply
}

// BroadcastRoomCleared tells a room that its history was wiped.
func (h *Hub) BroadcastRoomCleared(room string) {
	h.announce <- announcement{room: room, event: &Event{Kind: EventRoomCleared, Room: room}}
}

// BroadcastNotice sends a system notice to every member of a room.
func (h *Hub) BroadcastNotice(room, text string) {
	h.announce <- announcement{
		room:  room,
		event: &Event{Kind: EventNotice, Room: room, Notice: &Notice{Reason: "system", Text: text}},
	}
}

// Run processes hub traffic until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
			go h.pump(ctx, c)
			h.log.Debug().Str("client_id", c.ID).Str("identity", c.Identity).Msg("client registered")
		case c := <-h.unregister:
			h.removeClient(c)
		case env := <-h.commands:
			h.handle(env.client, env.cmd)
		case ann := <-h.announce:
			if room, ok := h.rooms[ann.room]; ok {
				room.Broadcast(ann.event)
			}
		case reply := <-h.roomsReq:
			names := make([]string, 0, len(h.rooms))
			for name := range h.rooms {
				names = append(names, name)
			}
			reply <- names
		case <-ctx.Done():
			return
		}
	}
}

// pump forwards one client's commands into the hub loop.
func (h *Hub) pump(ctx context.Context, c *Client) {
	for {
		select {
		case cmd, ok := <-c.Commands:
			if !ok {
				select {
				case h.unregister <- c:
				case <-ctx.Done():
				}
				return
			}
			select {
			case h.commands <- envelope{client: c, cmd: cmd}:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) handle(c *Client, cmd *Command) {
	switch cmd.Kind {
	case CommandJoinRoom:
		h.handleJoin(c, cmd.Room)
	case CommandLeaveRoom:
		h.handleLeave(c)
	case CommandBroadcast:
		h.handleBroadcast(c, cmd)
	}
}

func (h *Hub) handleJoin(c *Client, name string) {
	if !ValidRoomName(name) {
		h.sendError(c, coreError(ErrCodeBadRequest, "invalid room name"))
		return
	}
	if c.room == name {
		h.sendError(c, coreError(ErrCodeAlreadyJoined, "already in room"))
		return
	}
	// At most one room per connection: joining implies leaving.
	h.leaveCurrentRoom(c)

	room, ok := h.rooms[name]
	if !ok {
		room = NewRoom(name)
		h.rooms[name] = room
	}
	room.AddClient(c)
	c.room = name
	room.Broadcast(&Event{Kind: EventMemberCount, Room: name, Count: room.Count()})
	h.log.Debug().Str("client_id", c.ID).Str("room", name).Msg("client joined room")
}

func (h *Hub) handleLeave(c *Client) {
	if c.room == "" {
		h.sendError(c, coreError(ErrCodeNotInRoom, "not in a room"))
		return
	}
	h.leaveCurrentRoom(c)
}

func (h *Hub) handleBroadcast(c *Client, cmd *Command) {
	if c.room == "" || c.room != cmd.Room {
		h.sendError(c, coreError(ErrCodeNotInRoom, "not in that room"))
		return
	}
	room := h.rooms[c.room]
	room.Broadcast(&Event{Kind: EventRoomMessage, Room: c.room, Message: cmd.Message})
}

func (h *Hub) leaveCurrentRoom(c *Client) {
	if c.room == "" {
		return
	}
	name := c.room
	c.room = ""
	room, ok := h.rooms[name]
	if !ok {
		return
	}
	room.RemoveClient(c)
	if room.Empty() {
		delete(h.rooms, name)
		return
	}
	room.Broadcast(&Event{Kind: EventMemberCount, Room: name, Count: room.Count()})
}

func (h *Hub) removeClient(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	h.leaveCurrentRoom(c)
	delete(h.clients, c)
	close(c.Events)
	h.log.Debug().Str("client_id", c.ID).Msg("client unregistered")
}

func (h *Hub) sendError(c *Client, err *CoreError) {
	select {
	case c.Events <- &Event{Kind: EventError, Error: err}:
	default:
	}
}
