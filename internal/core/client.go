package core

import "sync"

// Client is a connection participant as seen by the core layer. Identity is
// the authenticated identity behind the connection; several clients may
// share one identity. The Events channel doubles as the identity's private
// channel: notices pushed there reach exactly this connection.
type Client struct {
	ID       string
	Identity string
	Name     string
	Origin   string
	Commands chan *Command
	Events   chan *Event

	closeOnce sync.Once

	// room is the client's single current room, owned by the hub loop.
	room string
}

// NewClient constructs a client with initialized channels.
func NewClient(id, identity, name, origin string) *Client {
	return &Client{
		ID:       id,
		Identity: identity,
		Name:     name,
		Origin:   origin,
		Commands: make(chan *Command, 8),
		Events:   make(chan *Event, 8),
	}
}

// CloseCommands ends the client's command stream; the hub then unregisters
// it and closes Events. Safe to call more than once.
func (c *Client) CloseCommands() {
	c.closeOnce.Do(func() { close(c.Commands) })
}
