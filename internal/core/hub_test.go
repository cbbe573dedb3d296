package core

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	logger := zerolog.Nop()
	h := NewHub(&logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func newTestClient(t *testing.T, h *Hub, id string) *Client {
	t.Helper()
	c := NewClient(id, id+"-identity", id, "test-origin")
	h.RegisterClient(c)
	t.Cleanup(c.CloseCommands)
	return c
}

// waitEvent reads events from c until one of the wanted kind arrives.
func waitEvent(t *testing.T, c *Client, kind EventKind) *Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events:
			if !ok {
				t.Fatalf("events channel closed while waiting for kind %d", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}

func join(c *Client, room string) {
	c.Commands <- &Command{Kind: CommandJoinRoom, Room: room}
}

func TestJoinBroadcastsMemberCount(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t, h, "alice")
	bob := newTestClient(t, h, "bob")

	join(alice, "general")
	if ev := waitEvent(t, alice, EventMemberCount); ev.Count != 1 || ev.Room != "general" {
		t.Fatalf("alice count = %+v; want 1 in general", ev)
	}

	join(bob, "general")
	if ev := waitEvent(t, alice, EventMemberCount); ev.Count != 2 {
		t.Fatalf("alice count after bob = %+v; want 2", ev)
	}
	if ev := waitEvent(t, bob, EventMemberCount); ev.Count != 2 {
		t.Fatalf("bob count = %+v; want 2", ev)
	}
}

func TestBroadcastReachesRoomMembers(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t, h, "alice")
	bob := newTestClient(t, h, "bob")
	carol := newTestClient(t, h, "carol")

	join(alice, "general")
	waitEvent(t, alice, EventMemberCount)
	join(bob, "general")
	waitEvent(t, bob, EventMemberCount)
	join(carol, "random")
	waitEvent(t, carol, EventMemberCount)

	alice.Commands <- &Command{Kind: CommandBroadcast, Room: "general", Message: Message{
		Room: "general", From: "alice-identity", Name: "alice", Text: "hello", TS: 42,
	}}

	ev := waitEvent(t, bob, EventRoomMessage)
	if ev.Message.Text != "hello" || ev.Message.From != "alice-identity" {
		t.Fatalf("bob received %+v", ev.Message)
	}
	waitEvent(t, alice, EventRoomMessage)

	select {
	case ev := <-carol.Events:
		if ev.Kind == EventRoomMessage {
			t.Fatalf("message leaked into another room: %+v", ev)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestJoinIsExclusive(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t, h, "alice")
	bob := newTestClient(t, h, "bob")

	join(alice, "general")
	waitEvent(t, alice, EventMemberCount)
	join(bob, "general")
	waitEvent(t, bob, EventMemberCount)
	waitEvent(t, alice, EventMemberCount)

	// Joining a second room implicitly leaves the first.
	join(alice, "random")
	if ev := waitEvent(t, bob, EventMemberCount); ev.Room != "general" || ev.Count != 1 {
		t.Fatalf("bob saw %+v; want general back to 1", ev)
	}
	if ev := waitEvent(t, alice, EventMemberCount); ev.Room != "random" || ev.Count != 1 {
		t.Fatalf("alice saw %+v; want random at 1", ev)
	}
}

func TestRejoinSameRoomIsAnError(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t, h, "alice")

	join(alice, "general")
	waitEvent(t, alice, EventMemberCount)
	join(alice, "general")
	if ev := waitEvent(t, alice, EventError); ev.Error.Code != ErrCodeAlreadyJoined {
		t.Fatalf("error = %+v; want already_joined", ev.Error)
	}
}

func TestInvalidRoomNameRejected(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t, h, "alice")

	join(alice, "no spaces allowed")
	if ev := waitEvent(t, alice, EventError); ev.Error.Code != ErrCodeBadRequest {
		t.Fatalf("error = %+v; want bad_request", ev.Error)
	}

	join(alice, "this-name-is-far-too-long-for-a-room-identifier")
	if ev := waitEvent(t, alice, EventError); ev.Error.Code != ErrCodeBadRequest {
		t.Fatalf("error = %+v; want bad_request", ev.Error)
	}
}

func TestBroadcastRequiresMembership(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t, h, "alice")

	alice.Commands <- &Command{Kind: CommandBroadcast, Room: "general", Message: Message{Text: "hi"}}
	if ev := waitEvent(t, alice, EventError); ev.Error.Code != ErrCodeNotInRoom {
		t.Fatalf("error = %+v; want not_in_room", ev.Error)
	}

	// Membership in another room does not help.
	join(alice, "random")
	waitEvent(t, alice, EventMemberCount)
	alice.Commands <- &Command{Kind: CommandBroadcast, Room: "general", Message: Message{Text: "hi"}}
	if ev := waitEvent(t, alice, EventError); ev.Error.Code != ErrCodeNotInRoom {
		t.Fatalf("error = %+v; want not_in_room", ev.Error)
	}
}

func TestLeaveShrinksRoom(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t, h, "alice")
	bob := newTestClient(t, h, "bob")

	join(alice, "general")
	waitEvent(t, alice, EventMemberCount)
	join(bob, "general")
	waitEvent(t, bob, EventMemberCount)

	alice.Commands <- &Command{Kind: CommandLeaveRoom}
	if ev := waitEvent(t, bob, EventMemberCount); ev.Count != 1 {
		t.Fatalf("bob count after leave = %+v; want 1", ev)
	}

	alice.Commands <- &Command{Kind: CommandLeaveRoom}
	if ev := waitEvent(t, alice, EventError); ev.Error.Code != ErrCodeNotInRoom {
		t.Fatalf("double leave = %+v; want not_in_room", ev.Error)
	}
}

func TestDisconnectLeavesRoomAndClosesEvents(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t, h, "alice")
	bob := newTestClient(t, h, "bob")

	join(alice, "general")
	waitEvent(t, alice, EventMemberCount)
	join(bob, "general")
	waitEvent(t, bob, EventMemberCount)

	alice.CloseCommands()
	if ev := waitEvent(t, bob, EventMemberCount); ev.Count != 1 {
		t.Fatalf("bob count after disconnect = %+v; want 1", ev)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-alice.Events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("events channel not closed after disconnect")
		}
	}
}

func TestRoomNamesSnapshot(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t, h, "alice")
	bob := newTestClient(t, h, "bob")

	join(alice, "general")
	join(bob, "random")
	waitEvent(t, alice, EventMemberCount)
	waitEvent(t, bob, EventMemberCount)

	names := h.RoomNames()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "general" || names[1] != "random" {
		t.Fatalf("room names = %v; want [general random]", names)
	}
}

func TestAnnouncementsReachRoom(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t, h, "alice")

	join(alice, "general")
	waitEvent(t, alice, EventMemberCount)

	h.BroadcastRoomCleared("general")
	if ev := waitEvent(t, alice, EventRoomCleared); ev.Room != "general" {
		t.Fatalf("cleared event = %+v", ev)
	}

	h.BroadcastNotice("general", "monthly reset: chat state was cleared")
	ev := waitEvent(t, alice, EventNotice)
	if ev.Notice == nil || ev.Notice.Reason != "system" {
		t.Fatalf("notice = %+v; want system notice", ev)
	}
}
