package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dkotenko/relaychat-server/internal/core"
	"github.com/dkotenko/relaychat-server/internal/history"
	"github.com/dkotenko/relaychat-server/internal/proto"
	"github.com/dkotenko/relaychat-server/internal/spam"
	"github.com/dkotenko/relaychat-server/internal/store"
	"github.com/dkotenko/relaychat-server/internal/token"
)

// nameLookupTimeout bounds the display-name read during the handshake; on
// expiry the client gets a derived guest name instead of a stalled upgrade.
const nameLookupTimeout = 250 * time.Millisecond

// WSHandler upgrades connections and bridges them to core.Client. Store
// round-trips (spam gate, history, origin counting) run here, on the
// connection's own goroutine, keeping the hub loop free of I/O.
type WSHandler struct {
	hub          *core.Hub
	tokens       *token.Service
	guard        *spam.Guard
	history      *history.Service
	store        store.Store
	maxPerOrigin int64
	log          *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, tokens *token.Service, guard *spam.Guard, hist *history.Service, st store.Store, maxPerOrigin int64, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		hub:          hub,
		tokens:       tokens,
		guard:        guard,
		history:      hist,
		store:        st,
		maxPerOrigin: maxPerOrigin,
		log:          logger,
	}
}

// Handle is the gin entrypoint for GET /ws.
func (h *WSHandler) Handle(c *gin.Context) {
	ctx := c.Request.Context()

	identity := h.tokens.Validate(ctx, c.Query("token"))
	if identity == "" {
		c.JSON(stdhttp.StatusUnauthorized, ErrorResponse{Error: "unauthenticated"})
		return
	}

	origin := c.ClientIP()
	counted, err := h.acquireOriginSlot(ctx, origin)
	if err != nil {
		c.JSON(stdhttp.StatusTooManyRequests, ErrorResponse{Error: "too_many_connections"})
		return
	}
	if counted {
		defer h.releaseOriginSlot(origin)
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	nameCtx, cancelName := context.WithTimeout(ctx, nameLookupTimeout)
	name := h.tokens.DisplayName(nameCtx, identity)
	cancelName()

	client := core.NewClient(uuid.NewString(), identity, name, origin)
	h.hub.RegisterClient(client)
	defer client.CloseCommands()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// acquireOriginSlot enforces the per-origin concurrent-connection cap. The
// count lives in the store so the cap holds across server instances. A
// store outage admits the connection uncounted: the cap shapes abuse, and
// availability wins when the dependency is degraded.
func (h *WSHandler) acquireOriginSlot(ctx context.Context, origin string) (counted bool, err error) {
	n, incrErr := h.store.Incr(ctx, store.OriginKey(origin))
	if incrErr != nil {
		h.log.Error().Err(incrErr).Str("origin", origin).Msg("origin count unavailable, admitting")
		return false, nil
	}
	if n > h.maxPerOrigin {
		h.releaseOriginSlot(origin)
		h.log.Warn().Str("origin", origin).Int64("count", n).Msg("origin connection cap reached")
		return false, core.ErrTooManyConnections
	}
	return true, nil
}

// releaseOriginSlot decrements the origin count, deleting the tracking
// entry at zero. Runs on a fresh context: the request context is already
// done when a disconnecting client releases its slot.
func (h *WSHandler) releaseOriginSlot(origin string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := h.store.Decr(ctx, store.OriginKey(origin))
	if err != nil {
		h.log.Warn().Err(err).Str("origin", origin).Msg("origin count release failed")
		return
	}
	if n <= 0 {
		_ = h.store.Del(ctx, store.OriginKey(origin))
	}
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	// The connection's view of its current room; mirrors hub state because
	// every transition below is validated before it is forwarded.
	room := ""

	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		switch inbound.Type {
		case proto.InboundTypeJoin:
			var join proto.JoinData
			if err := json.Unmarshal(inbound.Data, &join); err != nil {
				return err
			}
			if !core.ValidRoomName(join.Room) {
				h.sendEvent(client, &core.Event{Kind: core.EventError, Error: &core.CoreError{Code: core.ErrCodeBadRequest, Message: "invalid room name"}})
				continue
			}
			if join.Room != room {
				h.deliverBacklog(ctx, client, join.Room)
				room = join.Room
			}
			client.Commands <- &core.Command{Kind: core.CommandJoinRoom, Room: join.Room}

		case proto.InboundTypeLeave:
			room = ""
			client.Commands <- &core.Command{Kind: core.CommandLeaveRoom}

		case proto.InboundTypeMsg:
			var msg proto.MsgData
			if err := json.Unmarshal(inbound.Data, &msg); err != nil {
				return err
			}
			if room == "" {
				h.sendEvent(client, &core.Event{Kind: core.EventError, Error: &core.CoreError{Code: core.ErrCodeNotInRoom, Message: "join a room first"}})
				continue
			}
			if msg.Text == "" {
				h.sendEvent(client, &core.Event{Kind: core.EventError, Error: &core.CoreError{Code: core.ErrCodeBadRequest, Message: "empty message"}})
				continue
			}
			h.relayMessage(ctx, client, room, msg.Text)

		default:
			if err := wsjson.Write(ctx, conn, proto.Outbound{
				Type:  proto.OutboundTypeError,
				Error: &proto.Error{Code: core.ErrCodeBadRequest, Msg: "unknown message type"},
			}); err != nil {
				return err
			}
		}
	}
}

// relayMessage runs the spam gate and, when the message is admitted,
// persists and forwards it. Denials become private notices on this
// client's own channel, never room broadcasts.
func (h *WSHandler) relayMessage(ctx context.Context, client *core.Client, room, text string) {
	res := h.guard.Check(ctx, client.Identity)
	if !res.Accepted {
		h.sendEvent(client, &core.Event{
			Kind: core.EventNotice,
			Notice: &core.Notice{
				Reason:      res.Reason,
				Text:        denialText(res),
				MuteSeconds: int64(res.MuteFor.Seconds()),
			},
		})
		return
	}

	now := time.Now()
	h.history.Append(ctx, room, history.Entry{
		From: client.Identity,
		Name: client.Name,
		Text: text,
		TS:   now.Unix(),
	})
	client.Commands <- &core.Command{
		Kind: core.CommandBroadcast,
		Room: room,
		Message: core.Message{
			Room: room,
			From: client.Identity,
			Name: client.Name,
			Text: text,
			TS:   now.Unix(),
		},
	}
}

func (h *WSHandler) deliverBacklog(ctx context.Context, client *core.Client, room string) {
	entries, err := h.history.Recent(ctx, room)
	if err != nil {
		h.log.Warn().Err(err).Str("room", room).Msg("backlog read failed")
		return
	}
	messages := make([]core.Message, 0, len(entries))
	for _, e := range entries {
		messages = append(messages, core.Message{Room: room, From: e.From, Name: e.Name, Text: e.Text, TS: e.TS})
	}
	h.sendEvent(client, &core.Event{Kind: core.EventHistory, Room: room, Messages: messages})
}

func (h *WSHandler) sendEvent(client *core.Client, event *core.Event) {
	select {
	case client.Events <- event:
	default:
		// Drop if slow consumer.
	}
}

func denialText(res spam.Result) string {
	switch res.Reason {
	case spam.ReasonMuted:
		return "you are muted"
	case spam.ReasonTooFast:
		return "slow down"
	default:
		return "message rejected"
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Error().Err(err).Str("client_id", client.ID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
