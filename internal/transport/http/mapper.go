package http

import (
	"github.com/dkotenko/relaychat-server/internal/core"
	"github.com/dkotenko/relaychat-server/internal/proto"
)

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventRoomMessage:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: "message",
			Data: proto.EventMessage{
				Room: event.Message.Room,
				From: event.Message.From,
				Name: event.Message.Name,
				Text: event.Message.Text,
				TS:   event.Message.TS,
			},
		}
	case core.EventMemberCount:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: "member_count",
			Data: proto.EventMemberCount{
				Room:  event.Room,
				Count: event.Count,
			},
		}
	case core.EventHistory:
		messages := make([]proto.EventMessage, 0, len(event.Messages))
		for _, msg := range event.Messages {
			messages = append(messages, proto.EventMessage{
				Room: msg.Room,
				From: msg.From,
				Name: msg.Name,
				Text: msg.Text,
				TS:   msg.TS,
			})
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: "history",
			Data: proto.EventHistory{
				Room:     event.Room,
				Messages: messages,
			},
		}
	case core.EventRoomCleared:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: "room_cleared",
			Data:  proto.EventRoomCleared{Room: event.Room},
		}
	case core.EventNotice:
		notice := proto.EventNotice{}
		if event.Notice != nil {
			notice.Reason = event.Notice.Reason
			notice.Text = event.Notice.Text
			notice.MuteSeconds = event.Notice.MuteSeconds
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: "notice",
			Data:  notice,
		}
	case core.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "unknown", Msg: "unknown error"}}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: event.Error.Code, Msg: event.Error.Message},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}
