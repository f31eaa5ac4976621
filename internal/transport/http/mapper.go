package http

import (
	"errors"
	"net/http"

	"github.com/vovakirdan/roamchat/internal/core"
	"github.com/vovakirdan/roamchat/internal/proto"
	"github.com/vovakirdan/roamchat/internal/service/messages"
	"github.com/vovakirdan/roamchat/internal/store"
	"github.com/vovakirdan/roamchat/internal/timeline"
)

func messageToProto(m *store.Message) proto.Message {
	return proto.Message{
		ID:       m.ID,
		ChatID:   m.ChatID,
		SenderID: m.SenderID,
		ClientID: m.ClientID,
		Type:     m.Type,
		Content:  m.Content,
		Status:   m.Status,
		TS:       m.CreatedAt.UnixMilli(),
	}
}

func coreMessageToProto(m core.Message) proto.Message {
	return proto.Message{
		ID:       m.ID,
		ChatID:   m.ChatID,
		SenderID: m.SenderID,
		ClientID: m.ClientID,
		Type:     m.Type,
		Content:  m.Content,
		Status:   m.Status,
		TS:       m.CreatedAt.UnixMilli(),
	}
}

func chatToProto(c *store.Chat) proto.Chat {
	return proto.Chat{
		ID:        c.ID,
		Name:      c.Name,
		IsGroup:   c.IsGroup,
		CreatedBy: c.CreatedBy,
		CreatedAt: c.CreatedAt.UnixMilli(),
	}
}

func timelineToProto(t *messages.Timeline) proto.TimelineResponse {
	resp := proto.TimelineResponse{
		Buckets:     make([]proto.Bucket, 0, len(t.Buckets)),
		Retractable: make(map[string]int64, len(t.Retractable)),
	}
	for _, b := range t.Buckets {
		bucket := proto.Bucket{Date: b.Date, Entries: make([]proto.Entry, 0, len(b.Entries))}
		for _, e := range b.Entries {
			bucket.Entries = append(bucket.Entries, proto.Entry{
				Message:  timelineMessageToProto(e.Message),
				RunStart: e.IsRunStart,
				RunEnd:   e.IsRunEnd,
			})
		}
		resp.Buckets = append(resp.Buckets, bucket)
	}
	for id, until := range t.Retractable {
		resp.Retractable[id] = until.UnixMilli()
	}
	return resp
}

func timelineMessageToProto(m timeline.Message) proto.Message {
	return proto.Message{
		ID:       m.ID,
		ChatID:   m.ChatID,
		SenderID: m.SenderID,
		Type:     string(m.Type),
		Content:  m.Content,
		Status:   string(m.Status),
		TS:       m.Timestamp.UnixMilli(),
	}
}

func outboundFromEvent(event *core.Event) (proto.Outbound, error) {
	switch event.Kind {
	case core.EventMessageCreated:
		return proto.NewEvent(proto.EventMessageCreated, coreMessageToProto(event.Message))
	case core.EventMessageStatus:
		return proto.NewEvent(proto.EventMessageStatus, coreMessageToProto(event.Message))
	case core.EventMessageRetracted:
		return proto.NewEvent(proto.EventMessageRetracted, proto.RetractedData{
			ChatID:    event.Chat,
			MessageID: event.MessageID,
		})
	case core.EventSubscribed:
		return proto.NewEvent(proto.EventSubscribed, proto.ChatData{ChatID: event.Chat})
	case core.EventUnsubscribed:
		return proto.NewEvent(proto.EventUnsubscribed, proto.ChatData{ChatID: event.Chat})
	case core.EventError:
		if event.Error == nil {
			return proto.NewError("unknown", "unknown error"), nil
		}
		return proto.NewError(event.Error.Code, event.Error.Message), nil
	default:
		return proto.NewError(core.ErrCodeInternal, "unknown event"), nil
	}
}

// serviceError maps a message service error to an HTTP status and error code.
func serviceError(err error) (int, string) {
	switch {
	case errors.Is(err, messages.ErrChatNotFound), errors.Is(err, messages.ErrMessageNotFound):
		return http.StatusNotFound, core.ErrCodeNotFound
	case errors.Is(err, messages.ErrUserNotFound):
		return http.StatusUnprocessableEntity, core.ErrCodeNotFound
	case errors.Is(err, messages.ErrNotParticipant), errors.Is(err, core.ErrNotParticipant):
		return http.StatusForbidden, core.ErrCodeNotParticipant
	case errors.Is(err, messages.ErrNotAuthor), errors.Is(err, messages.ErrOwnMessage):
		return http.StatusForbidden, core.ErrCodeNotAuthor
	case errors.Is(err, messages.ErrRetractWindowClosed):
		return http.StatusConflict, core.ErrCodeRetractWindowClosed
	case errors.Is(err, messages.ErrInvalidStatus):
		return http.StatusBadRequest, core.ErrCodeInvalidStatus
	case errors.Is(err, messages.ErrInvalidType),
		errors.Is(err, messages.ErrEmptyContent),
		errors.Is(err, messages.ErrTooFewParticipants):
		return http.StatusBadRequest, core.ErrCodeBadRequest
	case errors.Is(err, messages.ErrContentTooLarge):
		return http.StatusRequestEntityTooLarge, core.ErrCodeBadRequest
	default:
		return http.StatusInternalServerError, core.ErrCodeInternal
	}
}
