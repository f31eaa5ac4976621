package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roamchat/internal/proto"
	"github.com/vovakirdan/roamchat/internal/service/messages"
)

// ChatHandlers provides HTTP handlers for chats and their messages.
type ChatHandlers struct {
	messages *messages.Service
	loc      *time.Location
	log      *zerolog.Logger
}

// NewChatHandlers creates chat handlers. loc is used for timelines requested
// without a tz parameter.
func NewChatHandlers(svc *messages.Service, loc *time.Location, logger *zerolog.Logger) *ChatHandlers {
	if loc == nil {
		loc = time.Local
	}
	return &ChatHandlers{messages: svc, loc: loc, log: logger}
}

// CreateChat handles chat creation.
// POST /api/chats
func (h *ChatHandlers) CreateChat(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req proto.CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create chat request")
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "invalid request body"})
		return
	}

	chat, err := h.messages.CreateChat(c.Request.Context(), userID, req.Name, req.Members)
	if err != nil {
		h.fail(c, err, "failed to create chat")
		return
	}

	h.log.Info().Str("chat_id", chat.ID).Str("created_by", userID).Msg("chat created")
	c.JSON(http.StatusCreated, chatToProto(chat))
}

// ListChats lists the caller's chats.
// GET /api/chats
func (h *ChatHandlers) ListChats(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	chats, err := h.messages.ListChats(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err, "failed to list chats")
		return
	}

	resp := make([]proto.Chat, 0, len(chats))
	for _, chat := range chats {
		resp = append(resp, chatToProto(chat))
	}
	c.JSON(http.StatusOK, resp)
}

// Participants lists chat members with presence.
// GET /api/chats/:chat_id/participants
func (h *ChatHandlers) Participants(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	members, err := h.messages.Participants(c.Request.Context(), c.Param("chat_id"), userID)
	if err != nil {
		h.fail(c, err, "failed to list participants")
		return
	}

	resp := make([]proto.Participant, 0, len(members))
	for _, m := range members {
		resp = append(resp, proto.Participant{
			UserID:      m.UserID,
			DisplayName: m.DisplayName,
			AvatarURL:   m.AvatarURL,
			Online:      m.Online,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// History returns messages oldest first. before is the id of the oldest
// message the caller already has.
// GET /api/chats/:chat_id/messages?limit=&before=
func (h *ChatHandlers) History(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	limit, err := queryInt(c, "limit")
	if err != nil {
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "invalid limit"})
		return
	}
	msgs, err := h.messages.History(c.Request.Context(), c.Param("chat_id"), userID, int(limit), c.Query("before"))
	if err != nil {
		h.fail(c, err, "failed to load history")
		return
	}

	resp := proto.HistoryResponse{Messages: make([]proto.Message, 0, len(msgs))}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, messageToProto(m))
	}
	c.JSON(http.StatusOK, resp)
}

// SendMessage stores a message. Re-sending with the same client_id returns
// the stored message.
// POST /api/chats/:chat_id/messages
func (h *ChatHandlers) SendMessage(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req proto.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid send request")
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "invalid request body"})
		return
	}

	msg, err := h.messages.Send(c.Request.Context(), messages.SendInput{
		ChatID:   c.Param("chat_id"),
		SenderID: userID,
		ClientID: req.ClientID,
		Type:     req.Type,
		Content:  req.Content,
	})
	if err != nil {
		h.fail(c, err, "failed to send message")
		return
	}

	c.JSON(http.StatusCreated, messageToProto(msg))
}

// Timeline returns the chat grouped into days for the caller.
// GET /api/chats/:chat_id/timeline?tz=Europe/Lisbon
func (h *ChatHandlers) Timeline(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	loc := h.loc
	if tz := c.Query("tz"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "unknown time zone"})
			return
		}
		loc = l
	}

	view, err := h.messages.Timeline(c.Request.Context(), c.Param("chat_id"), userID, loc)
	if err != nil {
		h.fail(c, err, "failed to build timeline")
		return
	}
	c.JSON(http.StatusOK, timelineToProto(view))
}

// UpdateStatus acknowledges a message as delivered or read.
// PATCH /api/chats/:chat_id/messages/:message_id/status
func (h *ChatHandlers) UpdateStatus(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req proto.StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "invalid request body"})
		return
	}

	msg, err := h.messages.UpdateStatus(c.Request.Context(), c.Param("chat_id"), c.Param("message_id"), userID, req.Status)
	if err != nil {
		h.fail(c, err, "failed to update status")
		return
	}
	c.JSON(http.StatusOK, messageToProto(msg))
}

// Retract withdraws one of the caller's messages.
// DELETE /api/chats/:chat_id/messages/:message_id
func (h *ChatHandlers) Retract(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	if err := h.messages.Retract(c.Request.Context(), c.Param("chat_id"), c.Param("message_id"), userID); err != nil {
		h.fail(c, err, "failed to retract message")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ChatHandlers) userID(c *gin.Context) (string, bool) {
	userID, ok := currentUserID(c)
	if !ok {
		h.log.Error().Msg("user_id not found in context")
		c.JSON(http.StatusUnauthorized, proto.ErrorResponse{Error: "unauthorized"})
	}
	return userID, ok
}

func (h *ChatHandlers) fail(c *gin.Context, err error, msg string) {
	status, code := serviceError(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg(msg)
		c.JSON(status, proto.ErrorResponse{Error: "internal server error", Code: code})
		return
	}
	c.JSON(status, proto.ErrorResponse{Error: err.Error(), Code: code})
}

func queryInt(c *gin.Context, key string) (int64, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
