package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/whatsease-server/internal/auth"
	"github.com/vovakirdan/whatsease-server/internal/core"
	"github.com/vovakirdan/whatsease-server/internal/store"
)

const (
	defaultConversationLimit = 50
	maxConversationLimit     = 200
)

// MessageHandlers provides the /api/messages endpoints. Mutations go through
// the coordinator so live participants are notified.
type MessageHandlers struct {
	coord *core.Coordinator
	store store.Store
	log   *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(coord *core.Coordinator, st store.Store, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{coord: coord, store: st, log: logger}
}

// SendMessageRequest is the body of POST /api/messages.
type SendMessageRequest struct {
	Recipient string  `json:"recipient"`
	Content   string  `json:"content"`
	ReplyTo   *string `json:"reply_to"`
}

// BotMessageRequest is the body of POST /api/messages/bot.
type BotMessageRequest struct {
	Content string `json:"content"`
}

// EditMessageRequest is the body of PUT /api/messages/:id.
type EditMessageRequest struct {
	Content string `json:"content"`
}

// StatusRequest is the body of PATCH /api/messages/:id/status.
type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// ConversationResponse is one page of a conversation.
type ConversationResponse struct {
	Participant1 string            `json:"participant1"`
	Participant2 string            `json:"participant2"`
	Messages     []MessageResponse `json:"messages"`
	TotalCount   int               `json:"total_count"`
	UnreadCount  int               `json:"unread_count"`
}

// ChatListItem is one entry of the caller's chat list.
type ChatListItem struct {
	OtherUserEmail    string     `json:"other_user_email"`
	OtherUserUsername string     `json:"other_user_username"`
	OtherUserAvatar   string     `json:"other_user_avatar"`
	OtherUserIsOnline bool       `json:"other_user_is_online"`
	LastMessage       string     `json:"last_message"`
	LastMessageTime   *time.Time `json:"last_message_time"`
	UnreadCount       int        `json:"unread_count"`
}

// Send persists a message and delivers it to online participants.
// POST /api/messages
func (h *MessageHandlers) Send(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	msg, cerr := h.coord.SubmitMessage(c.Request.Context(), currentUser(c), auth.NormalizeEmail(req.Recipient), req.Content, req.ReplyTo)
	if cerr != nil {
		writeCoreError(c, cerr)
		return
	}
	c.JSON(http.StatusCreated, messageResponseFromCore(msg))
}

// ChatWithBot stores the caller's question and the assistant's answer and
// returns the answer.
// POST /api/messages/bot
func (h *MessageHandlers) ChatWithBot(c *gin.Context) {
	var req BotMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	answer, cerr := h.coord.AskBot(c.Request.Context(), currentUser(c), req.Content)
	if cerr != nil {
		writeCoreError(c, cerr)
		return
	}
	c.JSON(http.StatusCreated, messageResponseFromCore(answer))
}

// Conversation returns messages between the caller and another user, newest first.
// GET /api/messages/conversation/:email?limit=&offset=
func (h *MessageHandlers) Conversation(c *gin.Context) {
	ctx := c.Request.Context()
	self := currentUser(c)
	other := auth.NormalizeEmail(c.Param("email"))

	if _, err := h.store.GetUserByEmail(ctx, other); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
			return
		}
		h.internalError(c, err, "failed to load user")
		return
	}

	limit := queryInt(c, "limit", defaultConversationLimit, 1, maxConversationLimit)
	offset := queryInt(c, "offset", 0, 0, -1)

	messages, err := h.store.ListConversation(ctx, self, other, limit, offset)
	if err != nil {
		h.internalError(c, err, "failed to list conversation")
		return
	}
	total, err := h.store.CountConversation(ctx, self, other)
	if err != nil {
		h.internalError(c, err, "failed to count conversation")
		return
	}
	unread, err := h.store.CountUnread(ctx, other, self)
	if err != nil {
		h.internalError(c, err, "failed to count unread messages")
		return
	}

	out := make([]MessageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, messageResponse(m))
	}
	c.JSON(http.StatusOK, ConversationResponse{
		Participant1: self,
		Participant2: other,
		Messages:     out,
		TotalCount:   total,
		UnreadCount:  unread,
	})
}

// Chats lists the caller's conversations, most recent first.
// GET /api/messages/chats
func (h *MessageHandlers) Chats(c *gin.Context) {
	self := currentUser(c)
	chats, err := h.store.ListChats(c.Request.Context(), self)
	if err != nil {
		h.internalError(c, err, "failed to list chats")
		return
	}

	registry := h.coord.Registry()
	out := make([]ChatListItem, 0, len(chats))
	for _, chat := range chats {
		item := ChatListItem{
			OtherUserEmail:    chat.OtherEmail,
			OtherUserUsername: chat.OtherUsername,
			OtherUserAvatar:   chat.OtherAvatarURL,
			OtherUserIsOnline: registry.IsOnline(chat.OtherEmail),
			LastMessage:       chat.LastMessage,
			UnreadCount:       chat.UnreadCount,
		}
		if !chat.LastMessageTime.IsZero() {
			t := chat.LastMessageTime
			item.LastMessageTime = &t
		}
		out = append(out, item)
	}
	c.JSON(http.StatusOK, out)
}

// Edit replaces the content of one of the caller's messages.
// PUT /api/messages/:id
func (h *MessageHandlers) Edit(c *gin.Context) {
	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	msg, cerr := h.coord.EditMessage(c.Request.Context(), currentUser(c), c.Param("id"), req.Content)
	if cerr != nil {
		writeCoreError(c, cerr)
		return
	}
	c.JSON(http.StatusOK, messageResponseFromCore(msg))
}

// UpdateStatus acknowledges a received message as delivered or read.
// PATCH /api/messages/:id/status
func (h *MessageHandlers) UpdateStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	status, ok := store.ParseStatus(req.Status)
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unknown status", Code: core.ErrCodeBadRequest})
		return
	}

	id := c.Param("id")
	if _, cerr := h.coord.UpdateStatus(c.Request.Context(), currentUser(c), id, "", status); cerr != nil {
		writeCoreError(c, cerr)
		return
	}
	msg, err := h.store.GetMessage(c.Request.Context(), id)
	if err != nil {
		h.internalError(c, err, "failed to reload message")
		return
	}
	c.JSON(http.StatusOK, messageResponse(msg))
}

// Delete soft-deletes one of the caller's messages.
// DELETE /api/messages/:id
func (h *MessageHandlers) Delete(c *gin.Context) {
	if cerr := h.coord.DeleteMessage(c.Request.Context(), currentUser(c), c.Param("id")); cerr != nil {
		writeCoreError(c, cerr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Message deleted successfully"})
}

func (h *MessageHandlers) internalError(c *gin.Context, err error, msg string) {
	h.log.Error().Err(err).Str("user", currentUser(c)).Msg(msg)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
}

// writeCoreError maps a core rejection to an HTTP status.
func writeCoreError(c *gin.Context, cerr *core.CoreError) {
	status := http.StatusBadRequest
	switch cerr.Code {
	case core.ErrCodeUnauthorized:
		status = http.StatusUnauthorized
	case core.ErrCodeForbidden:
		status = http.StatusForbidden
	case core.ErrCodeNotFound, core.ErrCodeRecipientNotFound:
		status = http.StatusNotFound
	case core.ErrCodeStatusRegression:
		status = http.StatusConflict
	case core.ErrCodeRateLimited:
		status = http.StatusTooManyRequests
	case core.ErrCodeStoreUnavailable:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, ErrorResponse{Error: cerr.Message, Code: cerr.Code})
}
