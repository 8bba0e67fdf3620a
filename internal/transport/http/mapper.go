package http

import (
	"time"

	"github.com/vovakirdan/whatsease-server/internal/core"
	"github.com/vovakirdan/whatsease-server/internal/proto"
	"github.com/vovakirdan/whatsease-server/internal/store"
)

const connectedMessage = "Connected successfully"

// inboundToCommand decodes the payload of a recognized frame kind.
func inboundToCommand(inbound proto.Inbound) (*core.Command, *core.CoreError) {
	switch inbound.Type {
	case proto.InboundTypeNewMessage:
		var msg proto.NewMessageData
		if perr := proto.DecodeData(inbound.Data, &msg); perr != nil {
			return nil, fromProtoError(perr)
		}
		return &core.Command{
			Kind:      core.CommandSendMessage,
			Recipient: msg.Recipient,
			Content:   msg.Content,
			ReplyTo:   msg.ReplyTo,
		}, nil
	case proto.InboundTypeTyping:
		var typing proto.TypingData
		if perr := proto.DecodeData(inbound.Data, &typing); perr != nil {
			return nil, fromProtoError(perr)
		}
		if typing.IsTyping == nil {
			return nil, &core.CoreError{Code: core.ErrCodeBadRequest, Message: "is_typing is required"}
		}
		return &core.Command{
			Kind:      core.CommandTyping,
			Recipient: typing.Recipient,
			IsTyping:  *typing.IsTyping,
		}, nil
	case proto.InboundTypeMarkDelivered, proto.InboundTypeMarkRead:
		var mark proto.MarkData
		if perr := proto.DecodeData(inbound.Data, &mark); perr != nil {
			return nil, fromProtoError(perr)
		}
		kind := core.CommandMarkDelivered
		if inbound.Type == proto.InboundTypeMarkRead {
			kind = core.CommandMarkRead
		}
		return &core.Command{
			Kind:      kind,
			MessageID: mark.MessageID,
			Sender:    mark.Sender,
		}, nil
	case proto.InboundTypePing:
		return &core.Command{Kind: core.CommandPing}, nil
	default:
		return nil, &core.CoreError{Code: core.ErrCodeUnknownType, Message: "Unknown message type: " + inbound.Type}
	}
}

func fromProtoError(perr *proto.Error) *core.CoreError {
	return &core.CoreError{Code: perr.Code, Message: perr.Message}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	out := proto.Outbound{
		Type:      event.Kind.String(),
		Timestamp: formatTime(event.Timestamp),
	}

	switch event.Kind {
	case core.EventConnectionEstablished:
		out.Data = proto.ConnectionEstablishedData{UserEmail: event.User, Message: connectedMessage}
	case core.EventNewMessage, core.EventMessageEdited:
		out.Data = messageData(event.Message)
	case core.EventStatusUpdate:
		out.Data = proto.StatusUpdateData{MessageID: event.MessageID, Status: string(event.Status)}
	case core.EventTyping:
		out.Data = proto.TypingIndicatorData{UserEmail: event.User, IsTyping: event.IsTyping}
	case core.EventPresence:
		out.Data = proto.UserStatusData{UserEmail: event.User, IsOnline: event.Online}
	case core.EventMessageDeleted:
		out.Data = proto.MessageDeletedData{MessageID: event.MessageID}
	case core.EventPong:
	case core.EventError:
		if event.Error != nil {
			out.Data = proto.Error{Code: event.Error.Code, Message: event.Error.Message}
		}
	}
	return out
}

func messageData(m core.Message) proto.MessageData {
	return proto.MessageData{
		MessageID:     m.ID,
		Sender:        m.Sender,
		Recipient:     m.Recipient,
		Content:       m.Content,
		Timestamp:     formatTime(m.Timestamp),
		Status:        string(m.Status),
		IsBotResponse: m.IsBotResponse,
		ReplyTo:       m.ReplyTo,
		Edited:        m.Edited,
		Deleted:       m.Deleted,
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// MessageResponse is a message in REST responses.
type MessageResponse struct {
	MessageID     string     `json:"message_id"`
	Sender        string     `json:"sender"`
	Recipient     string     `json:"recipient"`
	Content       string     `json:"content"`
	Timestamp     time.Time  `json:"timestamp"`
	Status        string     `json:"status"`
	IsBotResponse bool       `json:"is_bot_response"`
	ReplyTo       *string    `json:"reply_to"`
	Edited        bool       `json:"edited"`
	EditedAt      *time.Time `json:"edited_at"`
	Deleted       bool       `json:"deleted"`
}

func messageResponse(m *store.Message) MessageResponse {
	return MessageResponse{
		MessageID:     m.ID,
		Sender:        m.Sender,
		Recipient:     m.Recipient,
		Content:       m.Content,
		Timestamp:     m.Timestamp,
		Status:        string(m.Status),
		IsBotResponse: m.IsBotResponse,
		ReplyTo:       m.ReplyTo,
		Edited:        m.Edited,
		EditedAt:      m.EditedAt,
		Deleted:       m.Deleted,
	}
}

func messageResponseFromCore(m core.Message) MessageResponse {
	return MessageResponse{
		MessageID:     m.ID,
		Sender:        m.Sender,
		Recipient:     m.Recipient,
		Content:       m.Content,
		Timestamp:     m.Timestamp,
		Status:        string(m.Status),
		IsBotResponse: m.IsBotResponse,
		ReplyTo:       m.ReplyTo,
		Edited:        m.Edited,
		Deleted:       m.Deleted,
	}
}

// UserResponse is a full profile in REST responses.
type UserResponse struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	AvatarURL string    `json:"avatar_url"`
	Bio       string    `json:"bio"`
	IsActive  bool      `json:"is_active"`
	IsOnline  bool      `json:"is_online"`
	LastSeen  time.Time `json:"last_seen"`
	CreatedAt time.Time `json:"created_at"`
}

// UserListItem is a condensed user for lists and search results.
type UserListItem struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url"`
	IsOnline  bool   `json:"is_online"`
}

// userResponse reports presence from the live registry rather than the persisted flag.
func userResponse(u *store.User, online bool) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		Username:  u.Username,
		FullName:  u.FullName,
		AvatarURL: u.AvatarURL,
		Bio:       u.Bio,
		IsActive:  u.IsActive,
		IsOnline:  online,
		LastSeen:  u.LastSeen,
		CreatedAt: u.CreatedAt,
	}
}

func userListItem(u *store.User, online bool) UserListItem {
	return UserListItem{
		ID:        u.ID,
		Email:     u.Email,
		Username:  u.Username,
		FullName:  u.FullName,
		AvatarURL: u.AvatarURL,
		IsOnline:  online,
	}
}
