package proto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/tidwall/gjson"
)

// Inbound is the envelope for frames coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	InboundTypeNewMessage    = "new_message"
	InboundTypeTyping        = "typing"
	InboundTypeMarkDelivered = "mark_delivered"
	InboundTypeMarkRead      = "mark_read"
	InboundTypePing          = "ping"

	OutboundTypeConnectionEstablished = "connection_established"
	OutboundTypeNewMessage            = "new_message"
	OutboundTypeStatusUpdate          = "message_status_update"
	OutboundTypeTypingIndicator       = "typing_indicator"
	OutboundTypeUserStatusChange      = "user_status_change"
	OutboundTypeMessageEdited         = "message_edited"
	OutboundTypeMessageDeleted        = "message_deleted"
	OutboundTypePong                  = "pong"
	OutboundTypeError                 = "error"
)

// NewMessageData sends a direct message.
type NewMessageData struct {
	Recipient string  `json:"recipient"`
	Content   string  `json:"content"`
	ReplyTo   *string `json:"reply_to,omitempty"`
}

// TypingData toggles the typing indicator shown to recipient.
type TypingData struct {
	Recipient string `json:"recipient"`
	IsTyping  *bool  `json:"is_typing"`
}

// MarkData acknowledges a received message.
type MarkData struct {
	MessageID string `json:"message_id"`
	Sender    string `json:"sender"`
}

// Outbound is the envelope for frames sent to the client.
type Outbound struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp"`
}

// ConnectionEstablishedData confirms a registered connection.
type ConnectionEstablishedData struct {
	UserEmail string `json:"user_email"`
	Message   string `json:"message"`
}

// MessageData is a message as seen by clients.
type MessageData struct {
	MessageID     string  `json:"message_id"`
	Sender        string  `json:"sender"`
	Recipient     string  `json:"recipient"`
	Content       string  `json:"content"`
	Timestamp     string  `json:"timestamp"`
	Status        string  `json:"status"`
	IsBotResponse bool    `json:"is_bot_response"`
	ReplyTo       *string `json:"reply_to"`
	Edited        bool    `json:"edited"`
	Deleted       bool    `json:"deleted"`
}

// StatusUpdateData tells a sender its message moved forward.
type StatusUpdateData struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// TypingIndicatorData tells a recipient who is typing.
type TypingIndicatorData struct {
	UserEmail string `json:"user_email"`
	IsTyping  bool   `json:"is_typing"`
}

// UserStatusData announces a presence change.
type UserStatusData struct {
	UserEmail string `json:"user_email"`
	IsOnline  bool   `json:"is_online"`
}

// MessageDeletedData names a soft-deleted message.
type MessageDeletedData struct {
	MessageID string `json:"message_id"`
}

// Error describes a rejected frame.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Error codes produced while decoding.
const (
	CodeBadRequest  = "bad_request"
	CodeUnknownType = "unknown_type"
)

// Decode extracts the envelope of a raw frame. A frame without data yields an
// empty object so payload-less kinds such as ping decode cleanly.
func Decode(raw []byte) (Inbound, *Error) {
	if !gjson.ValidBytes(raw) {
		return Inbound{}, &Error{Code: CodeBadRequest, Message: "frame is not valid JSON"}
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return Inbound{}, &Error{Code: CodeBadRequest, Message: "frame must be a JSON object"}
	}

	kind := root.Get("type")
	if kind.Type != gjson.String || kind.Str == "" {
		return Inbound{}, &Error{Code: CodeBadRequest, Message: "type is required"}
	}

	in := Inbound{Type: kind.Str, Data: json.RawMessage("{}")}
	data := root.Get("data")
	switch {
	case !data.Exists() || data.Type == gjson.Null:
	case data.IsObject():
		in.Data = json.RawMessage(data.Raw)
	default:
		return Inbound{}, &Error{Code: CodeBadRequest, Message: "data must be a JSON object"}
	}
	return in, nil
}

// DecodeData strictly decodes the payload into v. Unknown fields are rejected.
func DecodeData(data json.RawMessage, v any) *Error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &Error{Code: CodeBadRequest, Message: describeDecodeError(err)}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return &Error{Code: CodeBadRequest, Message: "data has trailing content"}
	}
	return nil
}

func describeDecodeError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("field %q has the wrong type", typeErr.Field)
	}
	return "invalid data: " + err.Error()
}
