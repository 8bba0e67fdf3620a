package core

import (
	"time"

	"github.com/vovakirdan/whatsease-server/internal/store"
)

// Message is the message payload carried by new_message and message_edited events.
type Message struct {
	ID            string
	Sender        string
	Recipient     string
	Content       string
	Timestamp     time.Time
	Status        store.MessageStatus
	IsBotResponse bool
	ReplyTo       *string
	Edited        bool
	Deleted       bool
}

// MessageFromRecord converts a persisted message into an event payload.
func MessageFromRecord(m *store.Message) Message {
	return Message{
		ID:            m.ID,
		Sender:        m.Sender,
		Recipient:     m.Recipient,
		Content:       m.Content,
		Timestamp:     m.Timestamp,
		Status:        m.Status,
		IsBotResponse: m.IsBotResponse,
		ReplyTo:       m.ReplyTo,
		Edited:        m.Edited,
		Deleted:       m.Deleted,
	}
}
