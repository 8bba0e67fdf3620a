package core

import (
	"time"

	"github.com/vovakirdan/whatsease-server/internal/store"
)

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventConnectionEstablished acknowledges a new connection to that connection only.
	EventConnectionEstablished EventKind = iota
	// EventNewMessage carries a direct message to its recipient and back to its sender.
	EventNewMessage
	// EventStatusUpdate tells a message's sender that its status moved forward.
	EventStatusUpdate
	// EventTyping forwards a typing signal to the named recipient.
	EventTyping
	// EventPresence announces that a user went online or offline.
	EventPresence
	// EventMessageEdited carries the new content of an edited message.
	EventMessageEdited
	// EventMessageDeleted announces that a message was soft-deleted.
	EventMessageDeleted
	// EventPong answers a keepalive ping.
	EventPong
	// EventError notifies a client about a rejected frame.
	EventError
)

var eventKindNames = [...]string{
	EventConnectionEstablished: "connection_established",
	EventNewMessage:            "new_message",
	EventStatusUpdate:          "message_status_update",
	EventTyping:                "typing_indicator",
	EventPresence:              "user_status_change",
	EventMessageEdited:         "message_edited",
	EventMessageDeleted:        "message_deleted",
	EventPong:                  "pong",
	EventError:                 "error",
}

func (k EventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return "unknown"
}

// Event is sent to clients to describe what happened in the system.
// Events are shared between every connection they fan out to and must not be
// mutated once delivery starts.
type Event struct {
	Kind EventKind
	// User is the acting or subject identity: the typist, the user whose presence
	// changed, the editor, or the owner of a new connection.
	User string
	// Target is the addressed identity for typing, status, edit and delete events.
	Target    string
	Message   Message
	MessageID string
	Status    store.MessageStatus
	IsTyping  bool
	Online    bool
	Error     *CoreError
	Timestamp time.Time
}

func now() time.Time {
	return time.Now().UTC()
}

// NewMessageEvent wraps a persisted message for delivery.
func NewMessageEvent(msg Message) *Event {
	return &Event{Kind: EventNewMessage, User: msg.Sender, Message: msg, Timestamp: now()}
}

// StatusUpdateEvent addresses a status change to the message's original sender.
func StatusUpdateEvent(messageID string, status store.MessageStatus, sender string) *Event {
	return &Event{Kind: EventStatusUpdate, MessageID: messageID, Status: status, Target: sender, Timestamp: now()}
}

// TypingEvent forwards from's typing state to to.
func TypingEvent(from, to string, isTyping bool) *Event {
	return &Event{Kind: EventTyping, User: from, Target: to, IsTyping: isTyping, Timestamp: now()}
}

// PresenceEvent announces user's online state to everyone else.
func PresenceEvent(user string, online bool) *Event {
	return &Event{Kind: EventPresence, User: user, Online: online, Timestamp: now()}
}

// MessageEditedEvent is sent to the other participant and echoed to the editor.
func MessageEditedEvent(msg Message, target string) *Event {
	return &Event{Kind: EventMessageEdited, User: msg.Sender, Target: target, Message: msg, MessageID: msg.ID, Timestamp: now()}
}

// MessageDeletedEvent is sent to the other participant and echoed to the deleter.
func MessageDeletedEvent(messageID, actor, target string) *Event {
	return &Event{Kind: EventMessageDeleted, User: actor, Target: target, MessageID: messageID, Timestamp: now()}
}

// EstablishedEvent acknowledges a registered connection.
func EstablishedEvent(user string) *Event {
	return &Event{Kind: EventConnectionEstablished, User: user, Timestamp: now()}
}

// PongEvent answers a ping.
func PongEvent() *Event {
	return &Event{Kind: EventPong, Timestamp: now()}
}

// ErrorEvent reports a rejected frame.
func ErrorEvent(err *CoreError) *Event {
	return &Event{Kind: EventError, Error: err, Timestamp: now()}
}
