package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandSendMessage persists and delivers a direct message.
	CommandSendMessage CommandKind = iota
	// CommandTyping forwards a typing signal.
	CommandTyping
	// CommandMarkDelivered acknowledges delivery of a received message.
	CommandMarkDelivered
	// CommandMarkRead acknowledges that a received message was read.
	CommandMarkRead
	// CommandPing asks for a pong.
	CommandPing
)

// Command represents an action requested by a client over its connection.
type Command struct {
	Kind      CommandKind
	Recipient string
	Content   string
	ReplyTo   *string
	IsTyping  bool
	MessageID string
	Sender    string
}
