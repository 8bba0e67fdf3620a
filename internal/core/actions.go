package core

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/vovakirdan/whatsease-server/internal/store"
)

// MaxContentLength is the longest message body accepted, in characters.
const MaxContentLength = 2000

// SubmitMessage validates, persists and delivers a direct message from sender.
// On failure nothing is delivered.
func (c *Coordinator) SubmitMessage(ctx context.Context, sender, recipient, content string, replyTo *string) (Message, *CoreError) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return Message{}, coreError(ErrCodeBadRequest, "recipient is required")
	}
	if cerr := validateContent(content); cerr != nil {
		return Message{}, cerr
	}
	if recipient == sender {
		return Message{}, coreError(ErrCodeBadRequest, "cannot send a message to yourself")
	}

	if _, err := c.store.GetUserByEmail(ctx, recipient); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Message{}, coreError(ErrCodeRecipientNotFound, "recipient not found")
		}
		c.log.Error().Err(err).Str("user", sender).Msg("lookup recipient")
		return Message{}, coreError(ErrCodeStoreUnavailable, "message could not be stored")
	}

	rec, err := c.store.CreateMessage(ctx, store.NewMessage{
		Sender:    sender,
		Recipient: recipient,
		Content:   content,
		ReplyTo:   replyTo,
	})
	if err != nil {
		c.log.Error().Err(err).Str("user", sender).Msg("persist message")
		return Message{}, coreError(ErrCodeStoreUnavailable, "message could not be stored")
	}

	ev := NewMessageEvent(MessageFromRecord(rec))
	report := c.router.Deliver(ctx, ev)
	c.log.Debug().
		Str("user", sender).
		Str("message_id", ev.Message.ID).
		Int("delivered", report.Delivered).
		Msg("message routed")
	return ev.Message, nil
}

// AskBot answers content on behalf of the bot without the typing delay. The
// question is stored as Read and the answer as Delivered. Both are echoed to
// the sender's live connections; the answer is returned.
func (c *Coordinator) AskBot(ctx context.Context, sender, content string) (Message, *CoreError) {
	if cerr := validateContent(content); cerr != nil {
		return Message{}, cerr
	}
	botID := c.router.cfg.BotIdentity
	if botID == "" || c.router.responder == nil {
		return Message{}, coreError(ErrCodeNotFound, "assistant is not available")
	}
	if sender == botID {
		return Message{}, coreError(ErrCodeBadRequest, "cannot send a message to yourself")
	}

	question, cerr := c.persistTurn(ctx, store.NewMessage{
		Sender:    sender,
		Recipient: botID,
		Content:   content,
	}, store.StatusRead)
	if cerr != nil {
		return Message{}, cerr
	}
	answer, cerr := c.persistTurn(ctx, store.NewMessage{
		Sender:        botID,
		Recipient:     sender,
		Content:       c.router.responder.Respond(sender, content),
		IsBotResponse: true,
	}, store.StatusDelivered)
	if cerr != nil {
		return Message{}, cerr
	}

	c.router.sendTo(NewMessageEvent(question), sender)
	c.router.sendTo(NewMessageEvent(answer), sender)
	return answer, nil
}

func (c *Coordinator) persistTurn(ctx context.Context, m store.NewMessage, status store.MessageStatus) (Message, *CoreError) {
	rec, err := c.store.CreateMessage(ctx, m)
	if err != nil {
		c.log.Error().Err(err).Str("user", m.Sender).Msg("persist bot turn")
		return Message{}, coreError(ErrCodeStoreUnavailable, "message could not be stored")
	}
	if err := c.store.SetStatus(ctx, rec.ID, status); err != nil && !errors.Is(err, store.ErrStatusRegression) {
		c.log.Error().Err(err).Str("message_id", rec.ID).Msg("persist bot turn status")
		return Message{}, coreError(ErrCodeStoreUnavailable, "message could not be stored")
	}
	msg := MessageFromRecord(rec)
	msg.Status = status
	return msg, nil
}

// UpdateStatus moves a message's status forward on behalf of its recipient and
// notifies the original sender. expectedSender is checked against the stored
// sender when non-empty. The returned event doubles as the caller's ack.
// Acknowledging the status a message already has is a no-op.
func (c *Coordinator) UpdateStatus(ctx context.Context, actor, messageID, expectedSender string, status store.MessageStatus) (*Event, *CoreError) {
	if messageID == "" {
		return nil, coreError(ErrCodeBadRequest, "message_id is required")
	}
	if !status.Valid() {
		return nil, coreError(ErrCodeBadRequest, "unknown status")
	}

	msg, cerr := c.loadMessage(ctx, messageID)
	if cerr != nil {
		return nil, cerr
	}
	if msg.Recipient != actor {
		return nil, coreError(ErrCodeForbidden, "only the recipient can acknowledge a message")
	}
	if expectedSender != "" && expectedSender != msg.Sender {
		return nil, coreError(ErrCodeForbidden, "sender does not match message")
	}
	if msg.Status == status {
		// Repeated acks are answered but neither stored nor forwarded.
		return StatusUpdateEvent(messageID, status, msg.Sender), nil
	}
	if !msg.Status.Advances(status) {
		return nil, coreError(ErrCodeStatusRegression, "status cannot move from "+string(msg.Status)+" to "+string(status))
	}

	if err := c.store.SetStatus(ctx, messageID, status); err != nil {
		switch {
		case errors.Is(err, store.ErrStatusRegression):
			return nil, coreError(ErrCodeStatusRegression, "status already at or past "+string(status))
		case errors.Is(err, store.ErrNotFound):
			return nil, coreError(ErrCodeNotFound, "message not found")
		default:
			c.log.Error().Err(err).Str("message_id", messageID).Msg("persist status")
			return nil, coreError(ErrCodeStoreUnavailable, "status could not be stored")
		}
	}

	ev := StatusUpdateEvent(messageID, status, msg.Sender)
	c.router.Deliver(ctx, ev)
	return ev, nil
}

// EditMessage replaces the content of actor's own message and notifies both participants.
func (c *Coordinator) EditMessage(ctx context.Context, actor, messageID, content string) (Message, *CoreError) {
	if cerr := validateContent(content); cerr != nil {
		return Message{}, cerr
	}
	msg, cerr := c.loadMessage(ctx, messageID)
	if cerr != nil {
		return Message{}, cerr
	}
	if msg.Sender != actor {
		return Message{}, coreError(ErrCodeForbidden, "only the sender can edit a message")
	}
	if msg.Deleted {
		return Message{}, coreError(ErrCodeNotFound, "message not found")
	}

	rec, err := c.store.EditMessage(ctx, messageID, content)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Message{}, coreError(ErrCodeNotFound, "message not found")
		}
		c.log.Error().Err(err).Str("message_id", messageID).Msg("edit message")
		return Message{}, coreError(ErrCodeStoreUnavailable, "message could not be stored")
	}

	edited := MessageFromRecord(rec)
	c.router.Deliver(ctx, MessageEditedEvent(edited, edited.Recipient))
	return edited, nil
}

// DeleteMessage soft-deletes actor's own message and notifies both participants.
func (c *Coordinator) DeleteMessage(ctx context.Context, actor, messageID string) *CoreError {
	msg, cerr := c.loadMessage(ctx, messageID)
	if cerr != nil {
		return cerr
	}
	if msg.Sender != actor {
		return coreError(ErrCodeForbidden, "only the sender can delete a message")
	}
	if msg.Deleted {
		return coreError(ErrCodeNotFound, "message not found")
	}

	if err := c.store.DeleteMessage(ctx, messageID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return coreError(ErrCodeNotFound, "message not found")
		}
		c.log.Error().Err(err).Str("message_id", messageID).Msg("delete message")
		return coreError(ErrCodeStoreUnavailable, "message could not be deleted")
	}

	c.router.Deliver(ctx, MessageDeletedEvent(messageID, actor, msg.Recipient))
	return nil
}

// Typing forwards a typing signal to recipient's live connections.
func (c *Coordinator) Typing(ctx context.Context, sender, recipient string, isTyping bool) *CoreError {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return coreError(ErrCodeBadRequest, "recipient is required")
	}
	if recipient == sender {
		return coreError(ErrCodeBadRequest, "cannot signal typing to yourself")
	}
	c.router.Deliver(ctx, TypingEvent(sender, recipient, isTyping))
	return nil
}

func (c *Coordinator) loadMessage(ctx context.Context, id string) (*store.Message, *CoreError) {
	msg, err := c.store.GetMessage(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, coreError(ErrCodeNotFound, "message not found")
		}
		c.log.Error().Err(err).Str("message_id", id).Msg("load message")
		return nil, coreError(ErrCodeStoreUnavailable, "message could not be loaded")
	}
	return msg, nil
}

func validateContent(content string) *CoreError {
	if strings.TrimSpace(content) == "" {
		return coreError(ErrCodeBadRequest, "content is required")
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return coreError(ErrCodeBadRequest, "content is too long")
	}
	return nil
}
