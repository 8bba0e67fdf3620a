package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/whatsease-server/internal/store"
)

const (
	alice = "alice@example.com"
	bob   = "bob@example.com"
)

func TestAcceptRejectsBadCredential(t *testing.T) {
	h := newHarness(alice)
	client := NewClient("x", 4)

	s, err := h.coord.Accept(context.Background(), "garbage", client)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.Nil(t, s)
	assert.Empty(t, h.registry.OnlineIdentities())
	assert.Empty(t, drain(client.Events))
}

func TestAcceptAnnouncesPresenceToOthersOnly(t *testing.T) {
	h := newHarness(alice, bob)
	_, bobClient := h.connect(t, bob, "b1")

	aliceClient := NewClient("a1", 8)
	s, err := h.coord.Accept(context.Background(), "token:"+alice, aliceClient)
	require.NoError(t, err)
	assert.Equal(t, StateActive, s.State())
	assert.Equal(t, alice, aliceClient.User)
	assert.True(t, h.store.isOnline(alice))

	ev := mustEvent(t, bobClient.Events, EventPresence)
	assert.Equal(t, alice, ev.User)
	assert.True(t, ev.Online)

	frames := drain(aliceClient.Events)
	require.Len(t, frames, 1)
	assert.Equal(t, EventConnectionEstablished, frames[0].Kind)
}

func TestCloseBroadcastsOfflineOnlyForLastConnection(t *testing.T) {
	h := newHarness(alice, bob)
	_, bobClient := h.connect(t, bob, "b1")
	first, _ := h.connect(t, alice, "a1")
	second, _ := h.connect(t, alice, "a2")
	drain(bobClient.Events)

	ctx := context.Background()
	first.Close(ctx)
	assert.True(t, h.registry.IsOnline(alice))
	assert.Equal(t, 0, countKind(drain(bobClient.Events), EventPresence))
	assert.True(t, h.store.isOnline(alice))

	second.Close(ctx)
	second.Close(ctx)
	assert.False(t, h.registry.IsOnline(alice))
	assert.False(t, h.store.isOnline(alice))
	assert.Equal(t, StateClosed, second.State())

	events := drain(bobClient.Events)
	require.Equal(t, 1, countKind(events, EventPresence))
	assert.False(t, events[0].Online)
}

func TestCloseAfterRouterDroppedConnection(t *testing.T) {
	h := newHarness(alice, bob)
	_, bobClient := h.connect(t, bob, "b1")
	s, aliceClient := h.connect(t, alice, "a1")
	drain(bobClient.Events)

	h.registry.Deregister(aliceClient)
	s.Close(context.Background())

	ev := mustEvent(t, bobClient.Events, EventPresence)
	assert.Equal(t, alice, ev.User)
	assert.False(t, ev.Online)
}

func TestPresenceFlagFailureIsNotFatal(t *testing.T) {
	h := newHarness(alice)
	h.store.failOnline = true

	s, _ := h.connect(t, alice, "a1")
	assert.Equal(t, StateActive, s.State())
	s.Close(context.Background())
	assert.Equal(t, StateClosed, s.State())
}

func TestSendMessageEchoesAndDelivers(t *testing.T) {
	h := newHarness(alice, bob)
	ctx := context.Background()
	as, aliceClient := h.connect(t, alice, "a1")
	_, aliceTab := h.connect(t, alice, "a2")
	_, bobClient := h.connect(t, bob, "b1")
	drain(aliceClient.Events)
	drain(aliceTab.Events)

	require.NoError(t, as.Handle(ctx, &Command{Kind: CommandSendMessage, Recipient: bob, Content: "hello"}))

	got := mustEvent(t, bobClient.Events, EventNewMessage)
	assert.Equal(t, "hello", got.Message.Content)
	assert.Equal(t, alice, got.Message.Sender)
	assert.Equal(t, store.StatusDelivered, got.Message.Status)

	mustEvent(t, aliceClient.Events, EventNewMessage)
	mustEvent(t, aliceTab.Events, EventNewMessage)
}

func TestSendMessageRejections(t *testing.T) {
	cases := []struct {
		name string
		cmd  *Command
		code string
	}{
		{"self send", &Command{Kind: CommandSendMessage, Recipient: alice, Content: "hi"}, ErrCodeBadRequest},
		{"empty content", &Command{Kind: CommandSendMessage, Recipient: bob, Content: "   "}, ErrCodeBadRequest},
		{"too long", &Command{Kind: CommandSendMessage, Recipient: bob, Content: strings.Repeat("x", MaxContentLength+1)}, ErrCodeBadRequest},
		{"missing recipient", &Command{Kind: CommandSendMessage, Content: "hi"}, ErrCodeBadRequest},
		{"unknown recipient", &Command{Kind: CommandSendMessage, Recipient: "nobody@example.com", Content: "hi"}, ErrCodeRecipientNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(alice, bob)
			s, client := h.connect(t, alice, "a1")

			require.NoError(t, s.Handle(context.Background(), tc.cmd))
			ev := mustEvent(t, client.Events, EventError)
			assert.Equal(t, tc.code, ev.Error.Code)
			assert.Equal(t, 0, h.store.messageCount())
			assert.Equal(t, StateActive, s.State())
		})
	}
}

func TestSendMessageStoreFailureDoesNotEcho(t *testing.T) {
	h := newHarness(alice, bob)
	s, aliceClient := h.connect(t, alice, "a1")
	_, bobClient := h.connect(t, bob, "b1")
	drain(aliceClient.Events)
	h.store.failCreate = true

	require.NoError(t, s.Handle(context.Background(), &Command{Kind: CommandSendMessage, Recipient: bob, Content: "hi"}))

	events := drain(aliceClient.Events)
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Kind)
	assert.Equal(t, ErrCodeStoreUnavailable, events[0].Error.Code)
	assert.Equal(t, 0, countKind(drain(bobClient.Events), EventNewMessage))
}

func TestStatusAcknowledgementIsMonotonic(t *testing.T) {
	h := newHarness(alice, bob)
	ctx := context.Background()
	as, aliceClient := h.connect(t, alice, "a1")
	bs, bobClient := h.connect(t, bob, "b1")

	require.NoError(t, as.Handle(ctx, &Command{Kind: CommandSendMessage, Recipient: bob, Content: "hi"}))
	msg := mustEvent(t, bobClient.Events, EventNewMessage).Message
	drain(aliceClient.Events)

	require.NoError(t, bs.Handle(ctx, &Command{Kind: CommandMarkRead, MessageID: msg.ID, Sender: alice}))
	ack := mustEvent(t, bobClient.Events, EventStatusUpdate)
	assert.Equal(t, store.StatusRead, ack.Status)
	update := mustEvent(t, aliceClient.Events, EventStatusUpdate)
	assert.Equal(t, msg.ID, update.MessageID)
	assert.Equal(t, store.StatusRead, update.Status)

	require.NoError(t, bs.Handle(ctx, &Command{Kind: CommandMarkDelivered, MessageID: msg.ID, Sender: alice}))
	ev := mustEvent(t, bobClient.Events, EventError)
	assert.Equal(t, ErrCodeStatusRegression, ev.Error.Code)
	assert.Equal(t, store.StatusRead, h.store.status(msg.ID))
	assert.Equal(t, 0, countKind(drain(aliceClient.Events), EventStatusUpdate))
}

func TestStatusAcknowledgementAuthorization(t *testing.T) {
	h := newHarness(alice, bob, "carol@example.com")
	ctx := context.Background()
	as, aliceClient := h.connect(t, alice, "a1")
	bs, bobClient := h.connect(t, bob, "b1")

	require.NoError(t, as.Handle(ctx, &Command{Kind: CommandSendMessage, Recipient: bob, Content: "hi"}))
	msg := mustEvent(t, bobClient.Events, EventNewMessage).Message
	drain(aliceClient.Events)

	// The sender cannot acknowledge its own message.
	require.NoError(t, as.Handle(ctx, &Command{Kind: CommandMarkRead, MessageID: msg.ID, Sender: alice}))
	assert.Equal(t, ErrCodeForbidden, mustEvent(t, aliceClient.Events, EventError).Error.Code)

	// The claimed sender must match.
	require.NoError(t, bs.Handle(ctx, &Command{Kind: CommandMarkRead, MessageID: msg.ID, Sender: "carol@example.com"}))
	assert.Equal(t, ErrCodeForbidden, mustEvent(t, bobClient.Events, EventError).Error.Code)

	require.NoError(t, bs.Handle(ctx, &Command{Kind: CommandMarkRead, MessageID: "missing", Sender: alice}))
	assert.Equal(t, ErrCodeNotFound, mustEvent(t, bobClient.Events, EventError).Error.Code)

	require.NoError(t, bs.Handle(ctx, &Command{Kind: CommandMarkRead, MessageID: msg.ID}))
	assert.Equal(t, ErrCodeBadRequest, mustEvent(t, bobClient.Events, EventError).Error.Code)
}

func TestTypingReachesOnlyTarget(t *testing.T) {
	h := newHarness(alice, bob, "carol@example.com")
	as, aliceClient := h.connect(t, alice, "a1")
	_, bobClient := h.connect(t, bob, "b1")
	_, carolClient := h.connect(t, "carol@example.com", "c1")
	drain(aliceClient.Events)
	drain(carolClient.Events)

	require.NoError(t, as.Handle(context.Background(), &Command{Kind: CommandTyping, Recipient: bob, IsTyping: true}))

	ev := mustEvent(t, bobClient.Events, EventTyping)
	assert.Equal(t, alice, ev.User)
	assert.Empty(t, drain(carolClient.Events))
	assert.Empty(t, drain(aliceClient.Events))
}

func TestPingAnsweredOnSameConnection(t *testing.T) {
	h := newHarness(alice)
	s, client := h.connect(t, alice, "a1")
	_, other := h.connect(t, alice, "a2")

	require.NoError(t, s.Handle(context.Background(), &Command{Kind: CommandPing}))
	mustEvent(t, client.Events, EventPong)
	assert.Equal(t, 0, countKind(drain(other.Events), EventPong))
}

func TestHandleAfterCloseFails(t *testing.T) {
	h := newHarness(alice)
	s, _ := h.connect(t, alice, "a1")
	s.Close(context.Background())

	err := s.Handle(context.Background(), &Command{Kind: CommandPing})
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestBotRoundTrip(t *testing.T) {
	h := newHarness(alice)
	ctx := context.Background()
	s, client := h.connect(t, alice, "a1")

	require.NoError(t, s.Handle(ctx, &Command{Kind: CommandSendMessage, Recipient: botEmail, Content: "hello"}))
	h.router.Wait()

	events := drain(client.Events)
	var replies []*Event
	for _, ev := range events {
		if ev.Kind == EventNewMessage && ev.Message.Sender == botEmail {
			replies = append(replies, ev)
		}
	}
	require.Len(t, replies, 1)
	assert.Equal(t, "echo: hello", replies[0].Message.Content)
	assert.True(t, replies[0].Message.IsBotResponse)
	assert.Equal(t, alice, replies[0].Message.Recipient)
	assert.Equal(t, 2, h.store.messageCount())
}

func TestEditAndDeleteNotifyBothParticipants(t *testing.T) {
	h := newHarness(alice, bob)
	ctx := context.Background()
	as, aliceClient := h.connect(t, alice, "a1")
	_, bobClient := h.connect(t, bob, "b1")

	require.NoError(t, as.Handle(ctx, &Command{Kind: CommandSendMessage, Recipient: bob, Content: "hi"}))
	msg := mustEvent(t, bobClient.Events, EventNewMessage).Message

	_, cerr := h.coord.EditMessage(ctx, bob, msg.ID, "hijack")
	require.NotNil(t, cerr)
	assert.Equal(t, ErrCodeForbidden, cerr.Code)

	edited, cerr := h.coord.EditMessage(ctx, alice, msg.ID, "hi there")
	require.Nil(t, cerr)
	assert.True(t, edited.Edited)
	assert.Equal(t, "hi there", mustEvent(t, bobClient.Events, EventMessageEdited).Message.Content)
	mustEvent(t, aliceClient.Events, EventMessageEdited)

	require.Nil(t, h.coord.DeleteMessage(ctx, alice, msg.ID))
	assert.Equal(t, msg.ID, mustEvent(t, bobClient.Events, EventMessageDeleted).MessageID)
	mustEvent(t, aliceClient.Events, EventMessageDeleted)

	cerr = h.coord.DeleteMessage(ctx, alice, msg.ID)
	require.NotNil(t, cerr)
	assert.Equal(t, ErrCodeNotFound, cerr.Code)
}

func TestSubmitMessageReportsDeliveredStatus(t *testing.T) {
	h := newHarness(alice, bob)
	ctx := context.Background()

	offline, cerr := h.coord.SubmitMessage(ctx, alice, bob, "first", nil)
	require.Nil(t, cerr)
	assert.Equal(t, store.StatusSent, offline.Status)

	h.connect(t, bob, "b1")
	online, cerr := h.coord.SubmitMessage(ctx, alice, bob, "second", nil)
	require.Nil(t, cerr)
	assert.Equal(t, store.StatusDelivered, online.Status)
	assert.Equal(t, store.StatusDelivered, h.store.status(online.ID))
}

func TestUpdateStatusRejectsMovingBackToSent(t *testing.T) {
	h := newHarness(alice, bob)
	ctx := context.Background()
	h.connect(t, bob, "b1")

	msg, cerr := h.coord.SubmitMessage(ctx, alice, bob, "hi", nil)
	require.Nil(t, cerr)
	require.Equal(t, store.StatusDelivered, msg.Status)

	_, cerr = h.coord.UpdateStatus(ctx, bob, msg.ID, "", store.StatusSent)
	require.NotNil(t, cerr)
	assert.Equal(t, ErrCodeStatusRegression, cerr.Code)

	_, cerr = h.coord.UpdateStatus(ctx, bob, msg.ID, "", store.StatusRead)
	assert.Nil(t, cerr)

	_, cerr = h.coord.UpdateStatus(ctx, bob, msg.ID, "", store.MessageStatus("Lost"))
	require.NotNil(t, cerr)
	assert.Equal(t, ErrCodeBadRequest, cerr.Code)
}

func TestRepeatedAckIsNoOp(t *testing.T) {
	h := newHarness(alice, bob)
	ctx := context.Background()
	_, aliceClient := h.connect(t, alice, "a1")
	bs, bobClient := h.connect(t, bob, "b1")

	msg, cerr := h.coord.SubmitMessage(ctx, alice, bob, "hi", nil)
	require.Nil(t, cerr)
	require.Equal(t, store.StatusDelivered, msg.Status)
	drain(aliceClient.Events)
	drain(bobClient.Events)

	require.NoError(t, bs.Handle(ctx, &Command{Kind: CommandMarkDelivered, MessageID: msg.ID, Sender: alice}))
	events := drain(bobClient.Events)
	require.Len(t, events, 1)
	assert.Equal(t, EventStatusUpdate, events[0].Kind)
	assert.Equal(t, store.StatusDelivered, events[0].Status)
	assert.Empty(t, drain(aliceClient.Events))
	assert.Equal(t, store.StatusDelivered, h.store.status(msg.ID))

	require.NoError(t, bs.Handle(ctx, &Command{Kind: CommandMarkRead, MessageID: msg.ID, Sender: alice}))
	update := mustEvent(t, aliceClient.Events, EventStatusUpdate)
	assert.Equal(t, store.StatusRead, update.Status)

	_, cerr = h.coord.UpdateStatus(ctx, bob, msg.ID, alice, store.StatusRead)
	assert.Nil(t, cerr)
	_, cerr = h.coord.UpdateStatus(ctx, bob, msg.ID, alice, store.StatusDelivered)
	require.NotNil(t, cerr)
	assert.Equal(t, ErrCodeStatusRegression, cerr.Code)
}

func TestAskBotStoresBothTurns(t *testing.T) {
	h := newHarness(alice)
	ctx := context.Background()
	_, aliceClient := h.connect(t, alice, "a1")

	answer, cerr := h.coord.AskBot(ctx, alice, "ping")
	require.Nil(t, cerr)
	assert.Equal(t, botEmail, answer.Sender)
	assert.Equal(t, alice, answer.Recipient)
	assert.Equal(t, "echo: ping", answer.Content)
	assert.True(t, answer.IsBotResponse)
	assert.Equal(t, store.StatusDelivered, answer.Status)
	assert.Equal(t, store.StatusDelivered, h.store.status(answer.ID))
	assert.Equal(t, 2, h.store.messageCount())

	events := drain(aliceClient.Events)
	require.Equal(t, 2, countKind(events, EventNewMessage))
	question := events[0].Message
	assert.Equal(t, alice, question.Sender)
	assert.Equal(t, store.StatusRead, question.Status)
	assert.Equal(t, store.StatusRead, h.store.status(question.ID))

	h.router.Wait()
	assert.Equal(t, 2, h.store.messageCount(), "no delayed reply for a synchronous question")
}

func TestAskBotRejections(t *testing.T) {
	h := newHarness(alice)
	ctx := context.Background()

	_, cerr := h.coord.AskBot(ctx, alice, "   ")
	require.NotNil(t, cerr)
	assert.Equal(t, ErrCodeBadRequest, cerr.Code)

	h.store.failCreate = true
	_, cerr = h.coord.AskBot(ctx, alice, "hi")
	require.NotNil(t, cerr)
	assert.Equal(t, ErrCodeStoreUnavailable, cerr.Code)

	logger := zerolog.Nop()
	plain := NewRouter(h.registry, h.store, nil, RouterConfig{}, &logger)
	coord := NewCoordinator(tokenResolver{}, h.registry, plain, h.store, &logger)
	_, cerr = coord.AskBot(ctx, alice, "hi")
	require.NotNil(t, cerr)
	assert.Equal(t, ErrCodeNotFound, cerr.Code)
}
