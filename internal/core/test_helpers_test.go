package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/whatsease-server/internal/store"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// drain empties ch and returns what was queued.
func drain(ch <-chan *Event) []*Event {
	var out []*Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countKind(events []*Event, kind EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

var errStoreDown = errors.New("store down")

// memStore is an in-memory Store with failure switches.
type memStore struct {
	mu       sync.Mutex
	users    map[string]*store.User
	messages map[string]*store.Message
	online   map[string]bool
	seq      int

	failCreate bool
	failOnline bool
}

func newMemStore(emails ...string) *memStore {
	s := &memStore{
		users:    make(map[string]*store.User),
		messages: make(map[string]*store.Message),
		online:   make(map[string]bool),
	}
	for _, e := range emails {
		s.users[e] = &store.User{Email: e, Username: e, IsActive: true}
	}
	return s
}

func (s *memStore) GetUserByEmail(_ context.Context, email string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) SetOnline(_ context.Context, email string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOnline {
		return errStoreDown
	}
	s.online[email] = online
	return nil
}

func (s *memStore) isOnline(email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online[email]
}

func (s *memStore) CreateMessage(_ context.Context, m store.NewMessage) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate {
		return nil, errStoreDown
	}
	s.seq++
	rec := &store.Message{
		ID:            fmt.Sprintf("m-%d", s.seq),
		Sender:        m.Sender,
		Recipient:     m.Recipient,
		Content:       m.Content,
		Timestamp:     time.Now().UTC(),
		Status:        store.StatusSent,
		IsBotResponse: m.IsBotResponse,
		ReplyTo:       m.ReplyTo,
	}
	s.messages[rec.ID] = rec
	cp := *rec
	return &cp, nil
}

func (s *memStore) GetMessage(_ context.Context, id string) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) SetStatus(_ context.Context, id string, status store.MessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return store.ErrNotFound
	}
	if !m.Status.Advances(status) {
		return store.ErrStatusRegression
	}
	m.Status = status
	return nil
}

func (s *memStore) EditMessage(_ context.Context, id, content string) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	m.Content = content
	m.Edited = true
	cp := *m
	return &cp, nil
}

func (s *memStore) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return store.ErrNotFound
	}
	m.Deleted = true
	return nil
}

func (s *memStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *memStore) status(id string) store.MessageStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[id].Status
}

// tokenResolver treats "token:<email>" as a valid credential.
type tokenResolver struct{}

func (tokenResolver) Resolve(_ context.Context, credential string) (string, error) {
	const prefix = "token:"
	if len(credential) <= len(prefix) || credential[:len(prefix)] != prefix {
		return "", errors.New("bad token")
	}
	return credential[len(prefix):], nil
}

type echoResponder struct{}

func (echoResponder) Respond(_ string, text string) string {
	return "echo: " + text
}

// brokenConn rejects every send and counts Close calls.
type brokenConn struct {
	id     string
	mu     sync.Mutex
	closed int
}

func (b *brokenConn) ID() string { return b.id }

func (b *brokenConn) Send(*Event) error { return ErrSlowConsumer }

func (b *brokenConn) Close() {
	b.mu.Lock()
	b.closed++
	b.mu.Unlock()
}

func (b *brokenConn) closeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

const botEmail = "bot@whatsease.local"

type harness struct {
	store    *memStore
	registry *Registry
	router   *Router
	coord    *Coordinator
}

func newHarness(emails ...string) *harness {
	logger := zerolog.Nop()
	st := newMemStore(append(emails, botEmail)...)
	reg := NewRegistry()
	router := NewRouter(reg, st, echoResponder{}, RouterConfig{BotIdentity: botEmail}, &logger)
	coord := NewCoordinator(tokenResolver{}, reg, router, st, &logger)
	return &harness{store: st, registry: reg, router: router, coord: coord}
}

// connect accepts a fresh client for email and discards its handshake frames.
func (h *harness) connect(t *testing.T, email, id string) (*Session, *Client) {
	t.Helper()
	client := NewClient(id, 16)
	s, err := h.coord.Accept(context.Background(), "token:"+email, client)
	if err != nil {
		t.Fatalf("accept %s: %v", email, err)
	}
	mustEvent(t, client.Events, EventConnectionEstablished)
	return s, client
}
