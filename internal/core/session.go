package core

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/whatsease-server/internal/store"
)

// SessionState is the lifecycle position of one connection.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateAuthenticated
	StateRegistered
	StateActive
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateRegistered:
		return "registered"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const presenceStripes = 64

// Coordinator owns connection lifecycles and the actions clients can take.
type Coordinator struct {
	resolver IdentityResolver
	registry *Registry
	router   *Router
	store    Store
	log      zerolog.Logger

	// presence serializes register/deregister plus the matching presence
	// broadcast for identities hashing to the same stripe.
	presence [presenceStripes]sync.Mutex

	// lifecycle is held shared by Accept and Handle and exclusively by Shutdown.
	lifecycle sync.RWMutex
	closing   bool

	sessionsMu sync.Mutex
	sessions   map[*Session]struct{}
}

// NewCoordinator wires the coordinator to its collaborators.
func NewCoordinator(resolver IdentityResolver, registry *Registry, router *Router, st Store, logger *zerolog.Logger) *Coordinator {
	return &Coordinator{
		resolver: resolver,
		registry: registry,
		router:   router,
		store:    st,
		log:      componentLogger(logger, "coordinator"),
		sessions: make(map[*Session]struct{}),
	}
}

// Registry exposes the connection registry for read-only queries.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

func (c *Coordinator) lockFor(identity string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identity))
	return &c.presence[h.Sum32()%presenceStripes]
}

// Session is one authenticated connection. Handle must be called from a single
// goroutine; Close may be called from any goroutine.
type Session struct {
	coord *Coordinator
	conn  Conn
	user  string

	state     atomic.Int32
	closeOnce sync.Once
}

// Accept authenticates credential, registers conn under the resolved identity,
// announces the identity as online and acknowledges the connection.
// On ErrUnauthorized the registry is untouched. After Shutdown it returns ErrShuttingDown.
func (c *Coordinator) Accept(ctx context.Context, credential string, conn Conn) (*Session, error) {
	c.lifecycle.RLock()
	defer c.lifecycle.RUnlock()
	if c.closing {
		return nil, ErrShuttingDown
	}

	s := &Session{coord: c, conn: conn}
	s.setState(StateConnecting)

	identity, err := c.resolver.Resolve(ctx, credential)
	if err == nil && identity == "" {
		err = errors.New("empty identity")
	}
	if err != nil {
		s.setState(StateClosed)
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	s.user = identity
	if client, ok := conn.(*Client); ok {
		client.User = identity
	}
	s.setState(StateAuthenticated)

	c.track(s)
	lock := c.lockFor(identity)
	lock.Lock()
	c.registry.Register(identity, conn)
	s.setState(StateRegistered)
	if err := c.store.SetOnline(ctx, identity, true); err != nil {
		c.log.Warn().Err(err).Str("user", identity).Msg("persist online flag")
	}
	c.router.Deliver(ctx, PresenceEvent(identity, true))
	lock.Unlock()

	if err := conn.Send(EstablishedEvent(identity)); err != nil {
		s.Close(ctx)
		return nil, fmt.Errorf("send connection ack: %w", err)
	}
	s.setState(StateActive)

	c.log.Info().Str("user", identity).Str("conn_id", conn.ID()).Msg("session active")
	return s, nil
}

// User returns the session's identity.
func (s *Session) User() string {
	return s.user
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) setState(st SessionState) {
	s.state.Store(int32(st))
}

// Handle executes one inbound command. Rejections are answered with an error
// frame on this connection and leave the session active. Returns ErrClientClosed
// once the session is no longer active.
func (s *Session) Handle(ctx context.Context, cmd *Command) error {
	c := s.coord
	c.lifecycle.RLock()
	defer c.lifecycle.RUnlock()
	if s.State() != StateActive {
		return ErrClientClosed
	}

	switch cmd.Kind {
	case CommandSendMessage:
		if _, cerr := c.SubmitMessage(ctx, s.user, cmd.Recipient, cmd.Content, cmd.ReplyTo); cerr != nil {
			s.Reject(cerr)
		}
	case CommandTyping:
		if cerr := c.Typing(ctx, s.user, cmd.Recipient, cmd.IsTyping); cerr != nil {
			s.Reject(cerr)
		}
	case CommandMarkDelivered, CommandMarkRead:
		status := store.StatusDelivered
		if cmd.Kind == CommandMarkRead {
			status = store.StatusRead
		}
		if cmd.Sender == "" {
			s.Reject(coreError(ErrCodeBadRequest, "sender is required"))
			return nil
		}
		ev, cerr := c.UpdateStatus(ctx, s.user, cmd.MessageID, cmd.Sender, status)
		if cerr != nil {
			s.Reject(cerr)
			return nil
		}
		s.reply(ev)
	case CommandPing:
		s.reply(PongEvent())
	default:
		s.Reject(coreError(ErrCodeUnknownType, "unknown command"))
	}
	return nil
}

// Reject sends an error frame to this connection only.
func (s *Session) Reject(cerr *CoreError) {
	s.reply(ErrorEvent(cerr))
}

func (s *Session) reply(ev *Event) {
	if err := s.conn.Send(ev); err != nil {
		s.coord.log.Warn().Err(err).
			Str("user", s.user).
			Str("conn_id", s.conn.ID()).
			Str("event", ev.Kind.String()).
			Msg("reply failed, closing connection")
		s.conn.Close()
	}
}

// Close deregisters the connection. When it was the identity's last one the
// persisted flag is cleared and everyone else is told the identity went offline.
// Safe to call more than once.
func (s *Session) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)
		ctx = context.WithoutCancel(ctx)
		c := s.coord

		lock := c.lockFor(s.user)
		lock.Lock()
		c.registry.Deregister(s.conn)
		if !c.registry.IsOnline(s.user) {
			if err := c.store.SetOnline(ctx, s.user, false); err != nil {
				c.log.Warn().Err(err).Str("user", s.user).Msg("persist offline flag")
			}
			c.router.Deliver(ctx, PresenceEvent(s.user, false))
		}
		lock.Unlock()

		s.conn.Close()
		s.setState(StateClosed)
		c.untrack(s)
		c.log.Info().Str("user", s.user).Str("conn_id", s.conn.ID()).Msg("session closed")
	})
}

func (c *Coordinator) track(s *Session) {
	c.sessionsMu.Lock()
	c.sessions[s] = struct{}{}
	c.sessionsMu.Unlock()
}

func (c *Coordinator) untrack(s *Session) {
	c.sessionsMu.Lock()
	delete(c.sessions, s)
	c.sessionsMu.Unlock()
}

// Sessions returns the number of sessions that have not been closed yet.
func (c *Coordinator) Sessions() int {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()
	return len(c.sessions)
}

// Closing reports whether Shutdown has been called.
func (c *Coordinator) Closing() bool {
	c.lifecycle.RLock()
	defer c.lifecycle.RUnlock()
	return c.closing
}

// Shutdown stops accepting connections, waits for in-flight commands and then
// closes every live session, persisting offline flags and broadcasting presence.
// No session touches the store once Shutdown returns nil.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)

		c.lifecycle.Lock()
		c.closing = true
		c.lifecycle.Unlock()

		c.sessionsMu.Lock()
		live := make([]*Session, 0, len(c.sessions))
		for s := range c.sessions {
			live = append(live, s)
		}
		c.sessionsMu.Unlock()

		for _, s := range live {
			s.Close(ctx)
		}
		c.log.Info().Int("sessions", len(live)).Msg("coordinator stopped")
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
