package core

import (
	"context"

	"github.com/vovakirdan/whatsease-server/internal/store"
)

// IdentityResolver maps a credential to a stable user identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, credential string) (string, error)
}

// Store is the slice of persistence the core depends on.
// store.Store satisfies it.
type Store interface {
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	SetOnline(ctx context.Context, email string, online bool) error

	CreateMessage(ctx context.Context, m store.NewMessage) (*store.Message, error)
	GetMessage(ctx context.Context, id string) (*store.Message, error)
	SetStatus(ctx context.Context, id string, status store.MessageStatus) error
	EditMessage(ctx context.Context, id, content string) (*store.Message, error)
	DeleteMessage(ctx context.Context, id string) error
}

// Responder produces the bot's reply. It must always return some text.
type Responder interface {
	Respond(identity, text string) string
}
