package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a user or message does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStatusRegression is returned when a status update would not move the status forward.
	ErrStatusRegression = errors.New("status can only move forward")
	// ErrUserExists is returned when the e-mail is already registered.
	ErrUserExists = errors.New("user already exists")
)

// User represents a registered account. Email is the stable identity.
type User struct {
	ID           int64
	Email        string
	Username     string
	FullName     string
	PasswordHash string
	AvatarURL    string
	Bio          string
	IsActive     bool
	IsOnline     bool
	LastSeen     time.Time
	CreatedAt    time.Time
}

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	StatusSent      MessageStatus = "Sent"
	StatusDelivered MessageStatus = "Delivered"
	StatusRead      MessageStatus = "Read"
)

// Rank orders statuses; unknown statuses rank 0.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is one of the known statuses.
func (s MessageStatus) Valid() bool {
	return s.Rank() > 0
}

// Advances reports whether moving from s to next is a forward transition.
func (s MessageStatus) Advances(next MessageStatus) bool {
	return next.Valid() && next.Rank() > s.Rank()
}

// ParseStatus accepts the canonical spelling and lower-case variants.
func ParseStatus(raw string) (MessageStatus, bool) {
	switch raw {
	case "Sent", "sent":
		return StatusSent, true
	case "Delivered", "delivered":
		return StatusDelivered, true
	case "Read", "read":
		return StatusRead, true
	default:
		return "", false
	}
}

// Message represents a persisted direct message.
type Message struct {
	ID            string // UUID
	Sender        string
	Recipient     string
	Content       string
	Timestamp     time.Time
	Status        MessageStatus
	IsBotResponse bool
	ReplyTo       *string
	Edited        bool
	EditedAt      *time.Time
	Deleted       bool
}

// NewMessage describes a message to be created.
type NewMessage struct {
	Sender        string
	Recipient     string
	Content       string
	ReplyTo       *string
	IsBotResponse bool
}

// ProfileUpdate lists the profile fields a user may change. Nil fields are kept.
type ProfileUpdate struct {
	Username  *string
	FullName  *string
	Bio       *string
	AvatarURL *string
}

// ChatSummary describes one conversation in a user's chat list.
type ChatSummary struct {
	OtherEmail      string
	OtherUsername   string
	OtherAvatarURL  string
	OtherIsOnline   bool
	LastMessage     string
	LastMessageTime time.Time
	UnreadCount     int
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser inserts a user. Returns ErrUserExists on a duplicate e-mail.
	CreateUser(ctx context.Context, u *User) (*User, error)

	// EnsureUser creates the user if no account with that e-mail exists yet.
	EnsureUser(ctx context.Context, u *User) (*User, error)

	// GetUserByEmail retrieves an active user by e-mail.
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// ListUsers lists active users ordered by username.
	ListUsers(ctx context.Context, limit, offset int) ([]*User, error)

	// SearchUsers matches the query against username, e-mail and full name.
	SearchUsers(ctx context.Context, query string, limit int) ([]*User, error)

	// SetOnline updates the persisted online flag and last_seen.
	SetOnline(ctx context.Context, email string, online bool) error

	// UpdateProfile applies the non-nil fields of p.
	UpdateProfile(ctx context.Context, email string, p ProfileUpdate) (*User, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// CreateMessage persists a new message with status Sent and a generated id.
	CreateMessage(ctx context.Context, m NewMessage) (*Message, error)

	// GetMessage retrieves a message by id, including soft-deleted ones.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// SetStatus moves the message status forward. Returns ErrNotFound or ErrStatusRegression.
	SetStatus(ctx context.Context, id string, status MessageStatus) error

	// ListConversation lists non-deleted messages between two users, newest first.
	ListConversation(ctx context.Context, a, b string, limit, offset int) ([]*Message, error)

	// CountConversation counts non-deleted messages between two users.
	CountConversation(ctx context.Context, a, b string) (int, error)

	// CountUnread counts messages from sender to recipient that are not yet Read.
	CountUnread(ctx context.Context, sender, recipient string) (int, error)

	// EditMessage replaces the content and marks the message edited.
	EditMessage(ctx context.Context, id, content string) (*Message, error)

	// DeleteMessage soft-deletes a message.
	DeleteMessage(ctx context.Context, id string) error

	// ListChats summarizes every conversation email takes part in, most recent first.
	ListChats(ctx context.Context, email string) ([]*ChatSummary, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
