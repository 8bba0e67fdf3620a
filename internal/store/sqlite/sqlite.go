package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/whatsease-server/internal/store"
	"github.com/vovakirdan/whatsease-server/internal/utils"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteStore)(nil)

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, Migrate)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema or seed rows.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Migrate runs idempotent DDL for the users and messages tables.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			email           TEXT NOT NULL UNIQUE,
			username        TEXT NOT NULL,
			full_name       TEXT NOT NULL DEFAULT '',
			hashed_password TEXT NOT NULL,
			avatar_url      TEXT NOT NULL DEFAULT '',
			bio             TEXT NOT NULL DEFAULT '',
			is_active       BOOLEAN NOT NULL DEFAULT 1,
			is_online       BOOLEAN NOT NULL DEFAULT 0,
			last_seen       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id      TEXT NOT NULL UNIQUE,
			sender          TEXT NOT NULL REFERENCES users(email),
			recipient       TEXT NOT NULL REFERENCES users(email),
			content         TEXT NOT NULL,
			timestamp       DATETIME NOT NULL,
			status          TEXT NOT NULL DEFAULT 'Sent',
			is_bot_response BOOLEAN NOT NULL DEFAULT 0,
			reply_to        TEXT,
			edited          BOOLEAN NOT NULL DEFAULT 0,
			edited_at       DATETIME,
			deleted         BOOLEAN NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender, recipient, timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient, status)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

const userColumns = `id, email, username, full_name, hashed_password, avatar_url, bio, is_active, is_online, last_seen, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*store.User, error) {
	var u store.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Username,
		&u.FullName,
		&u.PasswordHash,
		&u.AvatarURL,
		&u.Bio,
		&u.IsActive,
		&u.IsOnline,
		&u.LastSeen,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new user.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *store.User) (*store.User, error) {
	query := `
		INSERT INTO users (email, username, full_name, hashed_password, avatar_url, bio, is_active)
		VALUES (?, ?, ?, ?, ?, ?, 1)
	`
	_, err := s.db.ExecContext(ctx, query, u.Email, u.Username, u.FullName, u.PasswordHash, u.AvatarURL, u.Bio)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, store.ErrUserExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return s.GetUserByEmail(ctx, u.Email)
}

// EnsureUser returns the existing user with u.Email or creates it.
func (s *SQLiteStore) EnsureUser(ctx context.Context, u *store.User) (*store.User, error) {
	existing, err := s.GetUserByEmail(ctx, u.Email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	created, err := s.CreateUser(ctx, u)
	if errors.Is(err, store.ErrUserExists) {
		return s.GetUserByEmail(ctx, u.Email)
	}
	return created, err
}

// GetUserByEmail retrieves a user by e-mail.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = ?`
	u, err := scanUser(s.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", email, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

// ListUsers lists active users.
func (s *SQLiteStore) ListUsers(ctx context.Context, limit, offset int) ([]*store.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE is_active = 1
		ORDER BY username ASC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return collectUsers(rows)
}

// SearchUsers searches active users by username, e-mail or full name.
func (s *SQLiteStore) SearchUsers(ctx context.Context, q string, limit int) ([]*store.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE is_active = 1
		  AND (username LIKE '%' || ? || '%' OR email LIKE '%' || ? || '%' OR full_name LIKE '%' || ? || '%')
		ORDER BY username ASC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, q, q, q, limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return collectUsers(rows)
}

func collectUsers(rows *sql.Rows) ([]*store.User, error) {
	defer rows.Close()

	users := make([]*store.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetOnline updates the persisted online flag.
func (s *SQLiteStore) SetOnline(ctx context.Context, email string, online bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_online = ?, last_seen = ? WHERE email = ?`,
		online, time.Now().UTC(), email,
	)
	if err != nil {
		return fmt.Errorf("update online flag: %w", err)
	}
	return expectOneRow(result, "user "+email)
}

// UpdateProfile applies the non-nil fields of p.
func (s *SQLiteStore) UpdateProfile(ctx context.Context, email string, p store.ProfileUpdate) (*store.User, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET
			username   = COALESCE(?, username),
			full_name  = COALESCE(?, full_name),
			bio        = COALESCE(?, bio),
			avatar_url = COALESCE(?, avatar_url)
		WHERE email = ?
	`, p.Username, p.FullName, p.Bio, p.AvatarURL, email)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	if err := expectOneRow(result, "user "+email); err != nil {
		return nil, err
	}
	return s.GetUserByEmail(ctx, email)
}

// ==== MessageStore implementation ====

const messageColumns = `message_id, sender, recipient, content, timestamp, status, is_bot_response, reply_to, edited, edited_at, deleted`

func scanMessage(row rowScanner) (*store.Message, error) {
	var (
		m        store.Message
		replyTo  sql.NullString
		editedAt sql.NullTime
	)
	err := row.Scan(
		&m.ID,
		&m.Sender,
		&m.Recipient,
		&m.Content,
		&m.Timestamp,
		&m.Status,
		&m.IsBotResponse,
		&replyTo,
		&m.Edited,
		&editedAt,
		&m.Deleted,
	)
	if err != nil {
		return nil, err
	}
	if replyTo.Valid {
		m.ReplyTo = &replyTo.String
	}
	if editedAt.Valid {
		m.EditedAt = &editedAt.Time
	}
	return &m, nil
}

// CreateMessage persists a new message with status Sent.
func (s *SQLiteStore) CreateMessage(ctx context.Context, nm store.NewMessage) (*store.Message, error) {
	msg := &store.Message{
		ID:            utils.NewID(),
		Sender:        nm.Sender,
		Recipient:     nm.Recipient,
		Content:       nm.Content,
		Timestamp:     time.Now().UTC(),
		Status:        store.StatusSent,
		IsBotResponse: nm.IsBotResponse,
		ReplyTo:       nm.ReplyTo,
	}

	query := `
		INSERT INTO messages (message_id, sender, recipient, content, timestamp, status, is_bot_response, reply_to)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.Sender, msg.Recipient, msg.Content, msg.Timestamp, msg.Status, msg.IsBotResponse, msg.ReplyTo,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// GetMessage retrieves a message by id.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE message_id = ?`
	m, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	return m, nil
}

// SetStatus moves a message status forward in a single conditional update.
func (s *SQLiteStore) SetStatus(ctx context.Context, id string, status store.MessageStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	query := `
		UPDATE messages SET status = ?
		WHERE message_id = ?
		  AND (CASE status WHEN 'Sent' THEN 1 WHEN 'Delivered' THEN 2 WHEN 'Read' THEN 3 ELSE 0 END) < ?
	`
	result, err := s.db.ExecContext(ctx, query, status, id, status.Rank())
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	if _, err := s.GetMessage(ctx, id); err != nil {
		return err
	}
	return store.ErrStatusRegression
}

// ListConversation lists messages exchanged between a and b, newest first.
func (s *SQLiteStore) ListConversation(ctx context.Context, a, b string, limit, offset int) ([]*store.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE ((sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?))
		  AND deleted = 0
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, a, b, b, a, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	defer rows.Close()

	msgs := make([]*store.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// CountConversation counts non-deleted messages between a and b.
func (s *SQLiteStore) CountConversation(ctx context.Context, a, b string) (int, error) {
	query := `
		SELECT COUNT(*) FROM messages
		WHERE ((sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?))
		  AND deleted = 0
	`
	var n int
	if err := s.db.QueryRowContext(ctx, query, a, b, b, a).Scan(&n); err != nil {
		return 0, fmt.Errorf("count conversation: %w", err)
	}
	return n, nil
}

// CountUnread counts messages from sender to recipient that are not yet Read.
func (s *SQLiteStore) CountUnread(ctx context.Context, sender, recipient string) (int, error) {
	query := `
		SELECT COUNT(*) FROM messages
		WHERE sender = ? AND recipient = ? AND status != 'Read' AND deleted = 0
	`
	var n int
	if err := s.db.QueryRowContext(ctx, query, sender, recipient).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// EditMessage replaces message content.
func (s *SQLiteStore) EditMessage(ctx context.Context, id, content string) (*store.Message, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?, edited = 1, edited_at = ? WHERE message_id = ? AND deleted = 0`,
		content, time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}
	if err := expectOneRow(result, "message "+id); err != nil {
		return nil, err
	}
	return s.GetMessage(ctx, id)
}

// DeleteMessage soft-deletes a message.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE messages SET deleted = 1 WHERE message_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return expectOneRow(result, "message "+id)
}

// ListChats summarizes every conversation email takes part in.
func (s *SQLiteStore) ListChats(ctx context.Context, email string) ([]*store.ChatSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT CASE WHEN sender = ? THEN recipient ELSE sender END
		FROM messages
		WHERE (sender = ? OR recipient = ?) AND deleted = 0
	`, email, email, email)
	if err != nil {
		return nil, fmt.Errorf("list chat partners: %w", err)
	}
	partners := make([]string, 0)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan chat partner: %w", err)
		}
		partners = append(partners, p)
	}
	// The pool holds a single connection, so rows must be released before the follow-up queries.
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return store.CollectChats(ctx, s, email, partners)
}

func expectOneRow(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return nil
}
