package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vovakirdan/whatsease-server/internal/store"
	"github.com/vovakirdan/whatsease-server/internal/utils"
)

const pgUniqueViolation = "23505"

// PostgresStore implements store.Store on PostgreSQL through the pgx stdlib driver.
type PostgresStore struct {
	db *sql.DB
}

var _ store.Store = (*PostgresStore)(nil)

// New opens the database, verifies the connection and applies the schema.
func New(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Migrate runs idempotent DDL for the users and messages tables.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id              BIGSERIAL PRIMARY KEY,
			email           VARCHAR(255) NOT NULL UNIQUE,
			username        VARCHAR(100) NOT NULL,
			full_name       VARCHAR(100) NOT NULL DEFAULT '',
			hashed_password VARCHAR(255) NOT NULL,
			avatar_url      TEXT         NOT NULL DEFAULT '',
			bio             VARCHAR(500) NOT NULL DEFAULT '',
			is_active       BOOLEAN      NOT NULL DEFAULT TRUE,
			is_online       BOOLEAN      NOT NULL DEFAULT FALSE,
			last_seen       TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			created_at      TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id              BIGSERIAL   PRIMARY KEY,
			message_id      VARCHAR(36) NOT NULL UNIQUE,
			sender          VARCHAR(255) NOT NULL REFERENCES users(email),
			recipient       VARCHAR(255) NOT NULL REFERENCES users(email),
			content         TEXT        NOT NULL,
			timestamp       TIMESTAMPTZ NOT NULL,
			status          VARCHAR(16) NOT NULL DEFAULT 'Sent',
			is_bot_response BOOLEAN     NOT NULL DEFAULT FALSE,
			reply_to        VARCHAR(36),
			edited          BOOLEAN     NOT NULL DEFAULT FALSE,
			edited_at       TIMESTAMPTZ,
			deleted         BOOLEAN     NOT NULL DEFAULT FALSE
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

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

const userColumns = `id, email, username, full_name, hashed_password, avatar_url, bio, is_active, is_online, last_seen, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*store.User, error) {
	var u store.User
	if err := row.Scan(&u.ID, &u.Email, &u.Username, &u.FullName, &u.PasswordHash,
		&u.AvatarURL, &u.Bio, &u.IsActive, &u.IsOnline, &u.LastSeen, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *store.User) (*store.User, error) {
	query := `
		INSERT INTO users (email, username, full_name, hashed_password, avatar_url, bio)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + userColumns
	created, err := scanUser(s.db.QueryRowContext(ctx, query,
		u.Email, u.Username, u.FullName, u.PasswordHash, u.AvatarURL, u.Bio))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, store.ErrUserExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) EnsureUser(ctx context.Context, u *store.User) (*store.User, error) {
	query := `
		INSERT INTO users (email, username, full_name, hashed_password, avatar_url, bio)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (email) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query,
		u.Email, u.Username, u.FullName, u.PasswordHash, u.AvatarURL, u.Bio); err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return s.GetUserByEmail(ctx, u.Email)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", email, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context, limit, offset int) ([]*store.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE is_active = TRUE
		ORDER BY username ASC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return collectUsers(rows)
}

func (s *PostgresStore) SearchUsers(ctx context.Context, q string, limit int) ([]*store.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE is_active = TRUE
		  AND (username ILIKE '%' || $1 || '%' OR email ILIKE '%' || $1 || '%' OR full_name ILIKE '%' || $1 || '%')
		ORDER BY username ASC
		LIMIT $2
	`, q, limit)
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

func (s *PostgresStore) SetOnline(ctx context.Context, email string, online bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_online = $1, last_seen = NOW() WHERE email = $2`, online, email)
	if err != nil {
		return fmt.Errorf("update online flag: %w", err)
	}
	return expectOneRow(result, "user "+email)
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, email string, p store.ProfileUpdate) (*store.User, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET
			username   = COALESCE($1, username),
			full_name  = COALESCE($2, full_name),
			bio        = COALESCE($3, bio),
			avatar_url = COALESCE($4, avatar_url)
		WHERE email = $5
	`, p.Username, p.FullName, p.Bio, p.AvatarURL, email)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	if err := expectOneRow(result, "user "+email); err != nil {
		return nil, err
	}
	return s.GetUserByEmail(ctx, email)
}

const messageColumns = `message_id, sender, recipient, content, timestamp, status, is_bot_response, reply_to, edited, edited_at, deleted`

func scanMessage(row rowScanner) (*store.Message, error) {
	var (
		m        store.Message
		replyTo  sql.NullString
		editedAt sql.NullTime
	)
	if err := row.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Content, &m.Timestamp, &m.Status,
		&m.IsBotResponse, &replyTo, &m.Edited, &editedAt, &m.Deleted); err != nil {
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

func (s *PostgresStore) CreateMessage(ctx context.Context, nm store.NewMessage) (*store.Message, error) {
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (message_id, sender, recipient, content, timestamp, status, is_bot_response, reply_to)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, msg.ID, msg.Sender, msg.Recipient, msg.Content, msg.Timestamp, string(msg.Status), msg.IsBotResponse, msg.ReplyTo)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE message_id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	return m, nil
}

// statusRank renders store.MessageStatus.Rank as a SQL expression over column.
func statusRank(column string) string {
	var b strings.Builder
	b.WriteString("(CASE ")
	b.WriteString(column)
	for _, st := range []store.MessageStatus{store.StatusSent, store.StatusDelivered, store.StatusRead} {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", st, st.Rank())
	}
	b.WriteString(" ELSE 0 END)")
	return b.String()
}

// setStatusQuery only matches rows whose current status ranks below $3, so
// concurrent acks can never move a message backwards.
var setStatusQuery = `UPDATE messages SET status = $1 WHERE message_id = $2 AND ` + statusRank("status") + ` < $3`

func (s *PostgresStore) SetStatus(ctx context.Context, id string, status store.MessageStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	result, err := s.db.ExecContext(ctx, setStatusQuery, string(status), id, status.Rank())
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

func (s *PostgresStore) ListConversation(ctx context.Context, a, b string, limit, offset int) ([]*store.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE ((sender = $1 AND recipient = $2) OR (sender = $2 AND recipient = $1))
		  AND deleted = FALSE
		ORDER BY timestamp DESC, id DESC
		LIMIT $3 OFFSET $4
	`, a, b, limit, offset)
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

func (s *PostgresStore) CountConversation(ctx context.Context, a, b string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE ((sender = $1 AND recipient = $2) OR (sender = $2 AND recipient = $1))
		  AND deleted = FALSE
	`, a, b).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count conversation: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CountUnread(ctx context.Context, sender, recipient string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE sender = $1 AND recipient = $2 AND status <> 'Read' AND deleted = FALSE
	`, sender, recipient).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) EditMessage(ctx context.Context, id, content string) (*store.Message, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = $1, edited = TRUE, edited_at = NOW() WHERE message_id = $2 AND deleted = FALSE`,
		content, id)
	if err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}
	if err := expectOneRow(result, "message "+id); err != nil {
		return nil, err
	}
	return s.GetMessage(ctx, id)
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE messages SET deleted = TRUE WHERE message_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return expectOneRow(result, "message "+id)
}

func (s *PostgresStore) ListChats(ctx context.Context, email string) ([]*store.ChatSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT CASE WHEN sender = $1 THEN recipient ELSE sender END
		FROM messages
		WHERE (sender = $1 OR recipient = $1) AND deleted = FALSE
	`, email)
	if err != nil {
		return nil, fmt.Errorf("list chat partners: %w", err)
	}
	defer rows.Close()

	partners := make([]string, 0)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan chat partner: %w", err)
		}
		partners = append(partners, p)
	}
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
