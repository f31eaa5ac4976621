package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/roamchat/internal/store"
)

const dsnOptions = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, ApplySchema)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema variations.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps :memory: databases alive.
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

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// ==== UserStore implementation ====

// UpsertUser creates or refreshes a profile.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *store.User) error {
	now := time.Now()
	query := `
		INSERT INTO users (id, display_name, avatar_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE users.display_name END,
			avatar_url   = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE users.avatar_url END,
			updated_at   = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, user.ID, user.DisplayName, user.AvatarURL, toMillis(now), toMillis(now)); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// GetUser retrieves a profile by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*store.User, error) {
	query := `
		SELECT id, display_name, avatar_url, created_at, updated_at
		FROM users
		WHERE id = ?
	`
	var user store.User
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.DisplayName,
		&user.AvatarURL,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	user.CreatedAt = fromMillis(createdAt)
	user.UpdatedAt = fromMillis(updatedAt)

	return &user, nil
}

// ==== ChatStore implementation ====

// CreateChat creates a chat and adds the given participants.
func (s *SQLiteStore) CreateChat(ctx context.Context, chat *store.Chat, participantIDs []string) error {
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op
	}()

	query := `
		INSERT INTO chats (id, name, is_group, created_by, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query, chat.ID, chat.Name, chat.IsGroup, chat.CreatedBy, toMillis(chat.CreatedAt)); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert chat: %w", store.ErrConflict)
		}
		return fmt.Errorf("insert chat: %w", err)
	}

	memberQuery := `
		INSERT OR IGNORE INTO chat_participants (chat_id, user_id, joined_at)
		VALUES (?, ?, ?)
	`
	for i, userID := range participantIDs {
		// Offset join times so ListParticipants keeps the given order.
		joined := toMillis(chat.CreatedAt) + int64(i)
		if _, err := tx.ExecContext(ctx, memberQuery, chat.ID, userID, joined); err != nil {
			return fmt.Errorf("add participant %s: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetChat retrieves a chat by ID.
func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*store.Chat, error) {
	query := `
		SELECT id, name, is_group, created_by, created_at
		FROM chats
		WHERE id = ?
	`
	var chat store.Chat
	var createdAt int64
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&chat.ID,
		&chat.Name,
		&chat.IsGroup,
		&chat.CreatedBy,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chat %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query chat: %w", err)
	}
	chat.CreatedAt = fromMillis(createdAt)

	return &chat, nil
}

// ListChats lists the chats userID participates in, newest first.
func (s *SQLiteStore) ListChats(ctx context.Context, userID string) ([]*store.Chat, error) {
	query := `
		SELECT c.id, c.name, c.is_group, c.created_by, c.created_at
		FROM chats c
		JOIN chat_participants p ON p.chat_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.created_at DESC, c.id
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	var chats []*store.Chat
	for rows.Next() {
		var chat store.Chat
		var createdAt int64
		if err := rows.Scan(&chat.ID, &chat.Name, &chat.IsGroup, &chat.CreatedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chat.CreatedAt = fromMillis(createdAt)
		chats = append(chats, &chat)
	}

	return chats, rows.Err()
}

// ListParticipants lists members of a chat in join order.
func (s *SQLiteStore) ListParticipants(ctx context.Context, chatID string) ([]*store.Participant, error) {
	query := `
		SELECT p.user_id, COALESCE(u.display_name, ''), COALESCE(u.avatar_url, ''), p.joined_at
		FROM chat_participants p
		LEFT JOIN users u ON u.id = p.user_id
		WHERE p.chat_id = ?
		ORDER BY p.joined_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var participants []*store.Participant
	for rows.Next() {
		var p store.Participant
		var joinedAt int64
		if err := rows.Scan(&p.UserID, &p.DisplayName, &p.AvatarURL, &joinedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		p.JoinedAt = fromMillis(joinedAt)
		participants = append(participants, &p)
	}

	return participants, rows.Err()
}

// IsParticipant checks if userID is a member of chatID.
func (s *SQLiteStore) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	query := `
		SELECT 1 FROM chat_participants
		WHERE chat_id = ? AND user_id = ?
	`
	var exists int
	err := s.db.QueryRowContext(ctx, query, chatID, userID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query membership: %w", err)
	}

	return true, nil
}

// ==== MessageStore implementation ====

const messageColumns = `id, chat_id, sender_id, client_id, type, content, status, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*store.Message, error) {
	var msg store.Message
	var createdAt int64
	if err := row.Scan(
		&msg.ID,
		&msg.ChatID,
		&msg.SenderID,
		&msg.ClientID,
		&msg.Type,
		&msg.Content,
		&msg.Status,
		&createdAt,
	); err != nil {
		return nil, err
	}
	msg.CreatedAt = fromMillis(createdAt)
	return &msg, nil
}

// SaveMessage persists a new message.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	query := `
		INSERT INTO messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.ChatID, msg.SenderID, msg.ClientID, msg.Type, msg.Content, msg.Status, toMillis(msg.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert message: %w", store.ErrConflict)
		}
		return fmt.Errorf("insert message: %w", err)
	}

	return nil
}

// GetMessage retrieves a message of a chat by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, chatID, id string) (*store.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE chat_id = ? AND id = ?`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, chatID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	return msg, nil
}

// GetMessageByClientID retrieves a message by the sender's provisional id.
func (s *SQLiteStore) GetMessageByClientID(ctx context.Context, chatID, clientID string) (*store.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE chat_id = ? AND client_id = ?`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, chatID, clientID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message with client id %s: %w", clientID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	return msg, nil
}

// ListMessages retrieves up to limit messages in chronological order. The
// beforeID cursor compares (created_at, seq) so messages sharing a
// millisecond are neither skipped nor repeated across pages.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string, limit int, beforeID string) ([]*store.Message, error) {
	var query strings.Builder
	args := []any{chatID}

	query.WriteString(`SELECT ` + messageColumns + ` FROM messages WHERE chat_id = ?`)
	if beforeID != "" {
		var createdAt, seq int64
		err := s.db.QueryRowContext(ctx,
			`SELECT created_at, seq FROM messages WHERE chat_id = ? AND id = ?`, chatID, beforeID,
		).Scan(&createdAt, &seq)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("cursor message %s: %w", beforeID, store.ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("query cursor: %w", err)
		}
		query.WriteString(` AND (created_at < ? OR (created_at = ? AND seq < ?))`)
		args = append(args, createdAt, createdAt, seq)
	}
	query.WriteString(` ORDER BY created_at DESC, seq DESC LIMIT ?`)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	// Reverse to get chronological order
	for i := range len(messages) / 2 {
		messages[i], messages[len(messages)-1-i] = messages[len(messages)-1-i], messages[i]
	}

	return messages, rows.Err()
}

// UpdateMessageStatus sets the status of a message if it currently holds one
// of from. The check and the write are a single statement.
func (s *SQLiteStore) UpdateMessageStatus(ctx context.Context, chatID, id, status string, from []string) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	args := []any{status, chatID, id}
	for _, f := range from {
		args = append(args, f)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	query := `UPDATE messages SET status = ? WHERE chat_id = ? AND id = ? AND status IN (` + placeholders + `)`

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update message status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}

// DeleteMessage removes a message.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, chatID, id string) error {
	query := `DELETE FROM messages WHERE chat_id = ? AND id = ?`
	result, err := s.db.ExecContext(ctx, query, chatID, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return expectOneRow(result, "message "+id)
}

func expectOneRow(result sql.Result, what string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return nil
}
