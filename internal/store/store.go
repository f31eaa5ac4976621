package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint would be violated.
	ErrConflict = errors.New("conflict")
)

// User is a participant profile cached from the identity provider.
type User struct {
	ID          string
	DisplayName string
	AvatarURL   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Chat is a direct or group conversation.
type Chat struct {
	ID        string
	Name      string
	IsGroup   bool
	CreatedBy string
	CreatedAt time.Time
}

// Participant is a chat member with their profile.
type Participant struct {
	UserID      string
	DisplayName string
	AvatarURL   string
	JoinedAt    time.Time
}

// Message represents a persisted chat message.
type Message struct {
	ID        string
	ChatID    string
	SenderID  string
	ClientID  string // provisional id the sender used; unique per chat
	Type      string
	Content   string
	Status    string
	CreatedAt time.Time
}

// UserStore handles participant profiles.
type UserStore interface {
	// UpsertUser creates or refreshes a profile.
	UpsertUser(ctx context.Context, user *User) error

	// GetUser retrieves a profile by ID.
	GetUser(ctx context.Context, id string) (*User, error)
}

// ChatStore handles conversations and membership.
type ChatStore interface {
	// CreateChat creates a chat and adds the given participants.
	CreateChat(ctx context.Context, chat *Chat, participantIDs []string) error

	// GetChat retrieves a chat by ID.
	GetChat(ctx context.Context, id string) (*Chat, error)

	// ListChats lists the chats userID participates in, newest first.
	ListChats(ctx context.Context, userID string) ([]*Chat, error)

	// ListParticipants lists members of a chat in join order.
	ListParticipants(ctx context.Context, chatID string) ([]*Participant, error)

	// IsParticipant checks if userID is a member of chatID.
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a new message. Returns ErrConflict if the
	// (chat, client id) pair was already used.
	SaveMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves a message of a chat by ID.
	GetMessage(ctx context.Context, chatID, id string) (*Message, error)

	// GetMessageByClientID retrieves a message by the sender's provisional id.
	GetMessageByClientID(ctx context.Context, chatID, clientID string) (*Message, error)

	// ListMessages retrieves up to limit messages in chronological order.
	// If beforeID is set, only messages stored before that message are
	// returned; ErrNotFound if it does not exist.
	ListMessages(ctx context.Context, chatID string, limit int, beforeID string) ([]*Message, error)

	// UpdateMessageStatus sets the status of a message if its current status
	// is one of from. It reports whether the row changed.
	UpdateMessageStatus(ctx context.Context, chatID, id, status string, from []string) (bool, error)

	// DeleteMessage removes a message.
	DeleteMessage(ctx context.Context, chatID, id string) error
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ChatStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
