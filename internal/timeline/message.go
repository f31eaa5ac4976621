package timeline

import (
	"errors"
	"fmt"
	"time"
)

// Self is the sender id a conversation view uses for messages written by the
// current viewer. It only affects layout.
const Self = "me"

// Type describes how message content is interpreted.
type Type string

const (
	TypeText     Type = "text"
	TypeImage    Type = "image"
	TypeVoice    Type = "voice"
	TypeLocation Type = "location"
	TypeSystem   Type = "system"
)

// Valid reports whether t is a known message type.
func (t Type) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeVoice, TypeLocation, TypeSystem:
		return true
	default:
		return false
	}
}

var (
	ErrMissingChatID    = errors.New("message has no chat id")
	ErrMissingSenderID  = errors.New("message has no sender id")
	ErrMissingTimestamp = errors.New("message has no timestamp")
	ErrInvalidType      = errors.New("invalid message type")
	ErrInvalidStatus    = errors.New("invalid message status")
	ErrEmptyContent     = errors.New("message content is empty")
)

// Message is a single unit of conversation content.
type Message struct {
	ID        string
	ChatID    string
	SenderID  string
	Content   string
	Type      Type
	Timestamp time.Time
	Status    Status

	// Retracting is set locally while a retraction awaits the store.
	Retracting bool
}

// Validate checks the fields every message must carry.
func (m Message) Validate() error {
	if m.ChatID == "" {
		return ErrMissingChatID
	}
	if m.SenderID == "" {
		return ErrMissingSenderID
	}
	if m.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}
	if !m.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, m.Type)
	}
	if !m.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, m.Status)
	}
	if m.Content == "" {
		return ErrEmptyContent
	}
	return nil
}

// FromViewer reports whether the message is rendered as the viewer's own.
func (m Message) FromViewer() bool {
	return m.SenderID == Self
}
