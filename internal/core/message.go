package core

import "time"

// Message is a stored chat message as fanned out to subscribers.
type Message struct {
	ID        string
	ChatID    string
	SenderID  string
	ClientID  string
	Type      string
	Content   string
	Status    string
	CreatedAt time.Time
}
