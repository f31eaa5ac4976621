package core

import "github.com/vovakirdan/roamchat/internal/utils"

const defaultClientBuffer = 32

// Client is one connection of a user as seen by the hub.
type Client struct {
	ID     string
	UserID string
	Name   string
	// Events is closed by the hub when the client is unregistered.
	Events chan *Event
	chats  map[string]struct{}
}

// NewClient constructs a client with an event buffer of the given size.
func NewClient(userID, name string, buffer int) *Client {
	if name == "" {
		name = userID
	}
	if buffer <= 0 {
		buffer = defaultClientBuffer
	}
	return &Client{
		ID:     utils.NewID(),
		UserID: userID,
		Name:   name,
		Events: make(chan *Event, buffer),
		chats:  make(map[string]struct{}),
	}
}
