package core

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventMessageCreated notifies subscribers about a stored message.
	EventMessageCreated EventKind = iota
	// EventMessageStatus notifies subscribers that a message was delivered or read.
	EventMessageStatus
	// EventMessageRetracted notifies subscribers that a message was withdrawn.
	EventMessageRetracted
	// EventSubscribed confirms a subscription to the subscribing client.
	EventSubscribed
	// EventUnsubscribed confirms that a subscription ended.
	EventUnsubscribed
	// EventError notifies a client about a domain error.
	EventError
)

// Event is sent to clients to describe what happened in a chat.
type Event struct {
	Kind    EventKind
	Chat    string
	User    string
	Message Message // EventMessageCreated, EventMessageStatus
	// MessageID identifies the message of EventMessageRetracted.
	MessageID string
	Error     *CoreError
}
