package core

// CommandKind describes what a client wants the hub to do.
type CommandKind int

const (
	// CommandSubscribe starts delivering a chat's events to the client.
	CommandSubscribe CommandKind = iota
	// CommandUnsubscribe stops delivering a chat's events to the client.
	CommandUnsubscribe
)

// Command represents an action requested by a client.
type Command struct {
	Kind   CommandKind
	Client *Client
	Chat   string
}
