package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeHello       = "hello"
	InboundTypeSubscribe   = "subscribe"
	InboundTypeUnsubscribe = "unsubscribe"
	InboundTypeAck         = "ack"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventReady            = "ready"
	EventMessageCreated   = "message_created"
	EventMessageStatus    = "message_status"
	EventMessageRetracted = "message_retracted"
	EventSubscribed       = "subscribed"
	EventUnsubscribed     = "unsubscribed"
)

// HelloData authenticates the connection. It must be the first frame unless
// the token was given on the upgrade request.
type HelloData struct {
	Token    string `json:"token,omitempty"`
	Protocol int    `json:"protocol,omitempty"`
}

// ChatData names the chat of a subscribe or unsubscribe request.
type ChatData struct {
	ChatID string `json:"chat_id"`
}

// AckData reports that the client received or read a message.
type AckData struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// Message is a stored message on the wire. TS is unix milliseconds.
type Message struct {
	ID       string `json:"id"`
	ChatID   string `json:"chat_id"`
	SenderID string `json:"sender_id"`
	ClientID string `json:"client_id,omitempty"`
	Type     string `json:"type"`
	Content  string `json:"content"`
	Status   string `json:"status"`
	TS       int64  `json:"ts"`
}

// ReadyData answers a successful hello.
type ReadyData struct {
	User     string `json:"user"`
	Protocol int    `json:"protocol"`
}

// RetractedData notifies that a message was withdrawn.
type RetractedData struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// NewEvent builds an event envelope around data.
func NewEvent(event string, data any) (Outbound, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Outbound{}, err
	}
	return Outbound{Type: OutboundTypeEvent, Event: event, Data: raw}, nil
}

// NewError builds an error envelope.
func NewError(code, msg string) Outbound {
	return Outbound{Type: OutboundTypeError, Error: &Error{Code: code, Msg: msg}}
}
