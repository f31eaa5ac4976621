package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roamchat/internal/metrics"
)

// Membership answers whether a user may follow a chat.
type Membership interface {
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
}

// Hub fans chat events out to subscribed clients.
//
// All subscription state is owned by the Run loop. Presence is read from
// other goroutines and guarded separately.
type Hub struct {
	members Membership
	metrics *metrics.Metrics
	logger  zerolog.Logger

	register   chan *Client
	unregister chan *Client
	commands   chan *Command
	publish    chan *Event
	done       chan struct{}

	clients map[*Client]struct{}
	rooms   map[string]*Room

	presenceMu sync.RWMutex
	online     map[string]int
}

// NewHub creates a hub. members may be nil, in which case every subscription
// is accepted.
func NewHub(members Membership, m *metrics.Metrics, logger *zerolog.Logger) *Hub {
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &Hub{
		members:    members,
		metrics:    m,
		logger:     l,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		commands:   make(chan *Command, 64),
		publish:    make(chan *Event, 256),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[string]*Room),
		online:     make(map[string]int),
	}
}

// Run processes hub traffic until ctx is canceled. Client event channels are
// closed on return.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
		case cmd := <-h.commands:
			h.handleCommand(cmd)
		case ev := <-h.publish:
			h.broadcast(ev)
		}
	}
}

// RegisterClient adds a connection to the hub. The user counts as online
// from the moment this returns.
func (h *Hub) RegisterClient(c *Client) error {
	h.setOnline(c.UserID, 1)
	select {
	case h.register <- c:
		return nil
	case <-h.done:
		h.setOnline(c.UserID, -1)
		return ErrHubStopped
	}
}

// UnregisterClient removes a connection and closes its event channel.
func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Subscribe starts delivering chatID's events to c once membership is
// confirmed. The client receives EventSubscribed or EventError.
func (h *Hub) Subscribe(ctx context.Context, c *Client, chatID string) error {
	if chatID == "" {
		return ErrMissingChat
	}
	if h.members != nil {
		ok, err := h.members.IsParticipant(ctx, chatID, c.UserID)
		if err != nil {
			return fmt.Errorf("check membership: %w", err)
		}
		if !ok {
			return ErrNotParticipant
		}
	}
	return h.send(ctx, &Command{Kind: CommandSubscribe, Client: c, Chat: chatID})
}

// Unsubscribe stops delivering chatID's events to c.
func (h *Hub) Unsubscribe(ctx context.Context, c *Client, chatID string) error {
	return h.send(ctx, &Command{Kind: CommandUnsubscribe, Client: c, Chat: chatID})
}

// Publish queues an event for the subscribers of ev.Chat.
func (h *Hub) Publish(ev *Event) {
	select {
	case h.publish <- ev:
	case <-h.done:
	}
}

// Online reports whether userID has at least one registered connection.
func (h *Hub) Online(userID string) bool {
	h.presenceMu.RLock()
	defer h.presenceMu.RUnlock()
	return h.online[userID] > 0
}

func (h *Hub) send(ctx context.Context, cmd *Command) error {
	select {
	case h.commands <- cmd:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) handleCommand(cmd *Command) {
	c := cmd.Client
	if _, ok := h.clients[c]; !ok {
		return
	}

	switch cmd.Kind {
	case CommandSubscribe:
		if _, ok := c.chats[cmd.Chat]; ok {
			h.deliver(c, &Event{Kind: EventError, Chat: cmd.Chat, Error: NewError(ErrCodeAlreadySubscribed, "already subscribed")})
			return
		}
		room, ok := h.rooms[cmd.Chat]
		if !ok {
			room = NewRoom(cmd.Chat)
			h.rooms[cmd.Chat] = room
		}
		room.AddClient(c)
		c.chats[cmd.Chat] = struct{}{}
		h.deliver(c, &Event{Kind: EventSubscribed, Chat: cmd.Chat, User: c.UserID})
	case CommandUnsubscribe:
		if _, ok := c.chats[cmd.Chat]; !ok {
			h.deliver(c, &Event{Kind: EventError, Chat: cmd.Chat, Error: NewError(ErrCodeNotSubscribed, "not subscribed")})
			return
		}
		h.leave(c, cmd.Chat)
		h.deliver(c, &Event{Kind: EventUnsubscribed, Chat: cmd.Chat, User: c.UserID})
	}
}

func (h *Hub) broadcast(ev *Event) {
	room, ok := h.rooms[ev.Chat]
	if !ok {
		return
	}
	if dropped := room.Broadcast(ev); dropped > 0 {
		for range dropped {
			h.metrics.EventDropped()
		}
		h.logger.Warn().Str("chat_id", ev.Chat).Int("dropped", dropped).Msg("slow subscribers missed an event")
	}
}

func (h *Hub) deliver(c *Client, ev *Event) {
	select {
	case c.Events <- ev:
	default:
		h.metrics.EventDropped()
	}
}

func (h *Hub) leave(c *Client, chat string) {
	delete(c.chats, chat)
	if room, ok := h.rooms[chat]; ok {
		room.RemoveClient(c)
		if room.Empty() {
			delete(h.rooms, chat)
		}
	}
}

func (h *Hub) drop(c *Client) {
	for chat := range c.chats {
		h.leave(c, chat)
	}
	delete(h.clients, c)
	h.setOnline(c.UserID, -1)
	close(c.Events)
}

func (h *Hub) setOnline(userID string, delta int) {
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()
	n := h.online[userID] + delta
	if n <= 0 {
		delete(h.online, userID)
		return
	}
	h.online[userID] = n
}
