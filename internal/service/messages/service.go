package messages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roamchat/internal/core"
	"github.com/vovakirdan/roamchat/internal/metrics"
	"github.com/vovakirdan/roamchat/internal/store"
	"github.com/vovakirdan/roamchat/internal/timeline"
	"github.com/vovakirdan/roamchat/internal/utils"
)

// Common errors for message operations.
var (
	ErrChatNotFound        = errors.New("chat not found")
	ErrMessageNotFound     = errors.New("message not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrNotParticipant      = errors.New("not a participant of this chat")
	ErrNotAuthor           = errors.New("only the author can retract a message")
	ErrOwnMessage          = errors.New("cannot acknowledge your own message")
	ErrRetractWindowClosed = errors.New("retract window closed")
	ErrInvalidStatus       = errors.New("status must be delivered or read")
	ErrInvalidType         = errors.New("invalid message type")
	ErrEmptyContent        = errors.New("message content is empty")
	ErrContentTooLarge     = errors.New("message content too large")
	ErrTooFewParticipants  = errors.New("a chat needs at least two participants")
)

const (
	defaultHistoryLimit = 200
	defaultMaxContent   = 64 << 10
)

// Notifier fans events out to connected clients and reports presence.
type Notifier interface {
	Publish(ev *core.Event)
	Online(userID string) bool
}

// Options tunes a Service.
type Options struct {
	Clock           clock.Clock
	RetractWindow   time.Duration
	HistoryLimit    int
	MaxContentBytes int
	Metrics         *metrics.Metrics
	Logger          *zerolog.Logger
}

// Service is the server side of the messaging table: it persists messages,
// enforces authorship and the retraction window, and notifies subscribers.
type Service struct {
	store    store.Store
	notifier Notifier
	clock    clock.Clock
	policy   timeline.Policy
	limit    int
	maxBytes int
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New creates a message Service. notifier may be nil.
func New(st store.Store, notifier Notifier, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if opts.MaxContentBytes <= 0 {
		opts.MaxContentBytes = defaultMaxContent
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Service{
		store:    st,
		notifier: notifier,
		clock:    opts.Clock,
		policy:   timeline.NewPolicy(opts.RetractWindow, opts.Clock),
		limit:    opts.HistoryLimit,
		maxBytes: opts.MaxContentBytes,
		metrics:  opts.Metrics,
		logger:   logger,
	}
}

// SendInput is a message submitted by a participant.
type SendInput struct {
	ChatID   string
	SenderID string
	// ClientID is the sender's provisional id. Re-sending with the same
	// client id returns the message stored the first time.
	ClientID string
	Type     string
	Content  string
}

// Send stores a message and notifies the chat.
func (s *Service) Send(ctx context.Context, in SendInput) (*store.Message, error) {
	typ := timeline.Type(in.Type)
	if typ == "" {
		typ = timeline.TypeText
	}
	if !typ.Valid() || typ == timeline.TypeSystem {
		s.metrics.MessageSent(metrics.OutcomeRejected)
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, in.Type)
	}
	if in.Content == "" {
		s.metrics.MessageSent(metrics.OutcomeRejected)
		return nil, ErrEmptyContent
	}
	if len(in.Content) > s.maxBytes {
		s.metrics.MessageSent(metrics.OutcomeRejected)
		return nil, ErrContentTooLarge
	}
	if err := s.requireParticipant(ctx, in.ChatID, in.SenderID); err != nil {
		s.metrics.MessageSent(metrics.OutcomeRejected)
		return nil, err
	}

	if in.ClientID == "" {
		in.ClientID = utils.NewID()
	} else if existing, err := s.store.GetMessageByClientID(ctx, in.ChatID, in.ClientID); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("lookup client id: %w", err)
	}

	msg := &store.Message{
		ID:        utils.NewID(),
		ChatID:    in.ChatID,
		SenderID:  in.SenderID,
		ClientID:  in.ClientID,
		Type:      string(typ),
		Content:   in.Content,
		Status:    string(timeline.StatusSent),
		CreatedAt: s.clock.Now().UTC().Truncate(time.Millisecond),
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// A concurrent retry won the insert.
			existing, getErr := s.store.GetMessageByClientID(ctx, in.ChatID, in.ClientID)
			if getErr == nil {
				return existing, nil
			}
		}
		s.metrics.MessageSent(metrics.OutcomeFailed)
		return nil, fmt.Errorf("save message: %w", err)
	}

	s.metrics.MessageSent(metrics.OutcomeOK)
	s.publish(&core.Event{Kind: core.EventMessageCreated, Chat: msg.ChatID, User: msg.SenderID, Message: toCoreMessage(msg)})
	s.logger.Debug().Str("chat_id", msg.ChatID).Str("message_id", msg.ID).Msg("message stored")
	return msg, nil
}

// UpdateStatus records that userID received or read a message. Statuses only
// move forward; an older acknowledgement leaves the message unchanged.
func (s *Service) UpdateStatus(ctx context.Context, chatID, messageID, userID, status string) (*store.Message, error) {
	next := timeline.Status(status)
	if next != timeline.StatusDelivered && next != timeline.StatusRead {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return nil, err
	}

	msg, err := s.getMessage(ctx, chatID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID == userID {
		return nil, ErrOwnMessage
	}
	if !timeline.Status(msg.Status).CanTransition(next) {
		return msg, nil
	}

	changed, err := s.store.UpdateMessageStatus(ctx, chatID, messageID, status, predecessors(next))
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	if !changed {
		// Another acknowledgement moved it first.
		return s.getMessage(ctx, chatID, messageID)
	}
	msg.Status = status

	s.metrics.StatusUpdated(status)
	s.publish(&core.Event{Kind: core.EventMessageStatus, Chat: chatID, User: userID, Message: toCoreMessage(msg)})
	return msg, nil
}

// Retract deletes one of userID's messages while the retraction window is open.
func (s *Service) Retract(ctx context.Context, chatID, messageID, userID string) error {
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		s.metrics.Retracted(metrics.OutcomeRejected)
		return err
	}

	msg, err := s.getMessage(ctx, chatID, messageID)
	if err != nil {
		s.metrics.Retracted(metrics.OutcomeRejected)
		return err
	}
	if msg.SenderID != userID {
		s.metrics.Retracted(metrics.OutcomeRejected)
		return ErrNotAuthor
	}
	if !s.policy.Allows(ToTimeline(msg, ""), userID) {
		s.metrics.Retracted(metrics.OutcomeRejected)
		return ErrRetractWindowClosed
	}

	if err := s.store.DeleteMessage(ctx, chatID, messageID); err != nil {
		s.metrics.Retracted(metrics.OutcomeFailed)
		if errors.Is(err, store.ErrNotFound) {
			return ErrMessageNotFound
		}
		return fmt.Errorf("delete message: %w", err)
	}

	s.metrics.Retracted(metrics.OutcomeOK)
	s.publish(&core.Event{Kind: core.EventMessageRetracted, Chat: chatID, User: userID, MessageID: messageID})
	return nil
}

// History returns up to limit messages of a chat in chronological order,
// stored before the message beforeID when it is set.
func (s *Service) History(ctx context.Context, chatID, userID string, limit int, beforeID string) ([]*store.Message, error) {
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.limit {
		limit = s.limit
	}
	msgs, err := s.store.ListMessages(ctx, chatID, limit, beforeID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, beforeID)
	}
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// Timeline is a chat's recent history laid out for one viewer.
type Timeline struct {
	Buckets []timeline.Bucket
	// Retractable maps the viewer's retractable message ids to the last
	// instant each may be retracted.
	Retractable map[string]time.Time
}

// Timeline builds the day buckets of a chat as userID sees them in loc.
func (s *Service) Timeline(ctx context.Context, chatID, userID string, loc *time.Location) (*Timeline, error) {
	msgs, err := s.History(ctx, chatID, userID, s.limit, "")
	if err != nil {
		return nil, err
	}

	list := make([]timeline.Message, 0, len(msgs))
	retractable := make(map[string]time.Time)
	for _, m := range msgs {
		tm := ToTimeline(m, userID)
		list = append(list, tm)
		if s.policy.Allows(tm, timeline.Self) {
			retractable[tm.ID] = s.policy.Expiry(tm)
		}
	}
	return &Timeline{Buckets: timeline.Build(list, loc), Retractable: retractable}, nil
}

// CreateChat creates a chat between creatorID and memberIDs.
func (s *Service) CreateChat(ctx context.Context, creatorID, name string, memberIDs []string) (*store.Chat, error) {
	seen := map[string]struct{}{creatorID: {}}
	participants := []string{creatorID}
	for _, id := range memberIDs {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		participants = append(participants, id)
	}
	if len(participants) < 2 {
		return nil, ErrTooFewParticipants
	}
	for _, id := range participants {
		if _, err := s.store.GetUser(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
			}
			return nil, fmt.Errorf("get user: %w", err)
		}
	}

	chat := &store.Chat{
		ID:        utils.NewID(),
		Name:      name,
		IsGroup:   len(participants) > 2,
		CreatedBy: creatorID,
		CreatedAt: s.clock.Now().UTC().Truncate(time.Millisecond),
	}
	if err := s.store.CreateChat(ctx, chat, participants); err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return chat, nil
}

// ListChats lists the chats userID takes part in.
func (s *Service) ListChats(ctx context.Context, userID string) ([]*store.Chat, error) {
	chats, err := s.store.ListChats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return chats, nil
}

// Participant is a chat member with presence.
type Participant struct {
	*store.Participant
	Online bool
}

// Participants lists the members of a chat for the chat header.
func (s *Service) Participants(ctx context.Context, chatID, userID string) ([]Participant, error) {
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return nil, err
	}
	members, err := s.store.ListParticipants(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}

	out := make([]Participant, 0, len(members))
	for _, p := range members {
		online := false
		if s.notifier != nil {
			online = s.notifier.Online(p.UserID)
		}
		out = append(out, Participant{Participant: p, Online: online})
	}
	return out, nil
}

// IsParticipant lets the hub check subscriptions.
func (s *Service) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	return s.store.IsParticipant(ctx, chatID, userID)
}

func (s *Service) requireParticipant(ctx context.Context, chatID, userID string) error {
	if _, err := s.store.GetChat(ctx, chatID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrChatNotFound
		}
		return fmt.Errorf("get chat: %w", err)
	}
	ok, err := s.store.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		return ErrNotParticipant
	}
	return nil
}

func (s *Service) getMessage(ctx context.Context, chatID, messageID string) (*store.Message, error) {
	msg, err := s.store.GetMessage(ctx, chatID, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

func (s *Service) publish(ev *core.Event) {
	if s.notifier != nil {
		s.notifier.Publish(ev)
	}
}

// ToTimeline converts a stored message into the timeline model. Messages by
// viewerID get timeline.Self as sender.
func ToTimeline(m *store.Message, viewerID string) timeline.Message {
	sender := m.SenderID
	if viewerID != "" && sender == viewerID {
		sender = timeline.Self
	}
	return timeline.Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		SenderID:  sender,
		Content:   m.Content,
		Type:      timeline.Type(m.Type),
		Timestamp: m.CreatedAt,
		Status:    timeline.Status(m.Status),
	}
}

func toCoreMessage(m *store.Message) core.Message {
	return core.Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		SenderID:  m.SenderID,
		ClientID:  m.ClientID,
		Type:      m.Type,
		Content:   m.Content,
		Status:    m.Status,
		CreatedAt: m.CreatedAt,
	}
}

// predecessors lists the stored statuses that may move to next.
func predecessors(next timeline.Status) []string {
	var from []string
	for _, st := range []timeline.Status{timeline.StatusSending, timeline.StatusSent, timeline.StatusDelivered, timeline.StatusRead} {
		if st.CanTransition(next) {
			from = append(from, string(st))
		}
	}
	return from
}
