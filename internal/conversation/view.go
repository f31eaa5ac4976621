package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roamchat/internal/metrics"
	"github.com/vovakirdan/roamchat/internal/timeline"
	"github.com/vovakirdan/roamchat/internal/utils"
)

// DefaultSendTimeout bounds a single send attempt.
const DefaultSendTimeout = 15 * time.Second

// expiryGrace pushes the window-closed notification just past the inclusive
// boundary. Store timestamps have millisecond resolution.
const expiryGrace = time.Millisecond

const defaultEventBuffer = 64

var (
	ErrClosed              = errors.New("conversation view closed")
	ErrUnknownMessage      = errors.New("message not in timeline")
	ErrNotFailed           = errors.New("message has not failed")
	ErrNotConfirmed        = errors.New("message is not confirmed by the store")
	ErrNotAuthor           = errors.New("only the author can retract a message")
	ErrRetractWindowClosed = errors.New("retract window closed")
	ErrRetractInProgress   = errors.New("retraction already in progress")
	ErrSystemMessage       = errors.New("system messages cannot be sent")
)

// Options configures a View.
type Options struct {
	// ViewerID is the real user id of the viewer. Messages from this sender
	// are rendered as timeline.Self.
	ViewerID      string
	SendTimeout   time.Duration
	RetractWindow time.Duration
	// Location decides which calendar day a message belongs to.
	Location    *time.Location
	Clock       clock.Clock
	Logger      *zerolog.Logger
	Metrics     *metrics.Metrics
	EventBuffer int
}

// View owns the timeline of one open conversation and drives the optimistic
// send lifecycle against a Remote.
//
// All state changes happen under the view's lock; Remote calls never do.
// Once Close is called, completions of sends still in flight are ignored.
type View struct {
	chatID   string
	viewerID string
	remote   Remote

	clock       clock.Clock
	policy      timeline.Policy
	sendTimeout time.Duration
	loc         *time.Location
	logger      zerolog.Logger
	metrics     *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	list   *timeline.List
	timers map[string]*clock.Timer
	events chan Event
	closed bool
}

// New opens a view of chatID.
func New(chatID string, remote Remote, opts Options) *View {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("chat_id", chatID).Logger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &View{
		chatID:      chatID,
		viewerID:    opts.ViewerID,
		remote:      remote,
		clock:       opts.Clock,
		policy:      timeline.NewPolicy(opts.RetractWindow, opts.Clock),
		sendTimeout: opts.SendTimeout,
		loc:         opts.Location,
		logger:      logger,
		metrics:     opts.Metrics,
		ctx:         ctx,
		cancel:      cancel,
		list:        timeline.NewList(chatID),
		timers:      make(map[string]*clock.Timer),
		events:      make(chan Event, opts.EventBuffer),
	}
}

// ChatID returns the conversation this view shows.
func (v *View) ChatID() string {
	return v.chatID
}

// Events delivers re-render triggers. Events are dropped when the consumer
// falls behind; the channel is closed by Close.
func (v *View) Events() <-chan Event {
	return v.events
}

// Send appends a provisional message and starts delivering it. The message is
// in the timeline when Send returns.
func (v *View) Send(content string, typ timeline.Type) (timeline.Message, error) {
	if typ == "" {
		typ = timeline.TypeText
	}
	if typ == timeline.TypeSystem {
		return timeline.Message{}, ErrSystemMessage
	}

	msg := timeline.Message{
		ID:        utils.NewProvisionalID(),
		ChatID:    v.chatID,
		SenderID:  timeline.Self,
		Content:   content,
		Type:      typ,
		Timestamp: v.clock.Now(),
		Status:    timeline.StatusSending,
	}
	if err := msg.Validate(); err != nil {
		return timeline.Message{}, fmt.Errorf("send message: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return timeline.Message{}, ErrClosed
	}

	v.list.Append(msg)
	v.emitLocked(Event{Kind: EventAppended, MessageID: msg.ID})
	v.startDeliveryLocked(msg)
	return msg, nil
}

// Retry re-sends a failed message under its original provisional id.
func (v *View) Retry(id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}

	msg, ok := v.list.Get(id)
	if !ok {
		return ErrUnknownMessage
	}
	if msg.Status != timeline.StatusFailed {
		return ErrNotFailed
	}

	v.list.MarkStatus(id, timeline.StatusSending)
	msg.Status = timeline.StatusSending
	v.emitLocked(Event{Kind: EventStatusChanged, MessageID: id})
	v.startDeliveryLocked(msg)
	return nil
}

// Discard drops a failed message from the timeline.
func (v *View) Discard(id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}

	msg, ok := v.list.Get(id)
	if !ok {
		return ErrUnknownMessage
	}
	if msg.Status != timeline.StatusFailed {
		return ErrNotFailed
	}
	v.list.Remove(id)
	v.emitLocked(Event{Kind: EventRemoved, MessageID: id})
	return nil
}

// Retract withdraws one of the viewer's confirmed messages. The message stays
// in the timeline, flagged as retracting, until the store agrees; on failure
// it is restored unchanged and the error is returned.
func (v *View) Retract(ctx context.Context, id string) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	msg, ok := v.list.Get(id)
	if err := v.checkRetractLocked(msg, ok); err != nil {
		v.mu.Unlock()
		return err
	}
	v.list.SetRetracting(id, true)
	v.emitLocked(Event{Kind: EventRetracting, MessageID: id})
	v.mu.Unlock()

	err := v.remote.RetractMessage(ctx, v.chatID, id)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return err
	}
	if err != nil {
		v.list.SetRetracting(id, false)
		v.emitLocked(Event{Kind: EventRetractFailed, MessageID: id, Err: err})
		v.metrics.Retracted(metrics.OutcomeFailed)
		v.logger.Warn().Err(err).Str("message_id", id).Msg("retraction failed")
		return fmt.Errorf("retract message %s: %w", id, err)
	}

	v.list.Remove(id)
	v.stopTimerLocked(id)
	v.emitLocked(Event{Kind: EventRetracted, MessageID: id})
	v.metrics.Retracted(metrics.OutcomeOK)
	return nil
}

// CanRetract reports whether Retract would be attempted for id right now.
func (v *View) CanRetract(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	msg, ok := v.list.Get(id)
	return v.checkRetractLocked(msg, ok) == nil
}

// RetractExpiry returns the last instant at which id may be retracted.
func (v *View) RetractExpiry(id string) (time.Time, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	msg, ok := v.list.Get(id)
	if !ok || !msg.FromViewer() {
		return time.Time{}, false
	}
	return v.policy.Expiry(msg), true
}

func (v *View) checkRetractLocked(msg timeline.Message, ok bool) error {
	switch {
	case !ok:
		return ErrUnknownMessage
	case !msg.FromViewer():
		return ErrNotAuthor
	case !msg.Status.Confirmed():
		return ErrNotConfirmed
	case msg.Retracting:
		return ErrRetractInProgress
	case !v.policy.Allows(msg, timeline.Self):
		return ErrRetractWindowClosed
	}
	return nil
}

// Load replaces the timeline with history. Messages the viewer is still
// sending, or whose send failed, are kept.
func (v *View) Load(history []timeline.Message) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}

	list := timeline.NewList(v.chatID)
	for _, msg := range history {
		msg = v.localize(msg)
		if err := msg.Validate(); err != nil {
			return fmt.Errorf("load message %s: %w", msg.ID, err)
		}
		if msg.ChatID != v.chatID {
			return fmt.Errorf("load message %s: belongs to chat %s", msg.ID, msg.ChatID)
		}
		list.Append(msg)
	}
	for _, msg := range v.list.Messages() {
		if msg.Status == timeline.StatusSending || msg.Status == timeline.StatusFailed {
			list.Append(msg)
		}
	}

	// The old list and its timers stay untouched until history is known good.
	for id := range v.timers {
		v.stopTimerLocked(id)
	}
	v.list = list

	for _, msg := range list.Messages() {
		if msg.FromViewer() && msg.Status.Confirmed() {
			v.scheduleExpiryLocked(msg)
		}
	}
	v.emitLocked(Event{Kind: EventLoaded})
	return nil
}

// ApplyIncoming merges a message pushed by the store. clientID is the
// provisional id the author sent it under, if known; a matching local
// provisional message is confirmed in place instead of duplicated.
func (v *View) ApplyIncoming(msg timeline.Message, clientID string) bool {
	msg = v.localize(msg)
	if msg.ChatID != v.chatID {
		return false
	}
	if err := msg.Validate(); err != nil {
		v.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("dropping invalid incoming message")
		return false
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return false
	}

	if clientID != "" && clientID != msg.ID {
		if _, ok := v.list.Get(clientID); ok {
			v.confirmLocked(clientID, msg)
			return true
		}
	}
	if !v.list.Append(msg) {
		return false
	}
	v.emitLocked(Event{Kind: EventAppended, MessageID: msg.ID})
	if msg.FromViewer() && msg.Status.Confirmed() {
		v.scheduleExpiryLocked(msg)
	}
	return true
}

// ApplyStatus applies a delivered or read notification. Regressions are
// ignored.
func (v *View) ApplyStatus(id string, status timeline.Status) bool {
	if !status.Confirmed() {
		return false
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || !v.list.MarkStatus(id, status) {
		return false
	}
	v.emitLocked(Event{Kind: EventStatusChanged, MessageID: id})
	return true
}

// ApplyRetracted removes a message retracted elsewhere.
func (v *View) ApplyRetracted(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return false
	}
	if _, ok := v.list.Remove(id); !ok {
		return false
	}
	v.stopTimerLocked(id)
	v.emitLocked(Event{Kind: EventRemoved, MessageID: id})
	return true
}

// Messages returns the flat message list in display order.
func (v *View) Messages() []timeline.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.list.Messages()
}

// Message returns a single message by id.
func (v *View) Message(id string) (timeline.Message, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.list.Get(id)
}

// Timeline groups the current messages into day buckets.
func (v *View) Timeline() []timeline.Bucket {
	return timeline.Build(v.Messages(), v.loc)
}

// Close tears the view down. Sends still in flight are canceled and their
// results ignored; Close returns once every delivery goroutine has exited.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.cancel()
	for id := range v.timers {
		v.stopTimerLocked(id)
	}
	close(v.events)
	v.mu.Unlock()

	// deliver stops waiting on the remote once its context is canceled.
	v.wg.Wait()
}

type sendResult struct {
	msg timeline.Message
	err error
}

// startDeliveryLocked arms the timeout before the goroutine starts so that
// it is measured from the moment of the send.
func (v *View) startDeliveryLocked(msg timeline.Message) {
	ctx, cancel := v.clock.WithTimeout(v.ctx, v.sendTimeout)
	v.wg.Add(1)
	go v.deliver(ctx, cancel, msg)
}

func (v *View) deliver(ctx context.Context, cancel context.CancelFunc, msg timeline.Message) {
	defer v.wg.Done()
	defer cancel()

	draft := msg
	draft.SenderID = v.viewerID

	done := make(chan sendResult, 1)
	go func() {
		stored, err := v.remote.SendMessage(ctx, draft)
		done <- sendResult{msg: stored, err: err}
	}()

	var res sendResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	v.completeSend(msg.ID, res)
}

func (v *View) completeSend(provisionalID string, res sendResult) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		v.logger.Debug().Str("message_id", provisionalID).Msg("ignoring send completion after close")
		return
	}

	if res.err != nil {
		outcome := metrics.OutcomeFailed
		if errors.Is(res.err, context.DeadlineExceeded) {
			outcome = metrics.OutcomeTimeout
		}
		v.metrics.MessageSent(outcome)
		v.logger.Warn().Err(res.err).Str("message_id", provisionalID).Msg("send failed")
		if v.list.Fail(provisionalID) {
			v.emitLocked(Event{Kind: EventFailed, MessageID: provisionalID, Err: res.err})
		}
		return
	}

	v.metrics.MessageSent(metrics.OutcomeOK)
	v.confirmLocked(provisionalID, v.localize(res.msg))
}

func (v *View) confirmLocked(provisionalID string, confirmed timeline.Message) {
	if !v.list.Confirm(provisionalID, confirmed) {
		// Discarded, or already confirmed by a push.
		return
	}
	id := confirmed.ID
	if id == "" {
		id = provisionalID
	}
	v.emitLocked(Event{Kind: EventConfirmed, MessageID: id, PreviousID: provisionalID})
	if msg, ok := v.list.Get(id); ok {
		v.scheduleExpiryLocked(msg)
	}
}

func (v *View) scheduleExpiryLocked(msg timeline.Message) {
	if _, ok := v.timers[msg.ID]; ok {
		return
	}
	remaining := v.policy.Remaining(msg)
	if remaining == 0 && !v.policy.Allows(msg, timeline.Self) {
		return
	}

	id := msg.ID
	v.timers[id] = v.clock.AfterFunc(remaining+expiryGrace, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if v.closed {
			return
		}
		delete(v.timers, id)
		if _, ok := v.list.Get(id); ok {
			v.emitLocked(Event{Kind: EventRetractWindowClosed, MessageID: id})
		}
	})
}

func (v *View) stopTimerLocked(id string) {
	if t, ok := v.timers[id]; ok {
		t.Stop()
		delete(v.timers, id)
	}
}

func (v *View) emitLocked(ev Event) {
	if v.closed {
		return
	}
	select {
	case v.events <- ev:
	default:
		v.metrics.EventDropped()
		v.logger.Debug().Str("event", ev.Kind.String()).Msg("event dropped")
	}
}

// localize maps the viewer's real id to timeline.Self.
func (v *View) localize(msg timeline.Message) timeline.Message {
	if v.viewerID != "" && msg.SenderID == v.viewerID {
		msg.SenderID = timeline.Self
	}
	if msg.ChatID == "" {
		msg.ChatID = v.chatID
	}
	return msg
}
