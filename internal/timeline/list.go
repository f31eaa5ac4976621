package timeline

// List is the ordered message list of one conversation.
//
// Messages are kept non-decreasing by timestamp with ties in insertion order.
// Updates are keyed by id and change fields in place, so an update to one
// message never moves another. A List is owned by a single view and is not
// safe for concurrent use.
type List struct {
	chatID   string
	messages []Message
}

// NewList returns an empty list for chatID.
func NewList(chatID string) *List {
	return &List{chatID: chatID}
}

// ChatID returns the conversation the list belongs to.
func (l *List) ChatID() string {
	return l.chatID
}

// Len returns the number of messages.
func (l *List) Len() int {
	return len(l.messages)
}

// Append inserts msg after every message with a timestamp not later than its
// own. It returns false if a message with the same id is already present.
func (l *List) Append(msg Message) bool {
	if msg.ChatID != l.chatID {
		panic("timeline: append to list of chat " + l.chatID + " from chat " + msg.ChatID)
	}
	if l.indexOf(msg.ID) >= 0 {
		return false
	}

	pos := len(l.messages)
	for pos > 0 && l.messages[pos-1].Timestamp.After(msg.Timestamp) {
		pos--
	}
	l.messages = append(l.messages, Message{})
	copy(l.messages[pos+1:], l.messages[pos:])
	l.messages[pos] = msg
	return true
}

// Confirm swaps the provisional id for the one assigned by the store and
// advances the status to at least sent. Position, sender and timestamp stay
// as they were so the message does not move in the timeline.
//
// If the confirmed id is already present (the store's push beat the
// acknowledgement), the provisional copy is dropped instead.
func (l *List) Confirm(provisionalID string, confirmed Message) bool {
	i := l.indexOf(provisionalID)
	if i < 0 {
		return false
	}
	if confirmed.ID != provisionalID && l.indexOf(confirmed.ID) >= 0 {
		l.removeAt(i)
		return true
	}

	status := confirmed.Status
	if !status.Confirmed() {
		status = StatusSent
	}

	msg := &l.messages[i]
	if confirmed.ID != "" {
		msg.ID = confirmed.ID
	}
	msg.Status = status
	return true
}

// MarkStatus moves the message to status if the lifecycle allows it.
func (l *List) MarkStatus(id string, status Status) bool {
	i := l.indexOf(id)
	if i < 0 || !l.messages[i].Status.CanTransition(status) {
		return false
	}
	l.messages[i].Status = status
	return true
}

// Fail marks a message that is still sending as failed.
func (l *List) Fail(id string) bool {
	return l.MarkStatus(id, StatusFailed)
}

// SetRetracting toggles the transient retracting flag.
func (l *List) SetRetracting(id string, retracting bool) bool {
	i := l.indexOf(id)
	if i < 0 {
		return false
	}
	l.messages[i].Retracting = retracting
	return true
}

// Remove deletes the message with id and returns it.
func (l *List) Remove(id string) (Message, bool) {
	i := l.indexOf(id)
	if i < 0 {
		return Message{}, false
	}
	msg := l.messages[i]
	l.removeAt(i)
	return msg, true
}

// Get returns the message with id.
func (l *List) Get(id string) (Message, bool) {
	i := l.indexOf(id)
	if i < 0 {
		return Message{}, false
	}
	return l.messages[i], true
}

// Messages returns a copy of the list in display order.
func (l *List) Messages() []Message {
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

func (l *List) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := range l.messages {
		if l.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (l *List) removeAt(i int) {
	l.messages = append(l.messages[:i], l.messages[i+1:]...)
}
