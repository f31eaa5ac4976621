package timeline

// Status tracks a message from local creation to being read.
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// rank orders the confirmed part of the lifecycle.
var rank = map[Status]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	if s == StatusFailed {
		return true
	}
	_, ok := rank[s]
	return ok
}

// Confirmed reports whether the store has acknowledged the message.
func (s Status) Confirmed() bool {
	return s == StatusSent || s == StatusDelivered || s == StatusRead
}

// CanTransition reports whether a message in status s may move to next.
//
// Confirmed statuses only move forward, so a late "delivered" never
// overwrites "read". A failed send may only go back to sending (retry), and
// only a message that is still sending can fail.
func (s Status) CanTransition(next Status) bool {
	switch {
	case !s.Valid() || !next.Valid():
		return false
	case next == StatusFailed:
		return s == StatusSending
	case s == StatusFailed:
		return next == StatusSending
	default:
		return rank[next] > rank[s]
	}
}
