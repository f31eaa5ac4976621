package timeline

import (
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultRetractWindow is how long an author may withdraw a message.
const DefaultRetractWindow = 2 * time.Minute

// CanRetract reports whether viewerID may still withdraw msg at now.
// The window is inclusive and a timestamp in the future counts as zero
// elapsed time.
func CanRetract(msg Message, viewerID string, now time.Time, window time.Duration) bool {
	if viewerID == "" || msg.SenderID != viewerID {
		return false
	}
	elapsed := now.Sub(msg.Timestamp)
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed <= window
}

// Policy evaluates CanRetract against an injected clock.
type Policy struct {
	Window time.Duration
	Clock  clock.Clock
}

// NewPolicy returns a policy with the given window. A zero window falls back
// to DefaultRetractWindow and a nil clock to the wall clock.
func NewPolicy(window time.Duration, clk clock.Clock) Policy {
	if window <= 0 {
		window = DefaultRetractWindow
	}
	if clk == nil {
		clk = clock.New()
	}
	return Policy{Window: window, Clock: clk}
}

// Allows reports whether viewerID may retract msg right now.
func (p Policy) Allows(msg Message, viewerID string) bool {
	return CanRetract(msg, viewerID, p.Clock.Now(), p.Window)
}

// Expiry returns the last instant at which msg is still retractable.
func (p Policy) Expiry(msg Message) time.Time {
	return msg.Timestamp.Add(p.Window)
}

// Remaining returns how long msg stays retractable, zero once closed.
func (p Policy) Remaining(msg Message) time.Duration {
	left := p.Expiry(msg).Sub(p.Clock.Now())
	if left < 0 {
		return 0
	}
	return left
}
