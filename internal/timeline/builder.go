package timeline

import (
	"fmt"
	"sort"
	"time"
)

// DateLayout is the layout of Bucket.Date.
const DateLayout = "2006-01-02"

// Entry is a message annotated with its position in a same-sender run.
type Entry struct {
	Message    Message
	IsRunStart bool
	IsRunEnd   bool
}

// Bucket groups the messages of one calendar day.
type Bucket struct {
	Date    string
	Day     time.Time
	Entries []Entry
}

// Build groups messages of a single chat into calendar-day buckets in loc.
//
// The input must already be in display order. Buckets come out ascending by
// day, entries keep their input order. A message without a chat id or
// timestamp, or a message from another chat, is a caller bug and panics.
func Build(messages []Message, loc *time.Location) []Bucket {
	if len(messages) == 0 {
		return []Bucket{}
	}
	if loc == nil {
		loc = time.Local
	}

	chatID := messages[0].ChatID
	index := make(map[string]int)
	buckets := make([]Bucket, 0, 1)

	for i := range messages {
		msg := messages[i]
		mustBeBuildable(msg, chatID)

		local := msg.Timestamp.In(loc)
		key := local.Format(DateLayout)

		pos, ok := index[key]
		if !ok {
			y, m, d := local.Date()
			buckets = append(buckets, Bucket{
				Date: key,
				Day:  time.Date(y, m, d, 0, 0, 0, 0, loc),
			})
			pos = len(buckets) - 1
			index[key] = pos
		}
		buckets[pos].Entries = append(buckets[pos].Entries, Entry{Message: msg})
	}

	sort.SliceStable(buckets, func(i, j int) bool {
		return buckets[i].Day.Before(buckets[j].Day)
	})

	for b := range buckets {
		markRuns(buckets[b].Entries)
	}
	return buckets
}

func markRuns(entries []Entry) {
	for i := range entries {
		sender := entries[i].Message.SenderID
		entries[i].IsRunStart = i == 0 || entries[i-1].Message.SenderID != sender
		entries[i].IsRunEnd = i == len(entries)-1 || entries[i+1].Message.SenderID != sender
	}
}

func mustBeBuildable(msg Message, chatID string) {
	if msg.ChatID == "" {
		panic(fmt.Sprintf("timeline: message %q: %v", msg.ID, ErrMissingChatID))
	}
	if msg.Timestamp.IsZero() {
		panic(fmt.Sprintf("timeline: message %q: %v", msg.ID, ErrMissingTimestamp))
	}
	if msg.ChatID != chatID {
		panic(fmt.Sprintf("timeline: message %q belongs to chat %q, not %q", msg.ID, msg.ChatID, chatID))
	}
}
