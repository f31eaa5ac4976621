package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/vovakirdan/roamchat/internal/conversation"
	"github.com/vovakirdan/roamchat/internal/proto"
	"github.com/vovakirdan/roamchat/internal/timeline"
)

func renderChats(out io.Writer, chats []proto.Chat, now time.Time) {
	if len(chats) == 0 {
		fmt.Fprintln(out, "no chats yet")
		return
	}
	for _, c := range chats {
		name := c.Name
		if name == "" {
			name = "(direct)"
		}
		created := time.UnixMilli(c.CreatedAt)
		fmt.Fprintf(out, "%s  %-20s  created %s\n", c.ID, name, humanize.RelTime(created, now, "ago", "from now"))
	}
}

func renderTimeline(out io.Writer, view *conversation.View, now time.Time) {
	buckets := view.Timeline()
	if len(buckets) == 0 {
		fmt.Fprintln(out, "no messages yet")
		return
	}
	for _, b := range buckets {
		fmt.Fprintf(out, "── %s ──\n", b.Day.Format("Mon 2 Jan 2006"))
		for _, e := range b.Entries {
			renderEntry(out, view, e, now)
		}
	}
}

func renderEntry(out io.Writer, view *conversation.View, e timeline.Entry, now time.Time) {
	m := e.Message
	if e.IsRunStart {
		fmt.Fprintf(out, "%s:\n", senderLabel(m))
	}

	var notes []string
	if m.FromViewer() {
		notes = append(notes, string(m.Status))
		if m.Retracting {
			notes = append(notes, "retracting")
		} else if view.CanRetract(m.ID) {
			if until, ok := view.RetractExpiry(m.ID); ok {
				notes = append(notes, "retractable for "+strings.TrimSuffix(humanize.RelTime(now, until, "", ""), " "))
			}
		}
	}

	line := fmt.Sprintf("  %s  %s", m.Timestamp.In(time.Local).Format("15:04"), content(m))
	if len(notes) > 0 {
		line += "  [" + strings.Join(notes, ", ") + "]"
	}
	fmt.Fprintln(out, line)
	if e.IsRunEnd {
		fmt.Fprintln(out)
	}
}

func renderEvent(out io.Writer, ev conversation.Event, msg timeline.Message, found bool) {
	switch ev.Kind {
	case conversation.EventAppended:
		if found {
			fmt.Fprintf(out, "%s %s: %s\n", msg.Timestamp.In(time.Local).Format("15:04"), senderLabel(msg), content(msg))
		}
	case conversation.EventStatusChanged:
		if found && msg.FromViewer() {
			fmt.Fprintf(out, "  %s is now %s\n", shortID(msg.ID), msg.Status)
		}
	case conversation.EventRemoved:
		fmt.Fprintf(out, "  %s was retracted\n", shortID(ev.MessageID))
	}
}

func senderLabel(m timeline.Message) string {
	if m.FromViewer() {
		return "you"
	}
	return m.SenderID
}

func content(m timeline.Message) string {
	switch m.Type {
	case timeline.TypeText, timeline.TypeSystem:
		return m.Content
	default:
		return fmt.Sprintf("<%s> %s", m.Type, m.Content)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
