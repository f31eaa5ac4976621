package core

import (
	"context"
	"testing"
	"time"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// members is a static membership table: chat id -> user ids.
type members map[string][]string

func (m members) IsParticipant(_ context.Context, chatID, userID string) (bool, error) {
	for _, id := range m[chatID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func startHub(t *testing.T, m Membership) *Hub {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	hub := NewHub(m, nil, nil)
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.done
	})
	return hub
}

func mustRegister(t *testing.T, hub *Hub, userID string) *Client {
	t.Helper()

	c := NewClient(userID, "", 0)
	if err := hub.RegisterClient(c); err != nil {
		t.Fatalf("register %s: %v", userID, err)
	}
	return c
}
