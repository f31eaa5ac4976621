package core

import (
	"context"
	"fmt"
	"testing"
)

func benchmarkChatBroadcast(b *testing.B, recipients int) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil, nil, nil)
	go hub.Run(ctx)

	clients := make([]*Client, 0, recipients)
	for i := range recipients {
		c := NewClient(fmt.Sprintf("u%d", i), "", 0)
		if err := hub.RegisterClient(c); err != nil {
			b.Fatalf("register: %v", err)
		}
		if err := hub.Subscribe(ctx, c, "bench"); err != nil {
			b.Fatalf("subscribe: %v", err)
		}
		<-c.Events // subscribed
		clients = append(clients, c)
	}

	// Drain events for all but the first recipient to avoid dropping.
	target := clients[0]
	for _, c := range clients[1:] {
		go func(cl *Client) {
			for range cl.Events {
			}
		}(c)
	}

	ev := &Event{Kind: EventMessageCreated, Chat: "bench", Message: Message{Content: "payload"}}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		hub.Publish(ev)
		<-target.Events
	}
}

func BenchmarkChatBroadcast_10(b *testing.B)  { benchmarkChatBroadcast(b, 10) }
func BenchmarkChatBroadcast_100(b *testing.B) { benchmarkChatBroadcast(b, 100) }
func BenchmarkChatBroadcast_500(b *testing.B) { benchmarkChatBroadcast(b, 500) }
