package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/vovakirdan/roamchat/internal/client"
	"github.com/vovakirdan/roamchat/internal/conversation"
	"github.com/vovakirdan/roamchat/internal/timeline"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

// run sends one message through a conversation view and waits until the
// store has confirmed it and the stream has echoed it back.
func run() error {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	token := flag.String("token", os.Getenv("ROAMCHAT_TOKEN"), "bearer token")
	user := flag.String("user", "tester", "user id the token belongs to")
	chat := flag.String("chat", "", "chat id to post into")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	if *chat == "" {
		return errors.New("-chat is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c, err := client.New(*server, *token, client.Options{})
	if err != nil {
		return err
	}
	view := conversation.New(*chat, c, conversation.Options{ViewerID: *user, SendTimeout: *timeout})
	defer view.Close()

	w, err := c.Watch(ctx, *chat, view)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Close()
	log.Printf("subscribed to %s", *chat)

	draft, err := view.Send(*text, timeline.TypeText)
	if err != nil {
		return err
	}
	log.Printf("sending %s", draft.ID)

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("no confirmation: %w", ctx.Err())
		case <-w.Done():
			return fmt.Errorf("stream closed: %v", w.Err())
		case ev := <-view.Events():
			switch ev.Kind {
			case conversation.EventConfirmed:
				log.Printf("confirmed %s -> %s", ev.PreviousID, ev.MessageID)
				return nil
			case conversation.EventFailed:
				return fmt.Errorf("send failed: %w", ev.Err)
			}
		}
	}
}
