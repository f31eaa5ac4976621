package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/roamchat/internal/auth"
	"github.com/vovakirdan/roamchat/internal/client"
	"github.com/vovakirdan/roamchat/internal/config"
	"github.com/vovakirdan/roamchat/internal/conversation"
	"github.com/vovakirdan/roamchat/internal/timeline"
)

func newTokenCmd(opts *globalOptions) *cobra.Command {
	var (
		name string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token [user-id]",
		Short: "Mint a development token signed with the configured secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := config.Load(nil, opts.configPath)
			if err != nil {
				return err
			}
			token, err := auth.GenerateToken(&auth.JWTConfig{
				Secret:   []byte(cfg.JWTSecret),
				Issuer:   cfg.JWTIssuer,
				Audience: cfg.JWTAudience,
				TTL:      ttl,
			}, args[0], name)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func newChatsCmd(opts *globalOptions) *cobra.Command {
	var (
		create  string
		members []string
	)
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List your chats, or create one with --create",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			creating := cmd.Flags().Changed("create") || len(members) > 0
			if creating && len(members) == 0 {
				return errors.New("--create needs at least one user in --members")
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if creating {
				chat, err := c.CreateChat(cmd.Context(), create, members)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "created %s\n", chat.ID)
				return nil
			}
			chats, err := c.ListChats(cmd.Context())
			if err != nil {
				return err
			}
			renderChats(out, chats, time.Now())
			return nil
		},
	}
	cmd.Flags().StringVar(&create, "create", "", "name of the chat to create")
	cmd.Flags().StringSliceVar(&members, "members", nil, "user ids to add to a new chat")
	return cmd
}

func newTimelineCmd(opts *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "timeline [chat-id]",
		Short: "Print a chat grouped by day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			view, err := loadView(cmd.Context(), opts, c, args[0], limit)
			if err != nil {
				return err
			}
			defer view.Close()
			renderTimeline(cmd.OutOrStdout(), view, time.Now())
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "number of messages to load")
	return cmd
}

func newSendCmd(opts *globalOptions) *cobra.Command {
	var typ string
	cmd := &cobra.Command{
		Use:   "send [chat-id] [text]",
		Short: "Send a message and wait for the server to store it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			view, err := opts.openView(args[0], c)
			if err != nil {
				return err
			}
			defer view.Close()

			msg, err := view.Send(args[1], timeline.Type(typ))
			if err != nil {
				return err
			}
			for ev := range view.Events() {
				switch {
				case ev.Kind == conversation.EventConfirmed && ev.PreviousID == msg.ID:
					fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", ev.MessageID)
					return nil
				case ev.Kind == conversation.EventFailed && ev.MessageID == msg.ID:
					return fmt.Errorf("send failed: %w", ev.Err)
				}
			}
			return conversation.ErrClosed
		},
	}
	cmd.Flags().StringVar(&typ, "type", string(timeline.TypeText), "message type (text, image, voice, location)")
	return cmd
}

func newRetractCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retract [chat-id] [message-id]",
		Short: "Withdraw one of your messages while the window is open",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			view, err := loadView(cmd.Context(), opts, c, args[0], 0)
			if err != nil {
				return err
			}
			defer view.Close()

			if err := view.Retract(cmd.Context(), args[1]); err != nil {
				if errors.Is(err, conversation.ErrRetractWindowClosed) {
					return fmt.Errorf("too late to retract %s", args[1])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "retracted %s\n", args[1])
			return nil
		},
	}
}

func newWatchCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [chat-id]",
		Short: "Follow a chat and mark incoming messages as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := opts.client()
			if err != nil {
				return err
			}
			view, err := loadView(ctx, opts, c, args[0], 0)
			if err != nil {
				return err
			}
			defer view.Close()

			w, err := c.Watch(ctx, args[0], view)
			if err != nil {
				return err
			}
			defer w.Close()

			out := cmd.OutOrStdout()
			renderTimeline(out, view, time.Now())
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-w.Done():
					return w.Err()
				case ev, ok := <-view.Events():
					if !ok {
						return nil
					}
					msg, found := view.Message(ev.MessageID)
					renderEvent(out, ev, msg, found)
					if ev.Kind == conversation.EventAppended && found && !msg.FromViewer() {
						if err := w.Ack(ctx, msg.ID, timeline.StatusRead); err != nil {
							return err
						}
					}
				}
			}
		},
	}
}

// loadView opens a view and fills it with the chat history.
func loadView(ctx context.Context, opts *globalOptions, c *client.Client, chatID string, limit int) (*conversation.View, error) {
	view, err := opts.openView(chatID, c)
	if err != nil {
		return nil, err
	}
	history, err := c.History(ctx, chatID, limit, "")
	if err != nil {
		view.Close()
		return nil, err
	}
	if err := view.Load(history); err != nil {
		view.Close()
		return nil, err
	}
	// drain the load notification
	<-view.Events()
	return view, nil
}
