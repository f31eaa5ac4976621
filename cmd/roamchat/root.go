package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/roamchat/internal/client"
	"github.com/vovakirdan/roamchat/internal/config"
	"github.com/vovakirdan/roamchat/internal/conversation"
	roamlog "github.com/vovakirdan/roamchat/internal/log"
)

type globalOptions struct {
	server     string
	token      string
	user       string
	tz         string
	configPath string
	verbose    bool
}

func (o *globalOptions) logger() *zerolog.Logger {
	level := "warn"
	if o.verbose {
		level = "debug"
	}
	return roamlog.NewWithWriter(os.Stderr, level, "console")
}

func (o *globalOptions) location() (*time.Location, error) {
	if o.tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(o.tz)
	if err != nil {
		return nil, fmt.Errorf("unknown time zone %q: %w", o.tz, err)
	}
	return loc, nil
}

func (o *globalOptions) client() (*client.Client, error) {
	if o.token == "" {
		return nil, errors.New("a token is required (--token or ROAMCHAT_TOKEN)")
	}
	return client.New(o.server, o.token, client.Options{Logger: o.logger()})
}

// openView builds a conversation view backed by the server.
func (o *globalOptions) openView(chatID string, c *client.Client) (*conversation.View, error) {
	if o.user == "" {
		return nil, errors.New("a user id is required (--user or ROAMCHAT_USER)")
	}
	loc, err := o.location()
	if err != nil {
		return nil, err
	}
	cfg, _, err := config.Load(nil, o.configPath)
	if err != nil {
		return nil, err
	}
	return conversation.New(chatID, c, conversation.Options{
		ViewerID:      o.user,
		SendTimeout:   cfg.SendTimeout,
		RetractWindow: cfg.RetractWindow,
		Location:      loc,
		Logger:        o.logger(),
	}), nil
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:          "roamchat",
		Short:        "Terminal client for roamchat conversations",
		SilenceUsage: true,
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.server, "server", envOr("ROAMCHAT_SERVER", "http://localhost:8080"), "server base URL")
	flags.StringVar(&opts.token, "token", os.Getenv("ROAMCHAT_TOKEN"), "bearer token")
	flags.StringVar(&opts.user, "user", os.Getenv("ROAMCHAT_USER"), "your user id")
	flags.StringVar(&opts.tz, "tz", "", "time zone for day grouping (default local)")
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file path (default is ./config.yaml)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose output")

	cmd.AddCommand(
		newTokenCmd(opts),
		newChatsCmd(opts),
		newTimelineCmd(opts),
		newSendCmd(opts),
		newRetractCmd(opts),
		newWatchCmd(opts),
	)
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
