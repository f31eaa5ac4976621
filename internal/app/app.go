package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roamchat/internal/auth"
	"github.com/vovakirdan/roamchat/internal/config"
	"github.com/vovakirdan/roamchat/internal/core"
	roamlog "github.com/vovakirdan/roamchat/internal/log"
	"github.com/vovakirdan/roamchat/internal/metrics"
	"github.com/vovakirdan/roamchat/internal/service/messages"
	"github.com/vovakirdan/roamchat/internal/store"
	"github.com/vovakirdan/roamchat/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/roamchat/internal/transport/http"
)

// App wires together storage, the hub and the HTTP transport.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	}
	authService := auth.NewService(st, jwtConfig)

	m := metrics.New()
	hub := core.NewHub(st, m, roamlog.Component(logger, "hub"))
	svc := messages.New(st, hub, messages.Options{
		Clock:           clock.New(),
		RetractWindow:   cfg.RetractWindow,
		HistoryLimit:    cfg.HistoryLimit,
		MaxContentBytes: int(cfg.MaxMessageBytes),
		Metrics:         m,
		Logger:          roamlog.Component(logger, "messages"),
	})
	server := transporthttp.NewServer(hub, authService, svc, cfg, m, roamlog.Component(logger, "http"))

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		log:             logger,
	}, nil
}

// Run serves until ctx is canceled or the listener fails. On shutdown the
// HTTP server drains first, then the hub drops its clients and the store is
// closed.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		a.hub.Run(hubCtx)
	}()
	defer func() {
		stopHub()
		<-hubDone
		a.log.Info().Msg("hub stopped")
	}()

	listenErr := make(chan error, 1)
	go func() {
		err := a.server.ListenAndServe()
		if errors.Is(err, stdhttp.ErrServerClosed) {
			err = nil
		}
		listenErr <- err
	}()

	select {
	case err := <-listenErr:
		return err
	case <-ctx.Done():
	}

	a.log.Info().Dur("timeout", a.shutdownTimeout).Msg("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-listenErr
}

func (a *App) cleanup() {
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close store")
		return
	}
	a.log.Info().Msg("store closed")
}
