package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roamchat/internal/auth"
	"github.com/vovakirdan/roamchat/internal/config"
	"github.com/vovakirdan/roamchat/internal/core"
	"github.com/vovakirdan/roamchat/internal/metrics"
	"github.com/vovakirdan/roamchat/internal/service/messages"
)

// NewServer builds the HTTP server: REST API under /api, the websocket
// endpoint, health and metrics. /ws is mounted on the mux directly because
// gin's response writer cannot be hijacked.
func NewServer(hub *core.Hub, authService *auth.Service, svc *messages.Service, cfg *config.Config, m *metrics.Metrics, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)
	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	chats := NewChatHandlers(svc, cfg.Location(), logger)
	group := router.Group("/api")
	group.Use(AuthMiddleware(authService, logger))
	{
		group.POST("/chats", chats.CreateChat)
		group.GET("/chats", chats.ListChats)
		group.GET("/chats/:chat_id/participants", chats.Participants)
		group.GET("/chats/:chat_id/messages", chats.History)
		group.POST("/chats/:chat_id/messages", chats.SendMessage)
		group.GET("/chats/:chat_id/timeline", chats.Timeline)
		group.PATCH("/chats/:chat_id/messages/:message_id/status", chats.UpdateStatus)
		group.DELETE("/chats/:chat_id/messages/:message_id", chats.Retract)
	}

	api := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{stdhttp.MethodGet, stdhttp.MethodPost, stdhttp.MethodPatch, stdhttp.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(router)

	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(hub, authService, svc, cfg, m, logger))
	mux.Handle("/", api)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
