package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roamchat/internal/auth"
	"github.com/vovakirdan/roamchat/internal/config"
	"github.com/vovakirdan/roamchat/internal/core"
	"github.com/vovakirdan/roamchat/internal/metrics"
	"github.com/vovakirdan/roamchat/internal/proto"
	"github.com/vovakirdan/roamchat/internal/service/messages"
	"github.com/vovakirdan/roamchat/internal/store"
)

const helloTimeout = 10 * time.Second

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub      *core.Hub
	auth     *auth.Service
	messages *messages.Service
	cfg      *config.Config
	metrics  *metrics.Metrics
	log      *zerolog.Logger
	origins  []string
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, authService *auth.Service, svc *messages.Service, cfg *config.Config, m *metrics.Metrics, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{
		hub:      hub,
		auth:     authService,
		messages: svc,
		cfg:      cfg,
		metrics:  m,
		log:      logger,
		origins:  originPatterns(cfg.AllowedOrigins),
	}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	user, err := h.handshake(ctx, conn, r)
	if err != nil {
		h.log.Debug().Err(err).Msg("ws handshake failed")
		conn.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	client := core.NewClient(user.ID, user.DisplayName, 0)
	if err := h.hub.RegisterClient(client); err != nil {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.hub.UnregisterClient(client)
	h.metrics.ConnOpened()
	defer h.metrics.ConnClosed()

	ready, err := proto.NewEvent(proto.EventReady, proto.ReadyData{User: user.ID, Protocol: proto.ProtocolVersion})
	if err != nil {
		return
	}
	if err := wsjson.Write(ctx, conn, ready); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("user_id", client.UserID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// handshake authenticates the connection from the upgrade request or, failing
// that, from a hello frame.
func (h *WSHandler) handshake(ctx context.Context, conn *websocket.Conn, r *stdhttp.Request) (*store.User, error) {
	token := r.URL.Query().Get("token")
	if t, ok := bearerToken(r.Header.Get("Authorization")); ok {
		token = t
	}

	if token == "" {
		helloCtx, cancel := context.WithTimeout(ctx, helloTimeout)
		defer cancel()

		var inbound proto.Inbound
		if err := wsjson.Read(helloCtx, conn, &inbound); err != nil {
			return nil, err
		}
		if inbound.Type != proto.InboundTypeHello {
			h.writeError(ctx, conn, core.ErrCodeUnauthorized, "hello required")
			return nil, errors.New("first frame is not hello")
		}
		var hello proto.HelloData
		if err := json.Unmarshal(inbound.Data, &hello); err != nil {
			h.writeError(ctx, conn, core.ErrCodeBadRequest, "invalid hello")
			return nil, err
		}
		if hello.Protocol != 0 && hello.Protocol != proto.ProtocolVersion {
			h.writeError(ctx, conn, "unsupported_version", "unsupported protocol version")
			return nil, errors.New("unsupported protocol version")
		}
		token = hello.Token
	}

	user, err := h.auth.Authenticate(ctx, token)
	if err != nil {
		h.writeError(ctx, conn, core.ErrCodeUnauthorized, "invalid token")
		return nil, err
	}
	return user, nil
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	limiter := newRateLimiter(h.cfg.WSRateLimit, h.cfg.WSRateBurst)

	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}
		if !limiter.allow() {
			if err := h.writeError(ctx, conn, core.ErrCodeRateLimited, "too many messages"); err != nil {
				return err
			}
			continue
		}

		code, msg := h.dispatch(ctx, client, inbound)
		if code != "" {
			if err := h.writeError(ctx, conn, code, msg); err != nil {
				return err
			}
		}
	}
}

// dispatch runs one inbound frame and returns an error code when it fails.
func (h *WSHandler) dispatch(ctx context.Context, client *core.Client, inbound proto.Inbound) (string, string) {
	switch inbound.Type {
	case proto.InboundTypeHello:
		return "", ""
	case proto.InboundTypeSubscribe, proto.InboundTypeUnsubscribe:
		var data proto.ChatData
		if err := json.Unmarshal(inbound.Data, &data); err != nil || data.ChatID == "" {
			return core.ErrCodeBadRequest, "chat_id is required"
		}
		var err error
		if inbound.Type == proto.InboundTypeSubscribe {
			err = h.hub.Subscribe(ctx, client, data.ChatID)
		} else {
			err = h.hub.Unsubscribe(ctx, client, data.ChatID)
		}
		if errors.Is(err, core.ErrNotParticipant) {
			return core.ErrCodeNotParticipant, err.Error()
		}
		if err != nil {
			h.log.Warn().Err(err).Str("user_id", client.UserID).Msg("subscription failed")
			return core.ErrCodeInternal, "subscription failed"
		}
		return "", ""
	case proto.InboundTypeAck:
		var data proto.AckData
		if err := json.Unmarshal(inbound.Data, &data); err != nil || data.ChatID == "" || data.MessageID == "" {
			return core.ErrCodeBadRequest, "chat_id and message_id are required"
		}
		if _, err := h.messages.UpdateStatus(ctx, data.ChatID, data.MessageID, client.UserID, data.Status); err != nil {
			_, code := serviceError(err)
			if code == core.ErrCodeInternal {
				h.log.Error().Err(err).Str("user_id", client.UserID).Msg("ack failed")
				return code, "internal error"
			}
			return code, err.Error()
		}
		return "", ""
	default:
		return "invalid_message", "unknown message type"
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			out, err := outboundFromEvent(event)
			if err != nil {
				h.log.Error().Err(err).Msg("encode ws event")
				continue
			}
			if err := wsjson.Write(ctx, conn, out); err != nil {
				h.log.Error().Err(err).Str("user_id", client.UserID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) writeError(ctx context.Context, conn *websocket.Conn, code, msg string) error {
	return wsjson.Write(ctx, conn, proto.NewError(code, msg))
}

// originPatterns turns allowed origins into the host patterns the websocket
// library matches against.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			patterns = append(patterns, o)
			continue
		}
		patterns = append(patterns, u.Host)
	}
	return patterns
}
