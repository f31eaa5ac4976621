package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
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
	"github.com/vovakirdan/roamchat/internal/store/sqlite"
)

type testEnv struct {
	server  *http.Server
	ts      *httptest.Server
	store   *sqlite.SQLiteStore
	hub     *core.Hub
	clock   *clock.Mock
	jwt     *auth.JWTConfig
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Default()
	cfg.JWTSecret = "test-secret"
	cfg.Timezone = "UTC"
	if mutate != nil {
		mutate(&cfg)
	}

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      time.Hour,
	}
	authService := auth.NewService(st, jwtConfig)

	disabledLogger := zerolog.Nop()
	m := metrics.New()
	hub := core.NewHub(st, m, &disabledLogger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	clk := clock.NewMock()
	clk.Set(time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC))
	svc := messages.New(st, hub, messages.Options{
		Clock:         clk,
		RetractWindow: cfg.RetractWindow,
		HistoryLimit:  cfg.HistoryLimit,
		Metrics:       m,
	})

	server := NewServer(hub, authService, svc, &cfg, m, &disabledLogger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{server: server, ts: ts, store: st, hub: hub, clock: clk, jwt: jwtConfig, metrics: m}
}

// login mints a token and makes sure the profile exists.
func (e *testEnv) login(t *testing.T, userID string) string {
	t.Helper()

	token, err := auth.GenerateToken(e.jwt, userID, strings.ToUpper(userID[:1])+userID[1:])
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if err := e.store.UpsertUser(context.Background(), &store.User{ID: userID, DisplayName: userID}); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp := httptest.NewRecorder()
	e.server.Handler.ServeHTTP(resp, req)
	return resp
}

func (e *testEnv) createChat(t *testing.T, token string, members ...string) proto.Chat {
	t.Helper()

	resp := e.do(t, http.MethodPost, "/api/chats", token, proto.CreateChatRequest{Name: "trip", Members: members})
	if resp.Code != http.StatusCreated {
		t.Fatalf("create chat: expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var chat proto.Chat
	decode(t, resp, &chat)
	return chat
}

func (e *testEnv) send(t *testing.T, token, chatID, clientID, content string) proto.Message {
	t.Helper()

	resp := e.do(t, http.MethodPost, "/api/chats/"+chatID+"/messages", token, proto.SendRequest{ClientID: clientID, Content: content})
	if resp.Code != http.StatusCreated {
		t.Fatalf("send: expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var msg proto.Message
	decode(t, resp, &msg)
	return msg
}

func (e *testEnv) dial(t *testing.T, ctx context.Context, query string) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws" + query
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func decode(t *testing.T, resp *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(resp.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", resp.Body.String(), err)
	}
}

func writeFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string, data any) {
	t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// readUntil reads frames until one matches event, or an error frame when
// event is empty.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, event string) proto.Outbound {
	t.Helper()

	for {
		var out proto.Outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			t.Fatalf("read outbound waiting for %q: %v", event, err)
		}
		if event == "" && out.Type == proto.OutboundTypeError {
			return out
		}
		if out.Type == proto.OutboundTypeEvent && out.Event == event {
			return out
		}
	}
}
