package http

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/roamchat/internal/config"
	"github.com/vovakirdan/roamchat/internal/core"
	"github.com/vovakirdan/roamchat/internal/proto"
)

func TestWebSocketUpgradeThroughServer(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.login(t, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn := env.dial(t, ctx, "?token="+alice)
	var out proto.Outbound
	if err := wsjson.Read(ctx, conn, &out); err != nil {
		t.Fatalf("no ready frame after upgrade: %v", err)
	}
	if out.Type != proto.OutboundTypeEvent || out.Event != proto.EventReady {
		t.Fatalf("first frame should be ready, got %+v", out)
	}

	resp, err := http.Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health behind the mux: expected 200, got %d", resp.StatusCode)
	}
}

func TestWebSocketSubscribeReceiveAndAck(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.login(t, "alice")
	bob := env.login(t, "bob")
	chat := env.createChat(t, alice, "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Bob authenticates on the upgrade request, Alice with a hello frame.
	connB := env.dial(t, ctx, "?token="+bob)
	readUntil(t, ctx, connB, proto.EventReady)

	connA := env.dial(t, ctx, "")
	writeFrame(t, ctx, connA, proto.InboundTypeHello, proto.HelloData{Token: alice, Protocol: proto.ProtocolVersion})
	ready := readUntil(t, ctx, connA, proto.EventReady)
	var readyData proto.ReadyData
	if err := json.Unmarshal(ready.Data, &readyData); err != nil || readyData.User != "alice" {
		t.Fatalf("unexpected ready payload: %s (%v)", ready.Data, err)
	}

	writeFrame(t, ctx, connA, proto.InboundTypeSubscribe, proto.ChatData{ChatID: chat.ID})
	writeFrame(t, ctx, connB, proto.InboundTypeSubscribe, proto.ChatData{ChatID: chat.ID})
	readUntil(t, ctx, connA, proto.EventSubscribed)
	readUntil(t, ctx, connB, proto.EventSubscribed)

	if !env.hub.Online("alice") || !env.hub.Online("bob") {
		t.Fatalf("both users should be online")
	}

	sent := env.send(t, alice, chat.ID, "tmp-1", "hi there")

	created := readUntil(t, ctx, connB, proto.EventMessageCreated)
	var msg proto.Message
	if err := json.Unmarshal(created.Data, &msg); err != nil {
		t.Fatalf("unmarshal event data: %v", err)
	}
	if msg.ID != sent.ID || msg.SenderID != "alice" || msg.Content != "hi there" || msg.ClientID != "tmp-1" {
		t.Fatalf("unexpected event payload: %+v", msg)
	}

	writeFrame(t, ctx, connB, proto.InboundTypeAck, proto.AckData{ChatID: chat.ID, MessageID: sent.ID, Status: "read"})
	statusEv := readUntil(t, ctx, connA, proto.EventMessageStatus)
	if err := json.Unmarshal(statusEv.Data, &msg); err != nil {
		t.Fatalf("unmarshal status data: %v", err)
	}
	if msg.ID != sent.ID || msg.Status != "read" {
		t.Fatalf("unexpected status payload: %+v", msg)
	}

	resp := env.do(t, http.MethodDelete, "/api/chats/"+chat.ID+"/messages/"+sent.ID, alice, nil)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("retract: expected 204, got %d", resp.Code)
	}
	retracted := readUntil(t, ctx, connB, proto.EventMessageRetracted)
	var gone proto.RetractedData
	if err := json.Unmarshal(retracted.Data, &gone); err != nil || gone.MessageID != sent.ID {
		t.Fatalf("unexpected retracted payload: %s (%v)", retracted.Data, err)
	}
}

func TestWebSocketRejectsOutsiders(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.login(t, "alice")
	env.login(t, "bob")
	carol := env.login(t, "carol")
	chat := env.createChat(t, alice, "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx, "?token="+carol)
	readUntil(t, ctx, conn, proto.EventReady)

	writeFrame(t, ctx, conn, proto.InboundTypeSubscribe, proto.ChatData{ChatID: chat.ID})
	out := readUntil(t, ctx, conn, "")
	if out.Error == nil || out.Error.Code != core.ErrCodeNotParticipant {
		t.Fatalf("expected not_participant error, got %+v", out)
	}

	writeFrame(t, ctx, conn, "shout", map[string]string{})
	out = readUntil(t, ctx, conn, "")
	if out.Error == nil || out.Error.Code != "invalid_message" {
		t.Fatalf("expected invalid_message error, got %+v", out)
	}
}

func TestWebSocketInvalidToken(t *testing.T) {
	env := newTestEnv(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn := env.dial(t, ctx, "")
	writeFrame(t, ctx, conn, proto.InboundTypeHello, proto.HelloData{Token: "forged"})

	var out proto.Outbound
	if err := wsjson.Read(ctx, conn, &out); err != nil {
		t.Fatalf("read outbound: %v", err)
	}
	if out.Type != proto.OutboundTypeError || out.Error == nil || out.Error.Code != core.ErrCodeUnauthorized {
		t.Fatalf("expected unauthorized error, got %+v", out)
	}
	if err := wsjson.Read(ctx, conn, &out); err == nil {
		t.Fatalf("expected the connection to be closed")
	}
}

func TestProtocolVersionMismatch(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.login(t, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn := env.dial(t, ctx, "")
	writeFrame(t, ctx, conn, proto.InboundTypeHello, proto.HelloData{Token: alice, Protocol: proto.ProtocolVersion + 1})

	var out proto.Outbound
	if err := wsjson.Read(ctx, conn, &out); err != nil {
		t.Fatalf("read outbound: %v", err)
	}
	if out.Type != proto.OutboundTypeError || out.Error == nil || out.Error.Code != "unsupported_version" {
		t.Fatalf("expected unsupported_version error, got %+v", out)
	}
}

func TestWebSocketRateLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.WSRateLimit = 0.001
		cfg.WSRateBurst = 1
	})
	alice := env.login(t, "alice")
	env.login(t, "bob")
	chat := env.createChat(t, alice, "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn := env.dial(t, ctx, "?token="+alice)
	readUntil(t, ctx, conn, proto.EventReady)

	writeFrame(t, ctx, conn, proto.InboundTypeSubscribe, proto.ChatData{ChatID: chat.ID})
	readUntil(t, ctx, conn, proto.EventSubscribed)

	writeFrame(t, ctx, conn, proto.InboundTypeUnsubscribe, proto.ChatData{ChatID: chat.ID})
	out := readUntil(t, ctx, conn, "")
	if out.Error == nil || out.Error.Code != core.ErrCodeRateLimited {
		t.Fatalf("expected rate_limited error, got %+v", out)
	}
}

func TestOriginPatterns(t *testing.T) {
	got := originPatterns([]string{"http://localhost:3000", "https://app.roam.example", "*.roam.example"})
	want := []string{"localhost:3000", "app.roam.example", "*.roam.example"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if got := originPatterns([]string{"https://a.example", "*"}); len(got) != 1 || got[0] != "*" {
		t.Fatalf("wildcard should allow every origin, got %v", got)
	}
}
