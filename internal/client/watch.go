package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	stdhttp "net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/roamchat/internal/proto"
	"github.com/vovakirdan/roamchat/internal/timeline"
)

// Sink receives pushed changes of one chat. *conversation.View implements it.
type Sink interface {
	ApplyIncoming(msg timeline.Message, clientID string) bool
	ApplyStatus(id string, status timeline.Status) bool
	ApplyRetracted(id string) bool
}

// ServerError is an error frame received on the stream.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

var ErrUnexpectedFrame = errors.New("unexpected frame")

// Watcher streams one chat into a Sink until its context ends or Close is
// called.
type Watcher struct {
	conn   *websocket.Conn
	chatID string
	sink   Sink
	cancel context.CancelFunc

	done chan struct{}
	mu   sync.Mutex
	err  error
}

// Watch connects to the server, subscribes to chatID and starts forwarding
// events to sink. It returns once the subscription is active.
func (c *Client) Watch(ctx context.Context, chatID string, sink Sink) (*Watcher, error) {
	conn, _, err := websocket.Dial(ctx, c.wsURL(), &websocket.DialOptions{
		HTTPHeader: stdhttp.Header{"Authorization": []string{"Bearer " + c.token}},
	})
	if err != nil {
		return nil, fmt.Errorf("dial stream: %w", err)
	}

	if err := expectEvent(ctx, conn, proto.EventReady); err != nil {
		conn.Close(websocket.StatusNormalClosure, "handshake failed")
		return nil, fmt.Errorf("handshake: %w", err)
	}
	if err := writeInbound(ctx, conn, proto.InboundTypeSubscribe, proto.ChatData{ChatID: chatID}); err != nil {
		conn.Close(websocket.StatusNormalClosure, "subscribe failed")
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	if err := expectEvent(ctx, conn, proto.EventSubscribed); err != nil {
		conn.Close(websocket.StatusNormalClosure, "subscribe failed")
		return nil, fmt.Errorf("subscribe %s: %w", chatID, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		conn:   conn,
		chatID: chatID,
		sink:   sink,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()
	go w.run(runCtx)

	c.log.Debug().Str("chat_id", chatID).Msg("watching chat")
	return w, nil
}

// Ack reports a message as delivered or read over the stream.
func (w *Watcher) Ack(ctx context.Context, messageID string, status timeline.Status) error {
	return writeInbound(ctx, w.conn, proto.InboundTypeAck, proto.AckData{
		ChatID:    w.chatID,
		MessageID: messageID,
		Status:    string(status),
	})
}

// Done is closed when the watcher stops.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Err returns why the watcher stopped. It is nil after Close.
func (w *Watcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close stops the watcher and waits for it to exit.
func (w *Watcher) Close() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	defer w.conn.Close(websocket.StatusNormalClosure, "bye")

	for {
		var out proto.Outbound
		if err := wsjson.Read(ctx, w.conn, &out); err != nil {
			if ctx.Err() == nil {
				w.setErr(err)
			}
			return
		}
		if out.Type == proto.OutboundTypeError {
			// Rejected acks are not fatal.
			continue
		}
		if err := w.dispatch(out); err != nil {
			w.setErr(err)
			return
		}
	}
}

func (w *Watcher) dispatch(out proto.Outbound) error {
	switch out.Event {
	case proto.EventMessageCreated:
		var m proto.Message
		if err := json.Unmarshal(out.Data, &m); err != nil {
			return fmt.Errorf("decode %s: %w", out.Event, err)
		}
		w.sink.ApplyIncoming(ToTimeline(m), m.ClientID)
	case proto.EventMessageStatus:
		var m proto.Message
		if err := json.Unmarshal(out.Data, &m); err != nil {
			return fmt.Errorf("decode %s: %w", out.Event, err)
		}
		w.sink.ApplyStatus(m.ID, timeline.Status(m.Status))
	case proto.EventMessageRetracted:
		var data proto.RetractedData
		if err := json.Unmarshal(out.Data, &data); err != nil {
			return fmt.Errorf("decode %s: %w", out.Event, err)
		}
		w.sink.ApplyRetracted(data.MessageID)
	}
	return nil
}

func (w *Watcher) setErr(err error) {
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
}

func (c *Client) wsURL() string {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(c.base.Path, "/") + "/ws"
	return u.String()
}

func writeInbound(ctx context.Context, conn *websocket.Conn, typ string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload})
}

// expectEvent reads the next frame and checks it is event.
func expectEvent(ctx context.Context, conn *websocket.Conn, event string) error {
	var out proto.Outbound
	if err := wsjson.Read(ctx, conn, &out); err != nil {
		return err
	}
	if out.Type == proto.OutboundTypeError && out.Error != nil {
		return &ServerError{Code: out.Error.Code, Message: out.Error.Msg}
	}
	if out.Type != proto.OutboundTypeEvent || out.Event != event {
		return fmt.Errorf("%w: want %s, got %s %s", ErrUnexpectedFrame, event, out.Type, out.Event)
	}
	return nil
}
