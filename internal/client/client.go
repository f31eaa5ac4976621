// Package client talks to a roamchat server over its REST API and websocket
// stream. Client implements conversation.Remote.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	stdhttp "net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roamchat/internal/proto"
	"github.com/vovakirdan/roamchat/internal/timeline"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxErrorBody          = 4 << 10
)

var ErrEmptyBaseURL = errors.New("client: base url is required")

// APIError is a failed REST call.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Options configures a Client.
type Options struct {
	HTTPClient *stdhttp.Client
	Logger     *zerolog.Logger
}

// Client is an authenticated connection to one server.
type Client struct {
	base  *url.URL
	token string
	http  *stdhttp.Client
	log   zerolog.Logger
}

// New creates a client for baseURL authenticating with token.
func New(baseURL, token string, opts Options) (*Client, error) {
	if baseURL == "" {
		return nil, ErrEmptyBaseURL
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &stdhttp.Client{Timeout: defaultRequestTimeout}
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{base: base, token: token, http: opts.HTTPClient, log: logger}, nil
}

// SendMessage stores draft. The draft id is sent as the idempotency key so a
// retried send never creates a second message.
func (c *Client) SendMessage(ctx context.Context, draft timeline.Message) (timeline.Message, error) {
	req := proto.SendRequest{
		ClientID: draft.ID,
		Type:     string(draft.Type),
		Content:  draft.Content,
	}
	var out proto.Message
	if err := c.do(ctx, stdhttp.MethodPost, chatPath(draft.ChatID, "messages"), nil, req, &out); err != nil {
		return timeline.Message{}, err
	}
	return ToTimeline(out), nil
}

// RetractMessage withdraws one of the caller's messages.
func (c *Client) RetractMessage(ctx context.Context, chatID, messageID string) error {
	return c.do(ctx, stdhttp.MethodDelete, chatPath(chatID, "messages", messageID), nil, nil, nil)
}

// History loads up to limit messages oldest first. An empty beforeID loads
// the latest ones; otherwise the page ends just before that message.
func (c *Client) History(ctx context.Context, chatID string, limit int, beforeID string) ([]timeline.Message, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if beforeID != "" {
		query.Set("before", beforeID)
	}

	var out proto.HistoryResponse
	if err := c.do(ctx, stdhttp.MethodGet, chatPath(chatID, "messages"), query, nil, &out); err != nil {
		return nil, err
	}
	msgs := make([]timeline.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, ToTimeline(m))
	}
	return msgs, nil
}

// MarkStatus acknowledges a message from another participant.
func (c *Client) MarkStatus(ctx context.Context, chatID, messageID string, status timeline.Status) error {
	req := proto.StatusRequest{Status: string(status)}
	return c.do(ctx, stdhttp.MethodPatch, chatPath(chatID, "messages", messageID, "status"), nil, req, nil)
}

// CreateChat creates a chat with the caller and members.
func (c *Client) CreateChat(ctx context.Context, name string, members []string) (proto.Chat, error) {
	var out proto.Chat
	err := c.do(ctx, stdhttp.MethodPost, "/api/chats", nil, proto.CreateChatRequest{Name: name, Members: members}, &out)
	return out, err
}

// ListChats lists the caller's chats, newest first.
func (c *Client) ListChats(ctx context.Context) ([]proto.Chat, error) {
	var out []proto.Chat
	err := c.do(ctx, stdhttp.MethodGet, "/api/chats", nil, nil, &out)
	return out, err
}

// Participants lists chat members with presence.
func (c *Client) Participants(ctx context.Context, chatID string) ([]proto.Participant, error) {
	var out []proto.Participant
	err := c.do(ctx, stdhttp.MethodGet, chatPath(chatID, "participants"), nil, nil, &out)
	return out, err
}

// Timeline fetches the server-built timeline in tz. An empty tz uses the
// server default.
func (c *Client) Timeline(ctx context.Context, chatID, tz string) (proto.TimelineResponse, error) {
	query := url.Values{}
	if tz != "" {
		query.Set("tz", tz)
	}
	var out proto.TimelineResponse
	err := c.do(ctx, stdhttp.MethodGet, chatPath(chatID, "timeline"), query, nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := *c.base
	u.Path = c.base.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := stdhttp.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("api call")

	if resp.StatusCode >= stdhttp.StatusBadRequest {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == stdhttp.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeAPIError reads a failed response. Bodies that are not an
// ErrorResponse (proxies, panics) are reported verbatim.
func decodeAPIError(resp *stdhttp.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("read error body: %v", err)}
	}
	var body proto.ErrorResponse
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = stdhttp.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Code: body.Code, Message: msg}
	}
	return &APIError{Status: resp.StatusCode, Code: body.Code, Message: body.Error}
}

func chatPath(chatID string, parts ...string) string {
	return strings.Join(append([]string{"/api/chats", chatID}, parts...), "/")
}

// ToTimeline converts a wire message into a timeline message.
func ToTimeline(m proto.Message) timeline.Message {
	typ := timeline.Type(m.Type)
	if typ == "" {
		typ = timeline.TypeText
	}
	return timeline.Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Type:      typ,
		Timestamp: time.UnixMilli(m.TS).UTC(),
		Status:    timeline.Status(m.Status),
	}
}
