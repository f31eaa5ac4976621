package proto

// REST payloads shared by the server and the client.

// SendRequest submits a message. ClientID is the sender's provisional id.
type SendRequest struct {
	ClientID string `json:"client_id"`
	Type     string `json:"type,omitempty"`
	Content  string `json:"content"`
}

// StatusRequest acknowledges a message.
type StatusRequest struct {
	Status string `json:"status"`
}

// CreateChatRequest creates a chat with the caller and Members.
type CreateChatRequest struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// Chat is a conversation on the wire.
type Chat struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsGroup   bool   `json:"is_group"`
	CreatedBy string `json:"created_by"`
	CreatedAt int64  `json:"created_at"`
}

// Participant is a chat member with presence.
type Participant struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Online      bool   `json:"online"`
}

// HistoryResponse lists messages oldest first.
type HistoryResponse struct {
	Messages []Message `json:"messages"`
}

// Entry is a message with its run flags.
type Entry struct {
	Message
	RunStart bool `json:"run_start"`
	RunEnd   bool `json:"run_end"`
}

// Bucket groups the entries of one calendar day.
type Bucket struct {
	Date    string  `json:"date"`
	Entries []Entry `json:"entries"`
}

// TimelineResponse is a chat laid out for the caller. Retractable maps message
// ids to the unix millisecond until which they may be retracted.
type TimelineResponse struct {
	Buckets     []Bucket         `json:"buckets"`
	Retractable map[string]int64 `json:"retractable"`
}

// ErrorResponse is the body of every failed REST call.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
