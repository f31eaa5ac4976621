package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeBadRequest          = "bad_request"
	ErrCodeUnauthorized        = "unauthorized"
	ErrCodeNotParticipant      = "not_participant"
	ErrCodeAlreadySubscribed   = "already_subscribed"
	ErrCodeNotSubscribed       = "not_subscribed"
	ErrCodeNotFound            = "not_found"
	ErrCodeNotAuthor           = "not_author"
	ErrCodeRetractWindowClosed = "retract_window_closed"
	ErrCodeInvalidStatus       = "invalid_status"
	ErrCodeRateLimited         = "rate_limited"
	ErrCodeInternal            = "internal"
)

var (
	ErrHubStopped     = errors.New("hub stopped")
	ErrMissingChat    = errors.New("chat id is required")
	ErrNotParticipant = errors.New("not a participant of this chat")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

// NewError builds a CoreError for transports that report domain errors.
func NewError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
