package conversation

import (
	"context"

	"github.com/vovakirdan/roamchat/internal/timeline"
)

//go:generate mockgen -destination=mocks/remote_mock.go -package=mocks github.com/vovakirdan/roamchat/internal/conversation Remote

// Remote is the messaging table a View persists to.
type Remote interface {
	// SendMessage stores draft and returns the stored message. draft.ID is the
	// provisional id and doubles as the idempotency key, so sending the same
	// draft twice yields the same stored message.
	SendMessage(ctx context.Context, draft timeline.Message) (timeline.Message, error)

	// RetractMessage withdraws a stored message.
	RetractMessage(ctx context.Context, chatID, messageID string) error
}
