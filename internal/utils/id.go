package utils

import (
	"strings"

	"github.com/google/uuid"
)

// provisionalPrefix marks ids generated on the client before the store confirms.
const provisionalPrefix = "tmp-"

// NewID returns a store-assigned message or chat identifier.
func NewID() string {
	return uuid.NewString()
}

// NewProvisionalID returns a locally generated id for an unconfirmed message.
// The same value is sent to the store as the idempotency key of the send.
func NewProvisionalID() string {
	return provisionalPrefix + uuid.NewString()
}

// IsProvisional reports whether id was produced by NewProvisionalID.
func IsProvisional(id string) bool {
	return strings.HasPrefix(id, provisionalPrefix)
}
