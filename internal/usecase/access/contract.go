package access

import (
	"context"

	domconv "github.com/carelens/regledger/internal/domain/conversation"
)

// ConversationReader reads conversations for ownership resolution.
type ConversationReader interface {
	GetConversation(ctx context.Context, id int64) (domconv.Conversation, error)
}
