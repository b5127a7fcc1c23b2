package ledger

import (
	"context"

	"github.com/carelens/regledger/internal/domain"
	domconv "github.com/carelens/regledger/internal/domain/conversation"
)

// ConversationStore is the storage contract for the conversation ledger.
type ConversationStore interface {
	CreateConversation(ctx context.Context, c *domconv.Conversation) (domconv.Conversation, error)
	GetConversation(ctx context.Context, id int64) (domconv.Conversation, error)
	ListConversations(ctx context.Context, ownerUserID string) ([]domconv.Conversation, error)
	SetDefaultTitle(ctx context.Context, id int64, title string) error

	AppendMessage(ctx context.Context, m *domconv.Message) (domconv.Message, error)
	ListMessages(ctx context.Context, conversationID int64) ([]domconv.Message, error)
	GetMessageOwner(ctx context.Context, messageID int64) (domconv.Message, string, error)
	DeleteMessage(ctx context.Context, messageID int64) error
	SetBookmark(ctx context.Context, messageID int64, bookmarked bool) error
}

// ChunkChecker verifies that cited chunks exist at append time.
type ChunkChecker interface {
	Exists(ctx context.Context, ids []int64) (bool, int64, error)
}

// Gate is the conversation access policy.
type Gate interface {
	Authorize(ctx context.Context, id domain.Identity, conversationID int64, action domain.Action) error
}
