// Package access implements the conversation policy gate. Every read or
// write that touches a conversation goes through Authorize first.
package access

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/carelens/regledger/internal/domain"
	"github.com/carelens/regledger/internal/logger"
	"github.com/carelens/regledger/internal/metrics"
)

// Service decides whether an identity may act on a conversation.
type Service struct {
	convs ConversationReader
}

// New creates an access service.
func New(convs ConversationReader) *Service {
	return &Service{convs: convs}
}

// Authorize allows the action when the identity is privileged, or when it
// carries a user id matching the conversation owner. An identity without a
// user id is denied before any storage lookup: absent identity is never
// treated as a match for anything.
func (s *Service) Authorize(ctx context.Context, id domain.Identity, conversationID int64, action domain.Action) error {
	if id.Privileged {
		return nil
	}
	if id.Anonymous() {
		s.deny(ctx, action, conversationID, "anonymous")
		return fmt.Errorf("%w: no user identity", domain.ErrUnauthorized)
	}

	conv, err := s.convs.GetConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("resolve conversation owner: %w", err)
	}
	if conv.OwnerUserID() != id.UserID {
		s.deny(ctx, action, conversationID, "not owner")
		return fmt.Errorf("%w: conversation %d", domain.ErrUnauthorized, conversationID)
	}
	return nil
}

func (s *Service) deny(ctx context.Context, action domain.Action, conversationID int64, reason string) {
	metrics.GateDenialsTotal.WithLabelValues(string(action)).Inc()
	logger.FromContext(ctx).Warn("Access denied",
		zap.Int64("conversation_id", conversationID),
		zap.String("action", string(action)),
		zap.String("reason", reason),
	)
}
