// Package ledger implements the conversation ledger: ordered append,
// history reads, deletion and bookmarks, all behind the access gate.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/carelens/regledger/internal/domain"
	domconv "github.com/carelens/regledger/internal/domain/conversation"
	"github.com/carelens/regledger/internal/metrics"
	"github.com/carelens/regledger/internal/retry"
)

// Service orchestrates conversation and message operations.
type Service struct {
	convs    ConversationStore
	chunks   ChunkChecker
	gate     Gate
	retryCfg retry.Config
}

// New creates a ledger service. retryCfg bounds how often a lost append race
// is replayed before the conflict is surfaced to the caller.
func New(convs ConversationStore, chunks ChunkChecker, gate Gate, retryCfg retry.Config) *Service {
	return &Service{convs: convs, chunks: chunks, gate: gate, retryCfg: retryCfg}
}

// CreateConversation starts a conversation owned by the calling identity.
func (s *Service) CreateConversation(ctx context.Context, id domain.Identity, title string) (domconv.Conversation, error) {
	if id.UserID == "" {
		return domconv.Conversation{}, fmt.Errorf("%w: conversations require an owner", domain.ErrUnauthorized)
	}
	draft, err := domconv.New(id.UserID, title)
	if err != nil {
		return domconv.Conversation{}, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	created, err := s.convs.CreateConversation(ctx, &draft)
	if err != nil {
		return domconv.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return created, nil
}

// Conversations lists the calling identity's own conversations, newest first.
func (s *Service) Conversations(ctx context.Context, id domain.Identity) ([]domconv.Conversation, error) {
	if id.UserID == "" {
		return nil, fmt.Errorf("%w: no user identity", domain.ErrUnauthorized)
	}
	convs, err := s.convs.ListConversations(ctx, id.UserID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// Append validates a message draft and appends it to its conversation with
// the next contiguous index. Citations must reference existing chunks; the
// stored copy is a snapshot and never revisits the chunk afterwards. A write
// that loses the index race is replayed internally, so callers only ever see
// a conflict error when the store stays contended past the retry budget.
func (s *Service) Append(ctx context.Context, id domain.Identity, draft *domconv.Message) (domconv.Message, error) {
	if err := s.gate.Authorize(ctx, id, draft.ConversationID(), domain.ActionWrite); err != nil {
		return domconv.Message{}, err
	}

	if err := s.checkCitations(ctx, draft.Citations()); err != nil {
		return domconv.Message{}, err
	}

	var appended domconv.Message
	err := retry.Do(ctx, s.retryCfg,
		func(err error) bool {
			if errors.Is(err, domain.ErrStoreConflict) {
				metrics.LedgerAppendConflicts.Inc()
				return true
			}
			return false
		},
		func() error {
			var appendErr error
			appended, appendErr = s.convs.AppendMessage(ctx, draft)
			return appendErr
		},
	)
	if err != nil {
		metrics.LedgerAppendsTotal.WithLabelValues("error").Inc()
		return domconv.Message{}, fmt.Errorf("append message: %w", err)
	}
	metrics.LedgerAppendsTotal.WithLabelValues("ok").Inc()

	// The first user message names an untitled conversation.
	if appended.Index() == 0 && appended.Role() == domconv.RoleUser {
		if err := s.convs.SetDefaultTitle(ctx, appended.ConversationID(), appended.Content()); err != nil {
			return appended, fmt.Errorf("set conversation title: %w", err)
		}
	}
	return appended, nil
}

// Messages returns a conversation's history in append order.
func (s *Service) Messages(ctx context.Context, id domain.Identity, conversationID int64) ([]domconv.Message, error) {
	if err := s.gate.Authorize(ctx, id, conversationID, domain.ActionRead); err != nil {
		return nil, err
	}
	msgs, err := s.convs.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// Delete removes a single message. Indices of the remaining messages keep
// their values; the resulting gap is permanent.
func (s *Service) Delete(ctx context.Context, id domain.Identity, messageID int64) error {
	msg, _, err := s.convs.GetMessageOwner(ctx, messageID)
	if err != nil {
		return err
	}
	if err := s.gate.Authorize(ctx, id, msg.ConversationID(), domain.ActionWrite); err != nil {
		return err
	}
	if err := s.convs.DeleteMessage(ctx, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// SetBookmark flags or unflags a message for the conversation owner.
func (s *Service) SetBookmark(ctx context.Context, id domain.Identity, messageID int64, bookmarked bool) error {
	msg, _, err := s.convs.GetMessageOwner(ctx, messageID)
	if err != nil {
		return err
	}
	if err := s.gate.Authorize(ctx, id, msg.ConversationID(), domain.ActionWrite); err != nil {
		return err
	}
	if err := s.convs.SetBookmark(ctx, messageID, bookmarked); err != nil {
		return fmt.Errorf("set bookmark: %w", err)
	}
	return nil
}

func (s *Service) checkCitations(ctx context.Context, cits []domconv.Citation) error {
	if len(cits) == 0 {
		return nil
	}
	ids := make([]int64, len(cits))
	for i, c := range cits {
		ids[i] = c.ChunkID
	}
	ok, missing, err := s.chunks.Exists(ctx, ids)
	if err != nil {
		return fmt.Errorf("check cited chunks: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: cited chunk %d does not exist", domain.ErrValidation, missing)
	}
	return nil
}
