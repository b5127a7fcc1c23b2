package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/carelens/regledger/internal/domain"
	domconv "github.com/carelens/regledger/internal/domain/conversation"
)

type mockConvReader struct {
	conv  domconv.Conversation
	err   error
	calls int
}

func (m *mockConvReader) GetConversation(_ context.Context, _ int64) (domconv.Conversation, error) {
	m.calls++
	return m.conv, m.err
}

func ownedBy(userID string) domconv.Conversation {
	return domconv.Reconstruct(1, userID, "title", time.Now())
}

func TestAuthorize_Owner(t *testing.T) {
	svc := New(&mockConvReader{conv: ownedBy("U1")})
	id := domain.Identity{UserID: "U1"}

	if err := svc.Authorize(context.Background(), id, 1, domain.ActionRead); err != nil {
		t.Errorf("read: %v", err)
	}
	if err := svc.Authorize(context.Background(), id, 1, domain.ActionWrite); err != nil {
		t.Errorf("write: %v", err)
	}
}

func TestAuthorize_NonOwner(t *testing.T) {
	svc := New(&mockConvReader{conv: ownedBy("U1")})
	id := domain.Identity{UserID: "U2"}

	err := svc.Authorize(context.Background(), id, 1, domain.ActionRead)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestAuthorize_Privileged(t *testing.T) {
	repo := &mockConvReader{conv: ownedBy("U1")}
	svc := New(repo)
	id := domain.Identity{UserID: "operator", Privileged: true}

	if err := svc.Authorize(context.Background(), id, 1, domain.ActionWrite); err != nil {
		t.Fatalf("privileged: %v", err)
	}
	if repo.calls != 0 {
		t.Errorf("privileged access read storage %d times, want 0", repo.calls)
	}
}

func TestAuthorize_Anonymous(t *testing.T) {
	// An identity without a user id is denied even when the conversation
	// owner column were ever empty: absence never matches absence.
	repo := &mockConvReader{conv: ownedBy("")}
	svc := New(repo)

	err := svc.Authorize(context.Background(), domain.Identity{}, 1, domain.ActionRead)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if repo.calls != 0 {
		t.Errorf("anonymous denial read storage %d times, want 0", repo.calls)
	}
}

func TestAuthorize_ConversationMissing(t *testing.T) {
	svc := New(&mockConvReader{err: domain.ErrConversationNotFound})
	id := domain.Identity{UserID: "U1"}

	err := svc.Authorize(context.Background(), id, 42, domain.ActionRead)
	if !errors.Is(err, domain.ErrConversationNotFound) {
		t.Errorf("err = %v, want ErrConversationNotFound", err)
	}
}
