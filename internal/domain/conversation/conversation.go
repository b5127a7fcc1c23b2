// Package conversation holds the append-only conversation ledger domain model.
package conversation

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// MaxTitleLen is the maximum stored conversation title length in runes.
// Longer titles (typically derived from the first user message) are truncated.
const MaxTitleLen = 120

// Conversation is an append-only ordered message log owned by a single user.
type Conversation struct {
	id          int64
	ownerUserID string
	title       string
	createdAt   time.Time
}

// New validates and creates a Conversation prior to insertion.
func New(ownerUserID, title string) (Conversation, error) {
	if ownerUserID == "" {
		return Conversation{}, fmt.Errorf("owner user id is required")
	}
	return Conversation{ownerUserID: ownerUserID, title: TruncateTitle(title)}, nil
}

// Reconstruct creates a Conversation without validation (storage hydration).
func Reconstruct(id int64, ownerUserID, title string, createdAt time.Time) Conversation {
	return Conversation{id: id, ownerUserID: ownerUserID, title: title, createdAt: createdAt}
}

// ID returns the conversation identifier (0 before insertion).
func (c *Conversation) ID() int64 { return c.id }

// OwnerUserID returns the exclusive owner of the conversation.
func (c *Conversation) OwnerUserID() string { return c.ownerUserID }

// Title returns the conversation title, possibly empty until first append.
func (c *Conversation) Title() string { return c.title }

// CreatedAt returns the creation time.
func (c *Conversation) CreatedAt() time.Time { return c.createdAt }

// TruncateTitle shortens a title to MaxTitleLen runes with an ellipsis.
func TruncateTitle(title string) string {
	if utf8.RuneCountInString(title) <= MaxTitleLen {
		return title
	}
	runes := []rune(title)
	return string(runes[:MaxTitleLen-1]) + "…"
}
