package conversation

import (
	"fmt"
	"time"
)

// Role identifies the author side of a message.
type Role string

// Message roles. The sequence of roles in a conversation need not strictly
// alternate; retries may produce consecutive messages of the same role.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleAssistant:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Citation is a denormalized snapshot of a retrieved chunk taken at citation
// time, so later corrections to the chunk's metadata never rewrite history.
// PageNumber nil means the page was uncertain when cited.
type Citation struct {
	ChunkID        int64   `json:"chunk_id"`
	DocumentName   string  `json:"document_name"`
	SectionTitle   string  `json:"section_title,omitempty"`
	PageNumber     *int    `json:"page_number"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Message is a single entry in a conversation ledger. The index is assigned
// atomically at append time, strictly increasing per conversation with no
// gaps, and is never reused or renumbered after deletions.
type Message struct {
	id               int64
	conversationID   int64
	index            int
	role             Role
	content          string
	citations        []Citation
	processingTimeMs *int
	searchIntent     string
	bookmarked       bool
	createdAt        time.Time
}

// NewMessage validates a message draft prior to append (id, index and
// createdAt are assigned by storage).
func NewMessage(
	conversationID int64, role Role, content string,
	citations []Citation, processingTimeMs *int, searchIntent string,
) (Message, error) {
	if conversationID <= 0 {
		return Message{}, fmt.Errorf("conversation id is required")
	}
	if _, err := ParseRole(string(role)); err != nil {
		return Message{}, err
	}
	if content == "" {
		return Message{}, fmt.Errorf("content is required")
	}
	if processingTimeMs != nil && *processingTimeMs < 0 {
		return Message{}, fmt.Errorf("processing time must not be negative, got %d", *processingTimeMs)
	}
	for i, cit := range citations {
		if cit.ChunkID <= 0 {
			return Message{}, fmt.Errorf("citation %d has no chunk id", i)
		}
	}

	return Message{
		conversationID:   conversationID,
		role:             role,
		content:          content,
		citations:        cloneCitations(citations),
		processingTimeMs: cloneInt(processingTimeMs),
		searchIntent:     searchIntent,
	}, nil
}

// ReconstructMessage creates a Message without validation (storage hydration).
func ReconstructMessage(
	id, conversationID int64, index int, role Role, content string,
	citations []Citation, processingTimeMs *int, searchIntent string,
	bookmarked bool, createdAt time.Time,
) Message {
	return Message{
		id:               id,
		conversationID:   conversationID,
		index:            index,
		role:             role,
		content:          content,
		citations:        citations,
		processingTimeMs: processingTimeMs,
		searchIntent:     searchIntent,
		bookmarked:       bookmarked,
		createdAt:        createdAt,
	}
}

// ID returns the message identifier (0 before append).
func (m *Message) ID() int64 { return m.id }

// ConversationID returns the owning conversation id.
func (m *Message) ConversationID() int64 { return m.conversationID }

// Index returns the position in the ledger, starting at 0.
func (m *Message) Index() int { return m.index }

// Role returns the author role.
func (m *Message) Role() Role { return m.role }

// Content returns the message text.
func (m *Message) Content() string { return m.content }

// Citations returns a copy of the citation snapshots, nil for user messages.
func (m *Message) Citations() []Citation { return cloneCitations(m.citations) }

// ProcessingTimeMs returns the answer latency in milliseconds, nil when not recorded.
func (m *Message) ProcessingTimeMs() *int { return cloneInt(m.processingTimeMs) }

// SearchIntent returns the recorded retrieval intent, empty when absent.
func (m *Message) SearchIntent() string { return m.searchIntent }

// Bookmarked reports whether the user flagged this message.
func (m *Message) Bookmarked() bool { return m.bookmarked }

// CreatedAt returns the append time.
func (m *Message) CreatedAt() time.Time { return m.createdAt }

func cloneCitations(cs []Citation) []Citation {
	if cs == nil {
		return nil
	}
	out := make([]Citation, len(cs))
	for i, c := range cs {
		out[i] = c
		if c.PageNumber != nil {
			v := *c.PageNumber
			out[i].PageNumber = &v
		}
	}
	return out
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
