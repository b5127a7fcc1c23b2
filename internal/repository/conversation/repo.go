// Package conversation implements the conversation and message store over SQLite.
package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carelens/regledger/internal/db/sqlite"
	"github.com/carelens/regledger/internal/domain"
	domconv "github.com/carelens/regledger/internal/domain/conversation"
)

// Repo implements the conversation ledger storage contract.
type Repo struct {
	db *sql.DB
}

// New creates a conversation repository.
func New(d *sqlite.DB) *Repo {
	return &Repo{db: d.Handle()}
}

// CreateConversation inserts a conversation and returns the hydrated record.
func (r *Repo) CreateConversation(ctx context.Context, c *domconv.Conversation) (domconv.Conversation, error) {
	createdAt := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO conversations (owner_user_id, title, created_at) VALUES (?, ?, ?)",
		c.OwnerUserID(), c.Title(), formatTime(createdAt))
	if err != nil {
		return domconv.Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domconv.Conversation{}, fmt.Errorf("read conversation id: %w", err)
	}
	return domconv.Reconstruct(id, c.OwnerUserID(), c.Title(), createdAt), nil
}

// GetConversation returns a conversation by id. The caller's policy gate
// resolves ownership from this row only, never from message rows.
func (r *Repo) GetConversation(ctx context.Context, id int64) (domconv.Conversation, error) {
	var (
		ownerUserID string
		title       string
		createdAt   string
	)
	err := r.db.QueryRowContext(ctx,
		"SELECT owner_user_id, title, created_at FROM conversations WHERE id = ?", id).
		Scan(&ownerUserID, &title, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domconv.Conversation{}, domain.ErrConversationNotFound
	}
	if err != nil {
		return domconv.Conversation{}, fmt.Errorf("get conversation %d: %w", id, err)
	}
	return domconv.Reconstruct(id, ownerUserID, title, parseTime(createdAt)), nil
}

// ListConversations returns a user's conversations, newest first.
func (r *Repo) ListConversations(ctx context.Context, ownerUserID string) ([]domconv.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_user_id, title, created_at
		FROM conversations
		WHERE owner_user_id = ?
		ORDER BY created_at DESC, id DESC`, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []domconv.Conversation
	for rows.Next() {
		var (
			id        int64
			owner     string
			title     string
			createdAt string
		)
		if err := rows.Scan(&id, &owner, &title, &createdAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, domconv.Reconstruct(id, owner, title, parseTime(createdAt)))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return convs, nil
}

// SetDefaultTitle fills an empty conversation title, leaving set titles alone.
func (r *Repo) SetDefaultTitle(ctx context.Context, id int64, title string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE conversations SET title = ? WHERE id = ? AND title = ''",
		domconv.TruncateTitle(title), id)
	if err != nil {
		return fmt.Errorf("set conversation title: %w", err)
	}
	return nil
}

// AppendMessage computes the next message index and inserts the row in one
// transaction: read-max-then-insert can never hand the same index to two
// writers because the UNIQUE(conversation_id, message_index) constraint and
// SQLite's single-writer lock make the loser fail with ErrStoreConflict,
// which the ledger retries. A cancelled context rolls the whole transaction
// back, leaving no partial message row.
func (r *Repo) AppendMessage(ctx context.Context, m *domconv.Message) (domconv.Message, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domconv.Message{}, mapConflict(fmt.Errorf("begin append: %w", err))
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		"SELECT 1 FROM conversations WHERE id = ?", m.ConversationID()).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return domconv.Message{}, domain.ErrConversationNotFound
	}
	if err != nil {
		return domconv.Message{}, mapConflict(fmt.Errorf("check conversation: %w", err))
	}

	var index int
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(message_index), -1) + 1 FROM messages WHERE conversation_id = ?",
		m.ConversationID()).Scan(&index)
	if err != nil {
		return domconv.Message{}, mapConflict(fmt.Errorf("next message index: %w", err))
	}

	citations, err := marshalCitations(m.Citations())
	if err != nil {
		return domconv.Message{}, err
	}

	createdAt := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, message_index, role, content, citations, processing_time_ms, search_intent, is_bookmarked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		m.ConversationID(), index, string(m.Role()), m.Content(), citations,
		nullableInt(m.ProcessingTimeMs()), m.SearchIntent(), formatTime(createdAt))
	if err != nil {
		return domconv.Message{}, mapConflict(fmt.Errorf("insert message: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domconv.Message{}, fmt.Errorf("read message id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domconv.Message{}, mapConflict(fmt.Errorf("commit append: %w", err))
	}

	return domconv.ReconstructMessage(
		id, m.ConversationID(), index, m.Role(), m.Content(),
		m.Citations(), m.ProcessingTimeMs(), m.SearchIntent(), false, createdAt,
	), nil
}

// ListMessages returns a conversation's messages ordered by index ascending.
func (r *Repo) ListMessages(ctx context.Context, conversationID int64) ([]domconv.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, conversation_id, message_index, role, content, citations, processing_time_ms, search_intent, is_bookmarked, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY message_index ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []domconv.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// GetMessageOwner returns a message together with its conversation's owner in
// one query. Both relations are projected through explicit aliases so the two
// id columns can never be matched ambiguously; ownership always comes from
// the conversation side of the join.
func (r *Repo) GetMessageOwner(ctx context.Context, messageID int64) (domconv.Message, string, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT
			m.id                 AS message_id,
			m.conversation_id    AS message_conversation_id,
			m.message_index      AS message_index,
			m.role               AS message_role,
			m.content            AS message_content,
			m.citations          AS message_citations,
			m.processing_time_ms AS message_processing_time_ms,
			m.search_intent      AS message_search_intent,
			m.is_bookmarked      AS message_is_bookmarked,
			m.created_at         AS message_created_at,
			c.owner_user_id      AS conversation_owner_user_id
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE m.id = ?`, messageID)

	var (
		id           int64
		convID       int64
		index        int
		role         string
		content      string
		citations    sql.NullString
		procMs       sql.NullInt64
		searchIntent string
		bookmarked   int
		createdAt    string
		owner        string
	)
	err := row.Scan(&id, &convID, &index, &role, &content, &citations, &procMs,
		&searchIntent, &bookmarked, &createdAt, &owner)
	if errors.Is(err, sql.ErrNoRows) {
		return domconv.Message{}, "", domain.ErrMessageNotFound
	}
	if err != nil {
		return domconv.Message{}, "", fmt.Errorf("get message %d: %w", messageID, err)
	}

	cits, err := unmarshalCitations(citations)
	if err != nil {
		return domconv.Message{}, "", fmt.Errorf("decode citations for message %d: %w", id, err)
	}

	msg := domconv.ReconstructMessage(
		id, convID, index, domconv.Role(role), content, cits,
		nullableIntPtr(procMs), searchIntent, bookmarked != 0, parseTime(createdAt),
	)
	return msg, owner, nil
}

// DeleteMessage hard-deletes a message by id. Remaining indices are never
// renumbered; the gap is permanent and expected.
func (r *Repo) DeleteMessage(ctx context.Context, messageID int64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", messageID)
	if err != nil {
		return fmt.Errorf("delete message %d: %w", messageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

// SetBookmark toggles the bookmark flag on a message.
func (r *Repo) SetBookmark(ctx context.Context, messageID int64, bookmarked bool) error {
	flag := 0
	if bookmarked {
		flag = 1
	}
	res, err := r.db.ExecContext(ctx,
		"UPDATE messages SET is_bookmarked = ? WHERE id = ?", flag, messageID)
	if err != nil {
		return fmt.Errorf("set bookmark %d: %w", messageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

func scanMessage(rows *sql.Rows) (domconv.Message, error) {
	var (
		id           int64
		convID       int64
		index        int
		role         string
		content      string
		citations    sql.NullString
		procMs       sql.NullInt64
		searchIntent string
		bookmarked   int
		createdAt    string
	)
	if err := rows.Scan(&id, &convID, &index, &role, &content, &citations, &procMs,
		&searchIntent, &bookmarked, &createdAt); err != nil {
		return domconv.Message{}, err
	}

	cits, err := unmarshalCitations(citations)
	if err != nil {
		return domconv.Message{}, fmt.Errorf("decode citations for message %d: %w", id, err)
	}

	return domconv.ReconstructMessage(
		id, convID, index, domconv.Role(role), content, cits,
		nullableIntPtr(procMs), searchIntent, bookmarked != 0, parseTime(createdAt),
	), nil
}

func marshalCitations(cs []domconv.Citation) (any, error) {
	if len(cs) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(cs)
	if err != nil {
		return nil, fmt.Errorf("marshal citations: %w", err)
	}
	return string(data), nil
}

func unmarshalCitations(s sql.NullString) ([]domconv.Citation, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var cs []domconv.Citation
	if err := json.Unmarshal([]byte(s.String), &cs); err != nil {
		return nil, err
	}
	return cs, nil
}

// mapConflict translates SQLite write-collision failures into the retryable
// domain conflict error. Everything else passes through untouched.
func mapConflict(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "UNIQUE constraint failed: messages.conversation_id") {
		return fmt.Errorf("%w: %v", domain.ErrStoreConflict, err)
	}
	return err
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableIntPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
