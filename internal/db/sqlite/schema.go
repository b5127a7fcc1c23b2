package sqlite

// migrations are applied in order; index+1 is the schema version.
// Timestamps are stored as RFC 3339 UTC text written by the repositories.
var migrations = []string{
	// v1: documents and chunks
	`
	CREATE TABLE documents (
		name       TEXT PRIMARY KEY,
		page_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE chunks (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		document_name     TEXT NOT NULL,
		section_title     TEXT NOT NULL DEFAULT '',
		page_number       INTEGER,
		content           TEXT NOT NULL,
		embedding         BLOB,
		embedding_version INTEGER NOT NULL DEFAULT 0,
		created_at        TEXT NOT NULL
	);

	CREATE INDEX idx_chunks_section_title ON chunks(section_title);
	CREATE INDEX idx_chunks_embedding_version ON chunks(embedding_version);
	`,

	// v2: conversations and messages
	`
	CREATE TABLE conversations (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_user_id TEXT NOT NULL,
		title         TEXT NOT NULL DEFAULT '',
		created_at    TEXT NOT NULL
	);

	CREATE INDEX idx_conversations_owner ON conversations(owner_user_id, created_at DESC);

	CREATE TABLE messages (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id    INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		message_index      INTEGER NOT NULL,
		role               TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
		content            TEXT NOT NULL,
		citations          TEXT,
		processing_time_ms INTEGER,
		search_intent      TEXT NOT NULL DEFAULT '',
		is_bookmarked      INTEGER NOT NULL DEFAULT 0,
		created_at         TEXT NOT NULL,
		UNIQUE (conversation_id, message_index)
	);
	`,
}
