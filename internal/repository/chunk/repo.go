// Package chunk implements the durable chunk store over SQLite.
package chunk

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/carelens/regledger/internal/db/sqlite"
	"github.com/carelens/regledger/internal/domain"
	domchunk "github.com/carelens/regledger/internal/domain/chunk"
	domsearch "github.com/carelens/regledger/internal/domain/search"
	"github.com/carelens/regledger/internal/domain/vector"
)

// Repo implements the chunk store and similarity scan contracts.
type Repo struct {
	db *sql.DB
}

// New creates a chunk repository.
func New(d *sqlite.DB) *Repo {
	return &Repo{db: d.Handle()}
}

// Insert persists a new chunk and returns its assigned id.
// Used by ingestion tooling and tests; content is immutable afterwards.
func (r *Repo) Insert(ctx context.Context, c *domchunk.Chunk) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO chunks (document_name, section_title, page_number, content, embedding, embedding_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.DocumentName(), c.SectionTitle(), nullableInt(c.PageNumber()), c.Content(),
		nullableVector(c.Embedding()), c.EmbeddingVersion(), now(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert chunk: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read chunk id: %w", err)
	}
	return id, nil
}

// Get returns a chunk by id.
func (r *Repo) Get(ctx context.Context, id int64) (domchunk.Chunk, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, document_name, section_title, page_number, content, embedding, embedding_version
		FROM chunks WHERE id = ?`, id)

	c, err := scanChunk(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domchunk.Chunk{}, domain.ErrChunkNotFound
		}
		return domchunk.Chunk{}, fmt.Errorf("get chunk %d: %w", id, err)
	}
	return c, nil
}

// ListMissingEmbedding returns up to limit chunks whose embedding is absent or
// below the target version, with id greater than afterID. Keyset pagination
// keeps the scan lazy and restartable: callers pass the last seen id to resume.
func (r *Repo) ListMissingEmbedding(
	ctx context.Context, version int, afterID int64, limit int,
) ([]domchunk.Chunk, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, document_name, section_title, page_number, content, embedding, embedding_version
		FROM chunks
		WHERE (embedding IS NULL OR embedding_version < ?) AND id > ?
		ORDER BY id ASC
		LIMIT ?`, version, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chunks missing embedding: %w", err)
	}
	defer rows.Close()

	var chunks []domchunk.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return chunks, nil
}

// PatchMetadata applies a metadata correction to every chunk with the given
// section title and returns the number of matched rows. Zero matches is a
// soft no-op: corrections are applied repeatedly and must stay safe.
func (r *Repo) PatchMetadata(ctx context.Context, sectionTitle string, p domchunk.Patch) (int64, error) {
	if p.IsEmpty() {
		return 0, nil
	}

	var sets []string
	var args []any
	if p.HasPageNumber() {
		sets = append(sets, "page_number = ?")
		args = append(args, nullableInt(p.PageNumber()))
	}
	if p.HasSectionTitle() {
		sets = append(sets, "section_title = ?")
		args = append(args, p.SectionTitle())
	}
	args = append(args, sectionTitle)

	// sets contains only fixed column assignments; values are bound parameters.
	res, err := r.db.ExecContext(ctx,
		"UPDATE chunks SET "+strings.Join(sets, ", ")+" WHERE section_title = ?", args...)
	if err != nil {
		return 0, fmt.Errorf("patch metadata %q: %w", sectionTitle, err)
	}
	matched, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return matched, nil
}

// SetEmbedding overwrites a chunk's embedding atomically. Concurrent writers
// on the same id are last-write-wins: embeddings derive purely from immutable
// content, so any winner stores an equivalent vector.
func (r *Repo) SetEmbedding(ctx context.Context, id int64, vec []float32, version int) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE chunks SET embedding = ?, embedding_version = ? WHERE id = ?",
		vectorToBytes(vec), version, id)
	if err != nil {
		return fmt.Errorf("set embedding %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrChunkNotFound
	}
	return nil
}

// Exists reports whether every id refers to a stored chunk, returning the
// first missing id when not.
func (r *Repo) Exists(ctx context.Context, ids []int64) (bool, int64, error) {
	for _, id := range ids {
		var one int
		err := r.db.QueryRowContext(ctx, "SELECT 1 FROM chunks WHERE id = ?", id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return false, id, nil
		}
		if err != nil {
			return false, 0, fmt.Errorf("check chunk %d: %w", id, err)
		}
	}
	return true, 0, nil
}

// SearchKNN ranks embedded chunks by cosine similarity against the query
// vector: descending score, ties broken by ascending chunk id, entries below
// minScore dropped, at most k returned. Chunks without an embedding never
// participate. The scan is read-only and needs no locking.
func (r *Repo) SearchKNN(ctx context.Context, query []float32, k int, minScore float64) ([]domsearch.Match, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, document_name, section_title, page_number, content, embedding, embedding_version
		FROM chunks
		WHERE embedding IS NOT NULL
		ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("scan embedded chunks: %w", err)
	}
	defer rows.Close()

	var matches []domsearch.Match
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		emb := c.Embedding()
		if len(emb) != len(query) {
			// Stale vector from an older model dimensionality; not comparable.
			continue
		}
		score := vector.Cosine(query, emb)
		if score < minScore {
			continue
		}
		matches = append(matches, domsearch.Match{Chunk: c, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	// Rows arrive id-ascending, so a stable sort by score keeps the
	// deterministic ascending-id tie break.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// UpsertDocument records a source document's page count for citation validation.
func (r *Repo) UpsertDocument(ctx context.Context, d *domchunk.Document) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO documents (name, page_count, created_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET page_count = excluded.page_count`,
		d.Name(), d.PageCount(), now())
	if err != nil {
		return fmt.Errorf("upsert document %q: %w", d.Name(), err)
	}
	return nil
}

// GetDocument returns a document record by name.
func (r *Repo) GetDocument(ctx context.Context, name string) (domchunk.Document, error) {
	var pageCount int
	var createdAt string
	err := r.db.QueryRowContext(ctx,
		"SELECT page_count, created_at FROM documents WHERE name = ?", name).
		Scan(&pageCount, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domchunk.Document{}, domain.ErrDocumentNotFound
	}
	if err != nil {
		return domchunk.Document{}, fmt.Errorf("get document %q: %w", name, err)
	}
	return domchunk.ReconstructDocument(name, pageCount, parseTime(createdAt)), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (domchunk.Chunk, error) {
	var (
		id           int64
		documentName string
		sectionTitle string
		pageNumber   sql.NullInt64
		content      string
		embedding    []byte
		version      int
	)
	if err := row.Scan(&id, &documentName, &sectionTitle, &pageNumber, &content, &embedding, &version); err != nil {
		return domchunk.Chunk{}, err
	}

	var page *int
	if pageNumber.Valid {
		v := int(pageNumber.Int64)
		page = &v
	}

	vec, err := bytesToVector(embedding)
	if err != nil {
		return domchunk.Chunk{}, fmt.Errorf("decode embedding for chunk %d: %w", id, err)
	}

	return domchunk.Reconstruct(id, documentName, sectionTitle, page, content, vec, version), nil
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableVector(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return vectorToBytes(v)
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
