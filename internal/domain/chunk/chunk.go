package chunk

import (
	"fmt"
	"strings"
)

// MaxContentSize is the maximum chunk content size in bytes.
const MaxContentSize = 163840 // 160KB

// Chunk is a unit of ingested regulatory document content (immutable value object).
// A nil page number means provenance is unverified ("uncertain"), never a
// synthetic positive integer; page 0 is a legitimate page.
type Chunk struct {
	id               int64
	documentName     string
	sectionTitle     string
	pageNumber       *int
	content          string
	embedding        []float32
	embeddingVersion int
}

// New validates and creates a Chunk prior to insertion (id assigned by storage).
func New(documentName, sectionTitle string, pageNumber *int, content string) (Chunk, error) {
	if strings.TrimSpace(documentName) == "" {
		return Chunk{}, fmt.Errorf("document name is required")
	}
	if content == "" {
		return Chunk{}, fmt.Errorf("content is required")
	}
	if len(content) > MaxContentSize {
		return Chunk{}, fmt.Errorf("content too large (max %d bytes)", MaxContentSize)
	}
	if pageNumber != nil && *pageNumber < 0 {
		return Chunk{}, fmt.Errorf("page number must not be negative, got %d", *pageNumber)
	}

	return Chunk{
		documentName: documentName,
		sectionTitle: sectionTitle,
		pageNumber:   clonePage(pageNumber),
		content:      content,
	}, nil
}

// Reconstruct creates a Chunk without validation (storage hydration).
func Reconstruct(
	id int64, documentName, sectionTitle string, pageNumber *int,
	content string, embedding []float32, embeddingVersion int,
) Chunk {
	return Chunk{
		id:               id,
		documentName:     documentName,
		sectionTitle:     sectionTitle,
		pageNumber:       pageNumber,
		content:          content,
		embedding:        embedding,
		embeddingVersion: embeddingVersion,
	}
}

// ID returns the chunk identifier (0 before insertion).
func (c *Chunk) ID() int64 { return c.id }

// DocumentName returns the source document name.
func (c *Chunk) DocumentName() string { return c.documentName }

// SectionTitle returns the section title, possibly empty.
func (c *Chunk) SectionTitle() string { return c.sectionTitle }

// PageNumber returns the page number, nil when uncertain.
func (c *Chunk) PageNumber() *int { return clonePage(c.pageNumber) }

// Content returns the chunk text content. Immutable after ingestion.
func (c *Chunk) Content() string { return c.content }

// Embedding returns the embedding vector, nil when not yet embedded.
func (c *Chunk) Embedding() []float32 { return c.embedding }

// EmbeddingVersion returns the version of the embedding model output stored.
func (c *Chunk) EmbeddingVersion() int { return c.embeddingVersion }

// HasEmbedding reports whether the chunk is eligible for similarity search.
func (c *Chunk) HasEmbedding() bool { return len(c.embedding) > 0 }

// SetEmbedding sets the vector and its version in place (mutation).
func (c *Chunk) SetEmbedding(v []float32, version int) {
	c.embedding = v
	c.embeddingVersion = version
}

func clonePage(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
