package search

import (
	"context"

	"github.com/carelens/regledger/internal/domain"
	domchunk "github.com/carelens/regledger/internal/domain/chunk"
	domsearch "github.com/carelens/regledger/internal/domain/search"
)

// Repository defines the storage contract for similarity search.
type Repository interface {
	SearchKNN(ctx context.Context, query []float32, k int, minScore float64) ([]domsearch.Match, error)
}

// DocumentReader reads document records for citation page bounds.
type DocumentReader interface {
	GetDocument(ctx context.Context, name string) (domchunk.Document, error)
}

// Embedder vectorizes text into embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}
