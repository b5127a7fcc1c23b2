package pipeline

import (
	"context"

	"github.com/carelens/regledger/internal/domain"
	domchunk "github.com/carelens/regledger/internal/domain/chunk"
)

// ChunkSource pages through chunks that still need an embedding and persists
// the vectors the pipeline produces.
type ChunkSource interface {
	ListMissingEmbedding(ctx context.Context, version int, afterID int64, limit int) ([]domchunk.Chunk, error)
	SetEmbedding(ctx context.Context, id int64, vec []float32, version int) error
}

// Embedder vectorizes text into embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}
