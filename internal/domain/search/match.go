// Package search holds the similarity search result model.
package search

import "github.com/carelens/regledger/internal/domain/chunk"

// Match is a scored retrieval hit. Score is cosine similarity in [-1, 1].
type Match struct {
	Chunk chunk.Chunk
	Score float64
}
