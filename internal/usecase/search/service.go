// Package search implements similarity search over the chunk store.
package search

import (
	"context"
	"fmt"
	"time"

	"github.com/carelens/regledger/internal/domain"
	domsearch "github.com/carelens/regledger/internal/domain/search"
	"github.com/carelens/regledger/internal/metrics"
)

// Service handles question-to-chunk retrieval.
type Service struct {
	repo  Repository
	docs  DocumentReader
	embed Embedder
}

// New creates a search service.
func New(repo Repository, docs DocumentReader, embed Embedder) *Service {
	return &Service{repo: repo, docs: docs, embed: embed}
}

// Search embeds the query text and returns the top k matches with score at
// least minScore, best first. Ties are broken by ascending chunk id, so the
// same store always answers the same question with the same list.
func (s *Service) Search(ctx context.Context, query string, k int, minScore float64) ([]domsearch.Match, error) {
	start := time.Now()

	matches, err := s.search(ctx, query, k, minScore)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.SearchRequestsTotal.WithLabelValues(status).Inc()
	if err == nil {
		metrics.SearchDuration.Observe(time.Since(start).Seconds())
		metrics.SearchResultsReturned.Observe(float64(len(matches)))
	}
	return matches, err
}

func (s *Service) search(ctx context.Context, query string, k int, minScore float64) ([]domsearch.Match, error) {
	if err := validate(query, k, minScore); err != nil {
		return nil, err
	}

	embResult, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("vectorize query: %w", err)
	}

	return s.SearchVector(ctx, embResult.Embedding, k, minScore)
}

// SearchVector runs similarity search with an already-computed query vector.
func (s *Service) SearchVector(ctx context.Context, vector []float32, k int, minScore float64) ([]domsearch.Match, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be at least 1, got %d", domain.ErrValidation, k)
	}
	matches, err := s.repo.SearchKNN(ctx, vector, k, minScore)
	if err != nil {
		return nil, fmt.Errorf("search knn: %w", err)
	}
	return matches, nil
}

func validate(query string, k int, minScore float64) error {
	if query == "" {
		return fmt.Errorf("%w: query is required", domain.ErrValidation)
	}
	if k < 1 {
		return fmt.Errorf("%w: k must be at least 1, got %d", domain.ErrValidation, k)
	}
	if minScore < -1 || minScore > 1 {
		return fmt.Errorf("%w: min score must be in [-1, 1], got %g", domain.ErrValidation, minScore)
	}
	return nil
}
