// Package pipeline implements the batch embedding backfill. It sweeps the
// chunk store for rows without a current-version embedding and fills them in,
// one chunk at a time, surviving provider failures on individual chunks.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/carelens/regledger/internal/domain"
	"github.com/carelens/regledger/internal/logger"
	"github.com/carelens/regledger/internal/metrics"
	"github.com/carelens/regledger/internal/retry"
)

// Report summarizes one pipeline run.
type Report struct {
	Scanned  int
	Embedded int
	Skipped  int
	Failed   int
}

// Service runs the embedding backfill.
type Service struct {
	chunks   ChunkSource
	embed    Embedder
	pageSize int
	retryCfg retry.Config
}

// New creates a pipeline service. pageSize bounds how many chunks are held
// in memory per storage read.
func New(chunks ChunkSource, embed Embedder, pageSize int, retryCfg retry.Config) *Service {
	if pageSize < 1 {
		pageSize = 50
	}
	return &Service{chunks: chunks, embed: embed, pageSize: pageSize, retryCfg: retryCfg}
}

// Run embeds every chunk missing a version-targetVersion embedding. A chunk
// that fails permanently is recorded and skipped; the sweep continues, so one
// poisoned chunk never blocks the rest of the corpus. Keyset pagination means
// an interrupted run resumes from wherever it stopped: finished chunks no
// longer match the missing-embedding predicate.
func (s *Service) Run(ctx context.Context, targetVersion int) (Report, error) {
	log := logger.FromContext(ctx)

	var report Report
	var afterID int64

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		page, err := s.chunks.ListMissingEmbedding(ctx, targetVersion, afterID, s.pageSize)
		if err != nil {
			return report, fmt.Errorf("list chunks missing embedding: %w", err)
		}
		if len(page) == 0 {
			break
		}

		for i := range page {
			c := &page[i]
			report.Scanned++
			afterID = c.ID()

			outcome, err := s.embedOne(ctx, c.ID(), c.Content(), targetVersion)
			if err != nil && ctx.Err() != nil {
				return report, ctx.Err()
			}
			metrics.PipelineChunksTotal.WithLabelValues(outcome).Inc()

			switch outcome {
			case "embedded":
				report.Embedded++
			case "skipped":
				report.Skipped++
				log.Warn("Chunk skipped: provider rejected content",
					zap.Int64("chunk_id", c.ID()), zap.Error(err))
			case "failed":
				report.Failed++
				log.Error("Chunk failed after retries",
					zap.Int64("chunk_id", c.ID()), zap.Error(err))
			}
		}
	}

	log.Info("Embedding pipeline finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("embedded", report.Embedded),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// embedOne embeds a single chunk with retries on transient provider errors.
// Returns the outcome label and the terminal error, if any.
func (s *Service) embedOne(ctx context.Context, id int64, content string, version int) (string, error) {
	var result domain.EmbeddingResult

	err := retry.Do(ctx, s.retryCfg, domain.IsTransientProvider, func() error {
		var embErr error
		result, embErr = s.embed.Embed(ctx, content)
		return embErr
	})
	if err != nil {
		// Permanent provider rejections (content too long, filtered)
		// are skips; everything else is a failure.
		if errors.Is(err, domain.ErrEmbeddingProvider) && !domain.IsTransientProvider(err) {
			return "skipped", err
		}
		return "failed", err
	}

	if err := s.chunks.SetEmbedding(ctx, id, result.Embedding, version); err != nil {
		return "failed", fmt.Errorf("persist embedding: %w", err)
	}
	return "embedded", nil
}
