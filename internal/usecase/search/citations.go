package search

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/carelens/regledger/internal/domain"
	domchunk "github.com/carelens/regledger/internal/domain/chunk"
	domconv "github.com/carelens/regledger/internal/domain/conversation"
	domsearch "github.com/carelens/regledger/internal/domain/search"
	"github.com/carelens/regledger/internal/logger"
)

// dedupePrefixLen is how much normalized content is compared when collapsing
// near-duplicate chunks into a single citation.
const dedupePrefixLen = 100

// BuildCitations turns search matches into citation snapshots for the ledger.
// Near-duplicate chunks collapse to their best-scoring occurrence, and page
// numbers that fall outside the source document's page range are demoted to
// uncertain rather than shown to the user.
func (s *Service) BuildCitations(ctx context.Context, matches []domsearch.Match) []domconv.Citation {
	docs := make(map[string]domchunk.Document)
	seen := make(map[string]struct{})

	citations := make([]domconv.Citation, 0, len(matches))
	for _, m := range matches {
		key := dedupeKey(m.Chunk.Content())
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		citations = append(citations, domconv.Citation{
			ChunkID:        m.Chunk.ID(),
			DocumentName:   m.Chunk.DocumentName(),
			SectionTitle:   m.Chunk.SectionTitle(),
			PageNumber:     s.boundedPage(ctx, docs, m.Chunk.DocumentName(), m.Chunk.PageNumber()),
			RelevanceScore: m.Score,
		})
	}
	return citations
}

// boundedPage validates a chunk's page number against the document record.
// Unknown documents and zero page counts accept any page, page 0 included.
func (s *Service) boundedPage(ctx context.Context, docs map[string]domchunk.Document, docName string, page *int) *int {
	if page == nil {
		return nil
	}

	doc, ok := docs[docName]
	if !ok {
		d, err := s.docs.GetDocument(ctx, docName)
		switch {
		case errors.Is(err, domain.ErrDocumentNotFound):
		case err != nil:
			logger.FromContext(ctx).Warn("Failed to read document for page bounds",
				zap.String("document", docName), zap.Error(err))
		default:
			doc = d
		}
		docs[docName] = doc
	}

	if !doc.PageWithinBounds(*page) {
		logger.FromContext(ctx).Warn("Citation page outside document bounds",
			zap.String("document", docName),
			zap.Int("page", *page),
			zap.Int("page_count", doc.PageCount()),
		)
		return nil
	}
	return page
}

func dedupeKey(content string) string {
	norm := strings.ToLower(strings.Join(strings.Fields(content), " "))
	if len(norm) > dedupePrefixLen {
		norm = norm[:dedupePrefixLen]
	}
	return norm
}
