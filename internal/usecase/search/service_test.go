package search

import (
	"context"
	"errors"
	"testing"

	"github.com/carelens/regledger/internal/domain"
	domchunk "github.com/carelens/regledger/internal/domain/chunk"
	domsearch "github.com/carelens/regledger/internal/domain/search"
)

type mockRepo struct {
	matches  []domsearch.Match
	err      error
	gotQuery []float32
	gotK     int
	gotMin   float64
}

func (m *mockRepo) SearchKNN(_ context.Context, query []float32, k int, minScore float64) ([]domsearch.Match, error) {
	m.gotQuery = query
	m.gotK = k
	m.gotMin = minScore
	return m.matches, m.err
}

type mockDocs struct {
	docs map[string]domchunk.Document
}

func (m *mockDocs) GetDocument(_ context.Context, name string) (domchunk.Document, error) {
	d, ok := m.docs[name]
	if !ok {
		return domchunk.Document{}, domain.ErrDocumentNotFound
	}
	return d, nil
}

type mockEmbedder struct {
	result domain.EmbeddingResult
	err    error
	calls  int
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	m.calls++
	return m.result, m.err
}

func intPtr(n int) *int { return &n }

func match(id int64, doc, section string, page *int, content string, score float64) domsearch.Match {
	return domsearch.Match{
		Chunk: domchunk.Reconstruct(id, doc, section, page, content, []float32{1}, 1),
		Score: score,
	}
}

func newTestService(repo *mockRepo, docs *mockDocs, emb *mockEmbedder) *Service {
	if repo == nil {
		repo = &mockRepo{}
	}
	if docs == nil {
		docs = &mockDocs{}
	}
	if emb == nil {
		emb = &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1, 0}}}
	}
	return New(repo, docs, emb)
}

func TestSearch_Delegates(t *testing.T) {
	repo := &mockRepo{matches: []domsearch.Match{
		match(1, "Aged Care Act 2024", "Section 2-1 Objects", intPtr(45), "the objects", 0.9),
	}}
	emb := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.5, 0.5}}}
	svc := newTestService(repo, nil, emb)

	matches, err := svc.Search(context.Background(), "objects of the act", 5, 0.4)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 1 || matches[0].Chunk.ID() != 1 {
		t.Fatalf("matches = %v", matches)
	}
	if repo.gotK != 5 || repo.gotMin != 0.4 {
		t.Errorf("repo got k=%d min=%g", repo.gotK, repo.gotMin)
	}
	if len(repo.gotQuery) != 2 || repo.gotQuery[0] != 0.5 {
		t.Errorf("repo got query %v, want embedded vector", repo.gotQuery)
	}
}

func TestSearch_Validation(t *testing.T) {
	emb := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1}}}
	svc := newTestService(nil, nil, emb)
	ctx := context.Background()

	cases := []struct {
		name     string
		query    string
		k        int
		minScore float64
	}{
		{"empty query", "", 5, 0},
		{"zero k", "q", 0, 0},
		{"negative k", "q", -1, 0},
		{"min score below minus one", "q", 5, -1.1},
		{"min score above one", "q", 5, 1.1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Search(ctx, tc.query, tc.k, tc.minScore)
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
	if emb.calls != 0 {
		t.Errorf("embedder called %d times on invalid input, want 0", emb.calls)
	}
}

func TestSearch_EmbedError(t *testing.T) {
	provider := domain.NewProviderError(true, errors.New("rate limited"))
	svc := newTestService(nil, nil, &mockEmbedder{err: provider})

	_, err := svc.Search(context.Background(), "q", 5, 0)
	if !errors.Is(err, domain.ErrEmbeddingProvider) {
		t.Errorf("err = %v, want ErrEmbeddingProvider", err)
	}
}

func TestSearchVector_KValidation(t *testing.T) {
	svc := newTestService(nil, nil, nil)
	if _, err := svc.SearchVector(context.Background(), []float32{1}, 0, 0); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestBuildCitations_Snapshot(t *testing.T) {
	doc, err := domchunk.NewDocument("Aged Care Act 2024", 624)
	if err != nil {
		t.Fatal(err)
	}
	docs := &mockDocs{docs: map[string]domchunk.Document{"Aged Care Act 2024": doc}}
	svc := newTestService(nil, docs, nil)

	matches := []domsearch.Match{
		match(11, "Aged Care Act 2024", "Section 2-1 Objects", intPtr(45), "the objects of this act are", 0.91),
		match(12, "Aged Care Act 2024", "Division 63 Provider obligations", nil, "providers must comply", 0.72),
	}
	cits := svc.BuildCitations(context.Background(), matches)
	if len(cits) != 2 {
		t.Fatalf("len = %d", len(cits))
	}
	if cits[0].ChunkID != 11 || cits[0].SectionTitle != "Section 2-1 Objects" {
		t.Errorf("citation[0] = %+v", cits[0])
	}
	if cits[0].PageNumber == nil || *cits[0].PageNumber != 45 {
		t.Errorf("page = %v, want 45", cits[0].PageNumber)
	}
	if cits[1].PageNumber != nil {
		t.Errorf("uncertain page preserved as %v, want nil", *cits[1].PageNumber)
	}
	if cits[0].RelevanceScore != 0.91 {
		t.Errorf("score = %g", cits[0].RelevanceScore)
	}
}

func TestBuildCitations_PhantomPageDemoted(t *testing.T) {
	doc, err := domchunk.NewDocument("Aged Care Act 2024", 624)
	if err != nil {
		t.Fatal(err)
	}
	docs := &mockDocs{docs: map[string]domchunk.Document{"Aged Care Act 2024": doc}}
	svc := newTestService(nil, docs, nil)

	matches := []domsearch.Match{
		match(1, "Aged Care Act 2024", "Division 63 Provider obligations", intPtr(871), "obligations text", 0.8),
	}
	cits := svc.BuildCitations(context.Background(), matches)
	if len(cits) != 1 {
		t.Fatalf("len = %d", len(cits))
	}
	if cits[0].PageNumber != nil {
		t.Errorf("phantom page survived: %d", *cits[0].PageNumber)
	}
}

func TestBuildCitations_CoverPageZeroKept(t *testing.T) {
	doc, err := domchunk.NewDocument("Aged Care Act 2024", 624)
	if err != nil {
		t.Fatal(err)
	}
	docs := &mockDocs{docs: map[string]domchunk.Document{"Aged Care Act 2024": doc}}
	svc := newTestService(nil, docs, nil)

	matches := []domsearch.Match{
		match(1, "Aged Care Act 2024", "Cover", intPtr(0), "aged care act 2024", 0.6),
	}
	cits := svc.BuildCitations(context.Background(), matches)
	if len(cits) != 1 {
		t.Fatalf("len = %d", len(cits))
	}
	if cits[0].PageNumber == nil || *cits[0].PageNumber != 0 {
		t.Errorf("page = %v, want legal cover page 0", cits[0].PageNumber)
	}
}

func TestBuildCitations_UnknownDocumentKeepsPage(t *testing.T) {
	svc := newTestService(nil, &mockDocs{}, nil)

	matches := []domsearch.Match{
		match(1, "Untracked Doc", "", intPtr(10), "text", 0.8),
	}
	cits := svc.BuildCitations(context.Background(), matches)
	if cits[0].PageNumber == nil || *cits[0].PageNumber != 10 {
		t.Errorf("page = %v, want 10 (no bounds known)", cits[0].PageNumber)
	}
}

func TestBuildCitations_Dedupe(t *testing.T) {
	svc := newTestService(nil, &mockDocs{}, nil)

	matches := []domsearch.Match{
		match(1, "Doc", "", intPtr(1), "The  Objects of this Act", 0.9),
		match(2, "Doc", "", intPtr(2), "the objects OF this act", 0.8),
		match(3, "Doc", "", intPtr(3), "something entirely different", 0.7),
	}
	cits := svc.BuildCitations(context.Background(), matches)
	if len(cits) != 2 {
		t.Fatalf("len = %d, want 2 after dedupe", len(cits))
	}
	if cits[0].ChunkID != 1 {
		t.Errorf("kept chunk %d, want best-scoring 1", cits[0].ChunkID)
	}
	if cits[1].ChunkID != 3 {
		t.Errorf("second citation = %d, want 3", cits[1].ChunkID)
	}
}
