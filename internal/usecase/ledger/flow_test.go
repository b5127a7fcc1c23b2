package ledger_test

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/carelens/regledger/internal/db/sqlite"
	"github.com/carelens/regledger/internal/domain"
	domchunk "github.com/carelens/regledger/internal/domain/chunk"
	domconv "github.com/carelens/regledger/internal/domain/conversation"
	chunkrepo "github.com/carelens/regledger/internal/repository/chunk"
	convrepo "github.com/carelens/regledger/internal/repository/conversation"
	"github.com/carelens/regledger/internal/retry"
	accessuc "github.com/carelens/regledger/internal/usecase/access"
	ledgeruc "github.com/carelens/regledger/internal/usecase/ledger"
	pipelineuc "github.com/carelens/regledger/internal/usecase/pipeline"
	searchuc "github.com/carelens/regledger/internal/usecase/search"
)

// topicEmbedder produces deterministic vectors keyed on topic words, so
// related texts land close together and unrelated texts do not.
type topicEmbedder struct{}

func (topicEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	lower := strings.ToLower(text)
	vec := []float32{0.05, 0.05, 0.05}
	if strings.Contains(lower, "object") {
		vec[0] = 1
	}
	if strings.Contains(lower, "obligation") {
		vec[1] = 1
	}
	if strings.Contains(lower, "fee") {
		vec[2] = 1
	}
	return domain.EmbeddingResult{Embedding: unit(vec), TotalTokens: 1}, nil
}

func unit(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) * inv)
	}
	return out
}

func TestConversationFlow(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	chunks := chunkrepo.New(db)
	convs := convrepo.New(db)
	embed := topicEmbedder{}

	gate := accessuc.New(convs)
	searchSvc := searchuc.New(chunks, chunks, embed)
	pipelineSvc := pipelineuc.New(chunks, embed, 10, retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond})
	ledgerSvc := ledgeruc.New(convs, chunks, gate, retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond})

	// Ingest the document record and chunks.
	doc, err := domchunk.NewDocument("Aged Care Act 2024", 624)
	if err != nil {
		t.Fatal(err)
	}
	if err := chunks.UpsertDocument(ctx, &doc); err != nil {
		t.Fatal(err)
	}

	page45 := 45
	objects, err := domchunk.New("Aged Care Act 2024", "Section 2-1 Objects", &page45, "The objects of this Act are to secure quality care.")
	if err != nil {
		t.Fatal(err)
	}
	objectsID, err := chunks.Insert(ctx, &objects)
	if err != nil {
		t.Fatal(err)
	}

	page210 := 210
	obligations, err := domchunk.New("Aged Care Act 2024", "Division 63 Provider obligations", &page210, "Registered providers have obligations to report.")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := chunks.Insert(ctx, &obligations); err != nil {
		t.Fatal(err)
	}

	// Run the pipeline so both chunks gain embeddings.
	report, err := pipelineSvc.Run(ctx, 1)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if report.Embedded != 2 || report.Failed != 0 {
		t.Fatalf("report = %+v", report)
	}

	// A question about the Act's objects retrieves the objects chunk first.
	matches, err := searchSvc.Search(ctx, "What are the objects of the Act?", 3, 0.0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) == 0 || matches[0].Chunk.ID() != objectsID {
		t.Fatalf("top match = %+v, want chunk %d", matches, objectsID)
	}
	if matches[0].Score <= 0.8 {
		t.Errorf("top score = %g, want > 0.8", matches[0].Score)
	}

	// Start a conversation and record the exchange with citations.
	user := domain.Identity{UserID: "U1"}
	conv, err := ledgerSvc.CreateConversation(ctx, user, "")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	question, err := domconv.NewMessage(conv.ID(), domconv.RoleUser, "What are the objects of the Act?", nil, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ledgerSvc.Append(ctx, user, &question); err != nil {
		t.Fatalf("append question: %v", err)
	}

	citations := searchSvc.BuildCitations(ctx, matches[:1])
	procMs := 321
	answer, err := domconv.NewMessage(conv.ID(), domconv.RoleAssistant, "Per Section 2-1, the objects are to secure quality care.", citations, &procMs, "act objects")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ledgerSvc.Append(ctx, user, &answer); err != nil {
		t.Fatalf("append answer: %v", err)
	}

	// Correct the chunk's metadata after the fact.
	if _, err := chunks.PatchMetadata(ctx, "Section 2-1 Objects", domchunk.NewPatch().WithUncertainPage()); err != nil {
		t.Fatalf("patch: %v", err)
	}

	// The citation snapshot keeps the page the user was shown.
	msgs, err := ledgerSvc.Messages(ctx, user, conv.ID())
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d", len(msgs))
	}
	if msgs[0].Index() != 0 || msgs[1].Index() != 1 {
		t.Errorf("indices = [%d %d]", msgs[0].Index(), msgs[1].Index())
	}
	cits := msgs[1].Citations()
	if len(cits) != 1 {
		t.Fatalf("citations = %d", len(cits))
	}
	if cits[0].PageNumber == nil || *cits[0].PageNumber != 45 {
		t.Errorf("citation page = %v, want snapshot 45", cits[0].PageNumber)
	}
	if cits[0].SectionTitle != "Section 2-1 Objects" {
		t.Errorf("citation section = %q", cits[0].SectionTitle)
	}

	// The live chunk did change.
	live, err := chunks.Get(ctx, objectsID)
	if err != nil {
		t.Fatal(err)
	}
	if live.PageNumber() != nil {
		t.Errorf("live page = %v, want nil after patch", *live.PageNumber())
	}

	// The first user message titled the conversation.
	got, err := convs.GetConversation(ctx, conv.ID())
	if err != nil {
		t.Fatal(err)
	}
	if got.Title() != "What are the objects of the Act?" {
		t.Errorf("title = %q", got.Title())
	}

	// Another user cannot read it; a privileged operator can.
	if _, err := ledgerSvc.Messages(ctx, domain.Identity{UserID: "U2"}, conv.ID()); err == nil {
		t.Error("foreign user read succeeded")
	}
	if _, err := ledgerSvc.Messages(ctx, domain.Identity{UserID: "op", Privileged: true}, conv.ID()); err != nil {
		t.Errorf("privileged read: %v", err)
	}
}
