package search

import (
	"context"
	"strings"
	"testing"

	"github.com/latticehq/lattice/backend/pkg/ai"
	"github.com/latticehq/lattice/backend/pkg/store"
	"github.com/latticehq/lattice/backend/pkg/store/memory"
	"github.com/latticehq/lattice/backend/pkg/traverse"
)

const testProject = int64(3)

// fakeClient records the prompts it answers so tests can assert on the
// assembled context.
type fakeClient struct {
	answer      string
	lastPrompt  string
	answerCalls int
}

func (f *fakeClient) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	f.answerCalls++
	f.lastPrompt = prompt
	return f.answer, nil
}

func (f *fakeClient) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	return nil
}

func (f *fakeClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	return make([]float32, 4), nil
}

func (f *fakeClient) ResetMetrics()               {}
func (f *fakeClient) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

type fixture struct {
	store   *memory.GraphMemStorage
	client  *fakeClient
	service *Service
	ids     map[string]string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	st := memory.NewGraphMemStorage()
	client := &fakeClient{answer: "grounded answer"}
	engine := traverse.NewEngine(st)
	return &fixture{
		store:   st,
		client:  client,
		service: NewService(st, engine, client, opts...),
		ids:     make(map[string]string),
	}
}

func (f *fixture) node(t *testing.T, name, entityType, docID string) string {
	t.Helper()
	if id, ok := f.ids[name]; ok {
		return id
	}
	node, err := f.store.UpsertNode(context.Background(), testProject, store.NodeEvidence{
		EntityType:       entityType,
		Name:             name,
		Confidence:       0.8,
		SourceDocumentID: docID,
	})
	if err != nil {
		t.Fatalf("UpsertNode(%q): %v", name, err)
	}
	f.ids[name] = node.ID
	return node.ID
}

func (f *fixture) edge(t *testing.T, from, to, relType, docID string) {
	t.Helper()
	_, err := f.store.UpsertEdge(context.Background(), testProject, f.ids[from], f.ids[to], store.EdgeEvidence{
		RelationshipType: relType,
		Weight:           1,
		Confidence:       0.8,
		SourceDocumentID: docID,
	})
	if err != nil {
		t.Fatalf("UpsertEdge(%s->%s): %v", from, to, err)
	}
}

func TestSearchNoSeedsIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.node(t, "Acme Corp", "ORGANIZATION", "doc-1")

	result, err := f.service.Search(context.Background(), testProject, "something entirely unrelated")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !result.NoGraphContext {
		t.Fatalf("expected NoGraphContext for unmatched query")
	}
	if result.Answer != NoContextAnswer {
		t.Fatalf("expected terminal answer, got %q", result.Answer)
	}
	if f.client.answerCalls != 0 {
		t.Fatalf("answer model must not be called without graph context")
	}
}

func TestSearchWithoutGraphContext(t *testing.T) {
	f := newFixture(t, WithGraphContext(false))
	f.node(t, "Acme Corp", "ORGANIZATION", "doc-1")

	result, err := f.service.Search(context.Background(), testProject, "Acme Corp")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !result.NoGraphContext {
		t.Fatalf("expected NoGraphContext when grounding is disabled")
	}
	if result.Answer != "grounded answer" {
		t.Fatalf("expected model answer, got %q", result.Answer)
	}
	if len(result.Seeds) != 0 || len(result.Sources) != 0 {
		t.Fatalf("disabled grounding must not resolve seeds or sources: %+v", result)
	}
	if f.client.answerCalls != 1 {
		t.Fatalf("expected one direct answer call, got %d", f.client.answerCalls)
	}
	// The matching entity exists, but the prompt must not carry graph facts.
	if strings.Contains(f.client.lastPrompt, "Graph Context") {
		t.Fatalf("direct answer prompt must not include graph context: %s", f.client.lastPrompt)
	}
	if !strings.Contains(f.client.lastPrompt, "Acme Corp") {
		t.Fatalf("direct answer prompt must carry the question")
	}
}

func TestSearchSingleSeed(t *testing.T) {
	f := newFixture(t)
	f.node(t, "Acme Corp", "ORGANIZATION", "doc-1")
	f.node(t, "Jane Doe", "PERSON", "doc-2")
	f.edge(t, "Acme Corp", "Jane Doe", "EMPLOYS", "doc-3")

	result, err := f.service.Search(context.Background(), testProject, "Acme Corp")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if result.NoGraphContext {
		t.Fatalf("expected seed resolution for exact name")
	}
	if result.Answer != "grounded answer" {
		t.Fatalf("expected model answer, got %q", result.Answer)
	}
	if len(result.Seeds) != 1 || result.Seeds[0].Name != "Acme Corp" {
		t.Fatalf("expected Acme Corp seed, got %+v", result.Seeds)
	}

	for _, doc := range []string{"doc-1", "doc-2", "doc-3"} {
		found := false
		for _, src := range result.Sources {
			if src == doc {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected source %s in %v", doc, result.Sources)
		}
	}

	if !strings.Contains(f.client.lastPrompt, "EMPLOYS") {
		t.Fatalf("assembled context must include the relationship, prompt: %s", f.client.lastPrompt)
	}
	if !strings.Contains(f.client.lastPrompt, "Acme Corp") {
		t.Fatalf("assembled context must include the seed entity")
	}
}

func TestSearchConnectsMultipleSeeds(t *testing.T) {
	f := newFixture(t)
	f.node(t, "Acme", "ORGANIZATION", "doc-1")
	f.node(t, "Middle", "PERSON", "doc-1")
	f.node(t, "Globex", "ORGANIZATION", "doc-2")
	f.edge(t, "Acme", "Middle", "EMPLOYS", "doc-1")
	f.edge(t, "Middle", "Globex", "ADVISES", "doc-2")

	result, err := f.service.Search(context.Background(), testProject, "How are Acme and Globex related?")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(result.Seeds) < 2 {
		t.Fatalf("expected both organizations as seeds, got %+v", result.Seeds)
	}
	if len(result.Paths) == 0 {
		t.Fatalf("expected a connecting path between seeds")
	}
	path := result.Paths[0]
	if !path.Found || path.Length != 2 {
		t.Fatalf("expected 2-hop connection, got found=%v length=%d", path.Found, path.Length)
	}
	if !strings.Contains(f.client.lastPrompt, "Connection") {
		t.Fatalf("assembled context must include the connection section")
	}
}

func TestSearchSourcesDeduplicated(t *testing.T) {
	f := newFixture(t)
	f.node(t, "Acme", "ORGANIZATION", "doc-1")
	f.node(t, "Jane", "PERSON", "doc-1")
	f.edge(t, "Acme", "Jane", "EMPLOYS", "doc-1")

	result, err := f.service.Search(context.Background(), testProject, "Acme")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	count := 0
	for _, src := range result.Sources {
		if src == "doc-1" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected doc-1 listed once, got %d times in %v", count, result.Sources)
	}
}

func TestBuildContextRespectsBudget(t *testing.T) {
	f := newFixture(t, WithTokenBudget(1))
	f.node(t, "Acme", "ORGANIZATION", "doc-1")
	f.node(t, "Jane", "PERSON", "doc-1")
	f.edge(t, "Acme", "Jane", "EMPLOYS", "doc-1")

	result, err := f.service.Search(context.Background(), testProject, "Acme")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	// The entity section always survives; the neighborhood section must be
	// dropped under a tiny budget.
	if strings.Contains(f.client.lastPrompt, "Related to") {
		t.Fatalf("expected neighborhood section trimmed under budget, prompt: %s", f.client.lastPrompt)
	}
	if !strings.Contains(f.client.lastPrompt, "Acme") {
		t.Fatalf("entity section must survive trimming")
	}
	_ = result
}
