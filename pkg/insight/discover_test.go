package insight

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/latticehq/lattice/backend/pkg/ai"
	"github.com/latticehq/lattice/backend/pkg/common"
	"github.com/latticehq/lattice/backend/pkg/store"
	"github.com/latticehq/lattice/backend/pkg/store/memory"
)

const testProject = int64(7)

// fakeClient words every finding with a canned payload, or fails when
// broken is set.
type fakeClient struct {
	broken bool
	calls  int
}

func (f *fakeClient) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	if f.broken {
		return "", errors.New("model unavailable")
	}
	return "canned answer", nil
}

func (f *fakeClient) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	f.calls++
	if f.broken {
		return errors.New("model unavailable")
	}
	return json.Unmarshal([]byte(`{"title":"Worded title","description":"Worded description"}`), out)
}

func (f *fakeClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	return make([]float32, 4), nil
}

func (f *fakeClient) ResetMetrics()               {}
func (f *fakeClient) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

type fixture struct {
	store *memory.GraphMemStorage
	ids   map[string]string
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ids: make(map[string]string),
		now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.store = memory.NewGraphMemStorage(memory.WithClock(func() time.Time {
		f.now = f.now.Add(time.Second)
		return f.now
	}))
	return f
}

func (f *fixture) node(t *testing.T, name, entityType string, confidence float64) string {
	t.Helper()
	if id, ok := f.ids[name]; ok {
		return id
	}
	node, err := f.store.UpsertNode(context.Background(), testProject, store.NodeEvidence{
		EntityType: entityType,
		Name:       name,
		Confidence: confidence,
	})
	if err != nil {
		t.Fatalf("UpsertNode(%q): %v", name, err)
	}
	f.ids[name] = node.ID
	return node.ID
}

func (f *fixture) edge(t *testing.T, from, to, relType string) {
	t.Helper()
	_, err := f.store.UpsertEdge(context.Background(), testProject, f.ids[from], f.ids[to], store.EdgeEvidence{
		RelationshipType: relType,
		Weight:           1,
		Confidence:       0.8,
	})
	if err != nil {
		t.Fatalf("UpsertEdge(%s->%s): %v", from, to, err)
	}
}

// scan runs one discovery pass so subsequent passes only see newer edges.
func (f *fixture) scan(t *testing.T, d *Discoverer) []common.Insight {
	t.Helper()
	created, err := d.Discover(context.Background(), testProject)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	return created
}

func TestDiscoverBridge(t *testing.T) {
	f := newFixture(t)
	f.node(t, "A", "ORGANIZATION", 0.5)
	f.node(t, "B", "ORGANIZATION", 0.5)
	f.node(t, "C", "ORGANIZATION", 0.5)
	f.node(t, "D", "ORGANIZATION", 0.5)
	f.edge(t, "A", "B", "PARTNERS_WITH")
	f.edge(t, "C", "D", "PARTNERS_WITH")

	d := NewDiscoverer(f.store, &fakeClient{})
	f.scan(t, d) // baseline: absorbs the two disjoint cluster edges

	f.edge(t, "B", "C", "PARTNERS_WITH")
	created := f.scan(t, d)

	var bridge *common.Insight
	for i := range created {
		if created[i].InsightType == TypeBridge {
			bridge = &created[i]
		}
	}
	if bridge == nil {
		t.Fatalf("expected a bridge insight, got %+v", created)
	}
	if bridge.Title != "Worded title" {
		t.Fatalf("expected collaborator wording, got %q", bridge.Title)
	}
	if len(bridge.NodeIDs) != 2 {
		t.Fatalf("bridge must involve both endpoints, got %v", bridge.NodeIDs)
	}
}

func TestDiscoverNoNewEvidenceIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.node(t, "A", "PERSON", 0.9)
	f.node(t, "B", "PERSON", 0.9)
	f.edge(t, "A", "B", "KNOWS")

	d := NewDiscoverer(f.store, &fakeClient{})
	f.scan(t, d)

	created := f.scan(t, d)
	if len(created) != 0 {
		t.Fatalf("re-running with no new edges must create nothing, got %d", len(created))
	}
	again := f.scan(t, d)
	if len(again) != 0 {
		t.Fatalf("repeated scans must stay empty, got %d", len(again))
	}
}

func TestDiscoverHub(t *testing.T) {
	f := newFixture(t)
	f.node(t, "Hub", "ORGANIZATION", 0.6)
	spokes := []string{"S1", "S2", "S3"}
	for _, s := range spokes {
		f.node(t, s, "PERSON", 0.6)
	}
	f.edge(t, "Hub", "S1", "EMPLOYS")
	f.edge(t, "Hub", "S2", "EMPLOYS")

	d := NewDiscoverer(f.store, &fakeClient{}, WithHubDegreeThreshold(3), WithHubMentionThreshold(100))
	f.scan(t, d)

	f.edge(t, "Hub", "S3", "EMPLOYS")
	created := f.scan(t, d)

	found := false
	for _, ins := range created {
		if ins.InsightType == TypeHub && len(ins.NodeIDs) == 1 && ins.NodeIDs[0] == f.ids["Hub"] {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected hub insight for Hub at degree 3, got %+v", created)
	}
}

func TestDiscoverUnexpectedRelationship(t *testing.T) {
	f := newFixture(t)
	f.node(t, "Acme", "ORGANIZATION", 0.95)
	f.node(t, "Jane", "PERSON", 0.95)
	f.node(t, "Bolt", "PRODUCT", 0.3)
	f.edge(t, "Jane", "Acme", "WORKS_FOR")

	d := NewDiscoverer(f.store, &fakeClient{})
	f.scan(t, d)

	// high-confidence endpoints, never-seen type pairing
	f.edge(t, "Acme", "Jane", "SUES")
	// low-confidence endpoint must not qualify
	f.edge(t, "Jane", "Bolt", "INVENTED")
	created := f.scan(t, d)

	count := 0
	for _, ins := range created {
		if ins.InsightType == TypeUnexpectedRelationship {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one unexpected relationship insight, got %d (%+v)", count, created)
	}
}

func TestDiscoverFallbackWordingOnCollaboratorFailure(t *testing.T) {
	f := newFixture(t)
	f.node(t, "A", "ORGANIZATION", 0.5)
	f.node(t, "B", "ORGANIZATION", 0.5)
	f.node(t, "C", "ORGANIZATION", 0.5)
	f.node(t, "D", "ORGANIZATION", 0.5)
	f.edge(t, "A", "B", "OWNS")
	f.edge(t, "C", "D", "OWNS")

	d := NewDiscoverer(f.store, &fakeClient{broken: true})
	f.scan(t, d)

	f.edge(t, "B", "C", "OWNS")
	created := f.scan(t, d)

	var bridge *common.Insight
	for i := range created {
		if created[i].InsightType == TypeBridge {
			bridge = &created[i]
		}
	}
	if bridge == nil {
		t.Fatalf("collaborator failure must not suppress structural findings")
	}
	if bridge.Title != "New connection between graph clusters" {
		t.Fatalf("expected fallback title, got %q", bridge.Title)
	}
	if bridge.Description == "" {
		t.Fatalf("fallback description must carry the structural facts")
	}
}

func TestDiscoverNilClientUsesFallback(t *testing.T) {
	f := newFixture(t)
	f.node(t, "A", "ORGANIZATION", 0.5)
	f.node(t, "B", "ORGANIZATION", 0.5)
	f.node(t, "C", "ORGANIZATION", 0.5)
	f.node(t, "D", "ORGANIZATION", 0.5)
	f.edge(t, "A", "B", "OWNS")
	f.edge(t, "C", "D", "OWNS")

	d := NewDiscoverer(f.store, nil)
	f.scan(t, d)

	f.edge(t, "B", "C", "OWNS")
	created := f.scan(t, d)
	if len(created) == 0 {
		t.Fatalf("discovery must work without a collaborator")
	}
}
