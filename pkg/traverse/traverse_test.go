package traverse

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/latticehq/lattice/backend/pkg/store"
	"github.com/latticehq/lattice/backend/pkg/store/memory"
)

const testProject = int64(1)

type fixture struct {
	store *memory.GraphMemStorage
	ids   map[string]string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		store: memory.NewGraphMemStorage(),
		ids:   make(map[string]string),
	}
}

func (f *fixture) node(t *testing.T, name string) string {
	t.Helper()
	if id, ok := f.ids[name]; ok {
		return id
	}
	node, err := f.store.UpsertNode(context.Background(), testProject, store.NodeEvidence{
		EntityType: "Concept",
		Name:       name,
		Confidence: 0.8,
	})
	if err != nil {
		t.Fatalf("UpsertNode(%q): %v", name, err)
	}
	f.ids[name] = node.ID
	return node.ID
}

func (f *fixture) edge(t *testing.T, from, to string, weight float64) {
	t.Helper()
	_, err := f.store.UpsertEdge(context.Background(), testProject, f.node(t, from), f.node(t, to), store.EdgeEvidence{
		RelationshipType: "RELATES_TO",
		Weight:           weight,
	})
	if err != nil {
		t.Fatalf("UpsertEdge(%s->%s): %v", from, to, err)
	}
}

func (f *fixture) names(t *testing.T, neighbors []Neighbor) []string {
	t.Helper()
	out := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		out = append(out, n.Node.Name)
	}
	return out
}

func TestNeighborsDepthZeroEmpty(t *testing.T) {
	f := newFixture(t)
	f.edge(t, "A", "B", 1)

	engine := NewEngine(f.store)
	result, err := engine.Neighbors(context.Background(), testProject, f.node(t, "A"), 0, Outgoing)
	if err != nil {
		t.Fatalf("Neighbors: %v", err)
	}
	if len(result.Neighbors) != 0 || result.Truncated {
		t.Fatalf("expected empty result for depth 0, got %+v", result)
	}
}

func TestNeighborsNegativeDepthRejected(t *testing.T) {
	f := newFixture(t)
	f.node(t, "A")

	engine := NewEngine(f.store)
	_, err := engine.Neighbors(context.Background(), testProject, f.node(t, "A"), -1, Outgoing)
	if !errors.Is(err, ErrInvalidDepth) {
		t.Fatalf("expected ErrInvalidDepth, got %v", err)
	}
}

func TestNeighborsNoOutgoingEdges(t *testing.T) {
	f := newFixture(t)
	f.edge(t, "A", "B", 1) // B has no outgoing edges

	engine := NewEngine(f.store)
	result, err := engine.Neighbors(context.Background(), testProject, f.node(t, "B"), 3, Outgoing)
	if err != nil {
		t.Fatalf("Neighbors: %v", err)
	}
	if len(result.Neighbors) != 0 {
		t.Fatalf("expected empty neighbor list, got %v", f.names(t, result.Neighbors))
	}
}

func TestNeighborsUnknownNode(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine(f.store)
	_, err := engine.Neighbors(context.Background(), testProject, "missing", 1, Outgoing)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNeighborsMinimumDistanceAndDedupe(t *testing.T) {
	f := newFixture(t)
	// A reaches C both directly and through B; C must be reported once at
	// distance 1.
	f.edge(t, "A", "B", 5)
	f.edge(t, "A", "C", 1)
	f.edge(t, "B", "C", 9)
	f.edge(t, "C", "D", 1)

	engine := NewEngine(f.store)
	result, err := engine.Neighbors(context.Background(), testProject, f.node(t, "A"), 3, Outgoing)
	if err != nil {
		t.Fatalf("Neighbors: %v", err)
	}

	seen := make(map[string]int)
	for _, n := range result.Neighbors {
		if prev, ok := seen[n.Node.Name]; ok {
			t.Fatalf("node %s reported twice (distances %d and %d)", n.Node.Name, prev, n.Distance)
		}
		seen[n.Node.Name] = n.Distance
	}
	if seen["B"] != 1 || seen["C"] != 1 {
		t.Fatalf("expected B and C at distance 1, got %v", seen)
	}
	if seen["D"] != 2 {
		t.Fatalf("expected D at distance 2, got %v", seen)
	}
}

func TestNeighborsDeterministicOrdering(t *testing.T) {
	f := newFixture(t)
	f.edge(t, "A", "Low", 1)
	f.edge(t, "A", "High", 10)
	f.edge(t, "A", "Mid", 5)

	engine := NewEngine(f.store)
	first, err := engine.Neighbors(context.Background(), testProject, f.node(t, "A"), 2, Outgoing)
	if err != nil {
		t.Fatalf("Neighbors: %v", err)
	}
	want := []string{"High", "Mid", "Low"}
	if !reflect.DeepEqual(f.names(t, first.Neighbors), want) {
		t.Fatalf("expected weight-descending order %v, got %v", want, f.names(t, first.Neighbors))
	}

	for i := 0; i < 5; i++ {
		again, err := engine.Neighbors(context.Background(), testProject, f.node(t, "A"), 2, Outgoing)
		if err != nil {
			t.Fatalf("Neighbors: %v", err)
		}
		if !reflect.DeepEqual(f.names(t, again.Neighbors), f.names(t, first.Neighbors)) {
			t.Fatalf("ordering changed across calls: %v vs %v", f.names(t, again.Neighbors), f.names(t, first.Neighbors))
		}
	}
}

func TestNeighborsRespectsDirection(t *testing.T) {
	f := newFixture(t)
	f.edge(t, "A", "B", 1)
	f.edge(t, "C", "A", 1)

	engine := NewEngine(f.store)

	out, err := engine.Neighbors(context.Background(), testProject, f.node(t, "A"), 1, Outgoing)
	if err != nil {
		t.Fatalf("Neighbors: %v", err)
	}
	if !reflect.DeepEqual(f.names(t, out.Neighbors), []string{"B"}) {
		t.Fatalf("outgoing traversal must not follow inbound edges, got %v", f.names(t, out.Neighbors))
	}

	both, err := engine.Neighbors(context.Background(), testProject, f.node(t, "A"), 1, Undirected)
	if err != nil {
		t.Fatalf("Neighbors: %v", err)
	}
	names := f.names(t, both.Neighbors)
	if len(names) != 2 {
		t.Fatalf("undirected traversal should reach B and C, got %v", names)
	}
}

func TestNeighborsVisitBudgetTruncates(t *testing.T) {
	f := newFixture(t)
	hub := "Hub"
	for i := 0; i < 20; i++ {
		f.edge(t, hub, string(rune('a'+i)), 1)
	}

	engine := NewEngine(f.store, WithVisitBudget(5))
	result, err := engine.Neighbors(context.Background(), testProject, f.node(t, hub), 1, Outgoing)
	if err != nil {
		t.Fatalf("Neighbors: %v", err)
	}
	if !result.Truncated {
		t.Fatalf("expected truncation with budget 5 and fan-out 20")
	}
	if len(result.Neighbors) == 0 {
		t.Fatalf("truncated result should still carry partial data")
	}
}

func TestNeighborsCancelledContextPartial(t *testing.T) {
	f := newFixture(t)
	f.edge(t, "A", "B", 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := NewEngine(f.store)
	result, err := engine.Neighbors(ctx, testProject, f.node(t, "A"), 3, Outgoing)
	if err != nil {
		t.Fatalf("cancellation must yield a partial result, got error %v", err)
	}
	if !result.Truncated {
		t.Fatalf("expected truncation flag on cancelled traversal")
	}
}

func TestNeighborsCycleTerminates(t *testing.T) {
	f := newFixture(t)
	f.edge(t, "A", "B", 1)
	f.edge(t, "B", "C", 1)
	f.edge(t, "C", "A", 1)

	engine := NewEngine(f.store)
	done := make(chan struct{})
	go func() {
		defer close(done)
		result, err := engine.Neighbors(context.Background(), testProject, f.node(t, "A"), 10, Outgoing)
		if err != nil {
			t.Errorf("Neighbors: %v", err)
			return
		}
		if len(result.Neighbors) != 2 {
			t.Errorf("expected 2 neighbors in 3-cycle, got %d", len(result.Neighbors))
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("traversal did not terminate on cyclic graph")
	}
}
