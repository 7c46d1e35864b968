package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/latticehq/lattice/backend/pkg/common"
	"github.com/latticehq/lattice/backend/pkg/store"
)

func upsertNamed(t *testing.T, s *GraphMemStorage, projectID int64, entityType, name string) *common.Node {
	t.Helper()
	node, err := s.UpsertNode(context.Background(), projectID, store.NodeEvidence{
		EntityType:       entityType,
		Name:             name,
		Confidence:       0.7,
		SourceDocumentID: "doc-1",
	})
	if err != nil {
		t.Fatalf("UpsertNode(%q): %v", name, err)
	}
	return node
}

func TestUpsertNodeMergesOnNormalizedName(t *testing.T) {
	s := NewGraphMemStorage()

	first := upsertNamed(t, s, 1, "Organization", "Acme Corp")
	second := upsertNamed(t, s, 1, "Organization", "ACME CORP")

	if first.ID != second.ID {
		t.Fatalf("expected merge into one node, got %s and %s", first.ID, second.ID)
	}
	if second.MentionCount != 2 {
		t.Fatalf("expected mention count 2, got %d", second.MentionCount)
	}
	if second.Confidence < first.Confidence {
		t.Fatalf("confidence decreased on merge: %v -> %v", first.Confidence, second.Confidence)
	}
}

func TestUpsertNodeDistinctKeys(t *testing.T) {
	s := NewGraphMemStorage()

	org := upsertNamed(t, s, 1, "Organization", "Acme")
	person := upsertNamed(t, s, 1, "Person", "Acme")
	otherProject := upsertNamed(t, s, 2, "Organization", "Acme")

	if org.ID == person.ID {
		t.Fatalf("entity type must be part of the merge key")
	}
	if org.ID == otherProject.ID {
		t.Fatalf("project must be part of the merge key")
	}
}

func TestUpsertNodeConcurrentMentions(t *testing.T) {
	s := NewGraphMemStorage()
	ctx := context.Background()

	const workers = 32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpsertNode(ctx, 1, store.NodeEvidence{
				EntityType: "Organization",
				Name:       "Acme Corp",
				Confidence: 0.5,
			})
			if err != nil {
				t.Errorf("concurrent upsert: %v", err)
			}
		}()
	}
	wg.Wait()

	nodes, err := s.ResolveSeeds(ctx, 1, "Acme Corp", nil, 5)
	if err != nil {
		t.Fatalf("ResolveSeeds: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("expected one merged node, got %d", len(nodes))
	}
	if nodes[0].MentionCount != workers {
		t.Fatalf("lost updates: mention count is %d, want %d", nodes[0].MentionCount, workers)
	}
}

func TestUpsertEdgeSelfLoopRejected(t *testing.T) {
	s := NewGraphMemStorage()
	node := upsertNamed(t, s, 1, "Person", "Ann")

	_, err := s.UpsertEdge(context.Background(), 1, node.ID, node.ID, store.EdgeEvidence{
		RelationshipType: "KNOWS",
	})
	if !errors.Is(err, store.ErrInvalidEdgeEndpoint) {
		t.Fatalf("expected ErrInvalidEdgeEndpoint, got %v", err)
	}
}

func TestUpsertEdgeMissingEndpointRejected(t *testing.T) {
	s := NewGraphMemStorage()
	node := upsertNamed(t, s, 1, "Person", "Ann")

	_, err := s.UpsertEdge(context.Background(), 1, node.ID, "missing", store.EdgeEvidence{
		RelationshipType: "KNOWS",
	})
	if !errors.Is(err, store.ErrInvalidEdgeEndpoint) {
		t.Fatalf("expected ErrInvalidEdgeEndpoint, got %v", err)
	}

	other := upsertNamed(t, s, 2, "Person", "Bob")
	_, err = s.UpsertEdge(context.Background(), 1, node.ID, other.ID, store.EdgeEvidence{
		RelationshipType: "KNOWS",
	})
	if !errors.Is(err, store.ErrInvalidEdgeEndpoint) {
		t.Fatalf("cross-project edge must be rejected, got %v", err)
	}
}

func TestUpsertEdgeAccumulatesWeight(t *testing.T) {
	s := NewGraphMemStorage()
	ctx := context.Background()
	a := upsertNamed(t, s, 1, "Person", "Ann")
	b := upsertNamed(t, s, 1, "Person", "Bob")

	first, err := s.UpsertEdge(ctx, 1, a.ID, b.ID, store.EdgeEvidence{
		RelationshipType: "KNOWS",
		Weight:           2,
		Snippet:          "Ann met Bob.",
		SourceDocumentID: "doc-1",
	})
	if err != nil {
		t.Fatalf("UpsertEdge: %v", err)
	}
	second, err := s.UpsertEdge(ctx, 1, a.ID, b.ID, store.EdgeEvidence{
		RelationshipType: "KNOWS",
		Weight:           3,
		Snippet:          "Ann emailed Bob.",
		SourceDocumentID: "doc-2",
	})
	if err != nil {
		t.Fatalf("UpsertEdge: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("expected merge on edge key, got two edges")
	}
	if second.Weight != 5 {
		t.Fatalf("expected weight 5, got %v", second.Weight)
	}
	if len(second.EvidenceSnippets) != 2 {
		t.Fatalf("expected 2 snippets, got %v", second.EvidenceSnippets)
	}
	if len(second.SourceDocumentIDs) != 2 {
		t.Fatalf("expected 2 source documents, got %v", second.SourceDocumentIDs)
	}
}

func TestUpsertEdgeSnippetCap(t *testing.T) {
	s := NewGraphMemStorage()
	ctx := context.Background()
	a := upsertNamed(t, s, 1, "Person", "Ann")
	b := upsertNamed(t, s, 1, "Person", "Bob")

	var edge *common.Edge
	var err error
	for i := 0; i < store.MaxEvidenceSnippets+5; i++ {
		edge, err = s.UpsertEdge(ctx, 1, a.ID, b.ID, store.EdgeEvidence{
			RelationshipType: "KNOWS",
			Snippet:          string(rune('a' + i)),
		})
		if err != nil {
			t.Fatalf("UpsertEdge: %v", err)
		}
	}
	if len(edge.EvidenceSnippets) != store.MaxEvidenceSnippets {
		t.Fatalf("expected snippet list capped at %d, got %d", store.MaxEvidenceSnippets, len(edge.EvidenceSnippets))
	}
	if edge.EvidenceSnippets[0] == "a" {
		t.Fatalf("expected oldest snippet evicted first")
	}
}

func TestMergeBatchAtomic(t *testing.T) {
	s := NewGraphMemStorage()
	ctx := context.Background()

	// Bad batch: edge references a ref that no node declares.
	_, err := s.MergeBatch(ctx, 1, store.Batch{
		DocumentID: "doc-1",
		Nodes: []store.BatchNode{
			{Ref: "n1", EntityType: "Person", Name: "Ann", Confidence: 0.8},
		},
		Edges: []store.BatchEdge{
			{SourceRef: "n1", TargetRef: "ghost", RelationshipType: "KNOWS"},
		},
	})
	if !errors.Is(err, store.ErrInvalidEdgeEndpoint) {
		t.Fatalf("expected ErrInvalidEdgeEndpoint, got %v", err)
	}

	data, err := s.GetGraphData(ctx, 1)
	if err != nil {
		t.Fatalf("GetGraphData: %v", err)
	}
	if len(data.Nodes) != 0 || len(data.Edges) != 0 {
		t.Fatalf("failed batch leaked partial state: %d nodes, %d edges", len(data.Nodes), len(data.Edges))
	}
}

func TestMergeBatchCommitsAndResolvesRefs(t *testing.T) {
	s := NewGraphMemStorage()
	ctx := context.Background()

	result, err := s.MergeBatch(ctx, 1, store.Batch{
		DocumentID: "doc-1",
		Nodes: []store.BatchNode{
			{Ref: "n1", EntityType: "Person", Name: "Ann", Confidence: 0.8},
			{Ref: "n2", EntityType: "Organization", Name: "Acme", Confidence: 0.9},
		},
		Edges: []store.BatchEdge{
			{SourceRef: "n1", TargetRef: "n2", RelationshipType: "WORKS_AT", Weight: 1, Confidence: 0.7},
		},
	})
	if err != nil {
		t.Fatalf("MergeBatch: %v", err)
	}
	if result.NodesMerged != 2 || result.EdgesMerged != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	data, err := s.GetGraphData(ctx, 1)
	if err != nil {
		t.Fatalf("GetGraphData: %v", err)
	}
	if len(data.Edges) != 1 {
		t.Fatalf("expected one edge, got %d", len(data.Edges))
	}
	if len(data.Edges[0].SourceDocumentIDs) != 1 || data.Edges[0].SourceDocumentIDs[0] != "doc-1" {
		t.Fatalf("edge missing batch document id: %v", data.Edges[0].SourceDocumentIDs)
	}
}

func TestGetGraphDataOrdering(t *testing.T) {
	s := NewGraphMemStorage()
	ctx := context.Background()

	a := upsertNamed(t, s, 1, "Person", "Ann")
	b := upsertNamed(t, s, 1, "Person", "Bob")
	upsertNamed(t, s, 1, "Person", "Bob") // second mention

	if _, err := s.UpsertEdge(ctx, 1, a.ID, b.ID, store.EdgeEvidence{RelationshipType: "KNOWS", Weight: 1}); err != nil {
		t.Fatalf("UpsertEdge: %v", err)
	}
	if _, err := s.UpsertEdge(ctx, 1, b.ID, a.ID, store.EdgeEvidence{RelationshipType: "MANAGES", Weight: 5}); err != nil {
		t.Fatalf("UpsertEdge: %v", err)
	}

	data, err := s.GetGraphData(ctx, 1)
	if err != nil {
		t.Fatalf("GetGraphData: %v", err)
	}
	if data.Nodes[0].ID != b.ID {
		t.Fatalf("expected most-mentioned node first")
	}
	if data.Edges[0].RelationshipType != "MANAGES" {
		t.Fatalf("expected heaviest edge first, got %s", data.Edges[0].RelationshipType)
	}
}

func TestInsightFlagsIdempotentAndScoped(t *testing.T) {
	s := NewGraphMemStorage()
	ctx := context.Background()

	created, err := s.CreateInsights(ctx, 1, []common.Insight{
		{InsightType: "hub_entity", Title: "Hub", NodeIDs: []string{"n1"}},
	}, time.Now())
	if err != nil {
		t.Fatalf("CreateInsights: %v", err)
	}
	id := created[0].ID

	if err := s.ConfirmInsight(ctx, 1, id); err != nil {
		t.Fatalf("ConfirmInsight: %v", err)
	}
	if err := s.ConfirmInsight(ctx, 1, id); err != nil {
		t.Fatalf("ConfirmInsight should be idempotent: %v", err)
	}
	if err := s.DismissInsight(ctx, 1, id); err != nil {
		t.Fatalf("DismissInsight: %v", err)
	}
	if err := s.DismissInsight(ctx, 2, id); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for wrong project, got %v", err)
	}
	if err := s.DismissInsight(ctx, 1, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing insight, got %v", err)
	}

	active, total, err := s.ActiveInsights(ctx, 1, 1, 10)
	if err != nil {
		t.Fatalf("ActiveInsights: %v", err)
	}
	if total != 0 || len(active) != 0 {
		t.Fatalf("dismissed insight still listed: total=%d", total)
	}
}

func TestCreateInsightsDedupesBySignature(t *testing.T) {
	s := NewGraphMemStorage()
	ctx := context.Background()

	first, err := s.CreateInsights(ctx, 1, []common.Insight{
		{InsightType: "bridge", NodeIDs: []string{"b", "a"}},
	}, time.Now())
	if err != nil {
		t.Fatalf("CreateInsights: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected one insight created, got %d", len(first))
	}

	// Same signature, different node order.
	second, err := s.CreateInsights(ctx, 1, []common.Insight{
		{InsightType: "bridge", NodeIDs: []string{"a", "b"}},
	}, time.Now())
	if err != nil {
		t.Fatalf("CreateInsights: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected duplicate suppressed, got %d created", len(second))
	}
}

func TestExtractionJobLifecycle(t *testing.T) {
	s := NewGraphMemStorage()
	ctx := context.Background()

	job := &common.ExtractionJob{ProjectID: 1, DocumentID: "doc-1", UserID: 7}
	if err := s.CreateExtractionJob(ctx, job); err != nil {
		t.Fatalf("CreateExtractionJob: %v", err)
	}

	claimed, err := s.ClaimExtractionJob(ctx, job.ID)
	if err != nil || !claimed {
		t.Fatalf("expected claim to succeed, got claimed=%v err=%v", claimed, err)
	}
	claimed, err = s.ClaimExtractionJob(ctx, job.ID)
	if err != nil || claimed {
		t.Fatalf("expected second claim to fail, got claimed=%v err=%v", claimed, err)
	}

	if err := s.CompleteExtractionJob(ctx, job.ID, 5, 3); err != nil {
		t.Fatalf("CompleteExtractionJob: %v", err)
	}
	// Terminal jobs are immutable.
	if err := s.FailExtractionJob(ctx, job.ID, "late failure"); err != nil {
		t.Fatalf("FailExtractionJob after completion: %v", err)
	}

	got, err := s.GetExtractionJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetExtractionJob: %v", err)
	}
	if got.Status != common.JobCompleted || got.EntitiesExtracted != 5 || got.RelationshipsCreated != 3 {
		t.Fatalf("unexpected job state: %+v", got)
	}
	if got.ErrorMessage != "" {
		t.Fatalf("terminal job mutated: %+v", got)
	}
}

func TestListNodesPagination(t *testing.T) {
	s := NewGraphMemStorage()
	ctx := context.Background()

	names := []string{"Alpha", "Beta", "Gamma", "Delta", "Epsilon"}
	for i, name := range names {
		// Mention counts 5,4,3,2,1 to make the ordering observable.
		for range len(names) - i {
			upsertNamed(t, s, 1, "Concept", name)
		}
	}
	upsertNamed(t, s, 2, "Concept", "Other project")

	nodes, total, err := s.ListNodes(ctx, 1, 1, 2)
	if err != nil {
		t.Fatalf("ListNodes page 1: %v", err)
	}
	if total != len(names) {
		t.Fatalf("expected total %d, got %d", len(names), total)
	}
	if len(nodes) != 2 || nodes[0].Name != "Alpha" || nodes[1].Name != "Beta" {
		t.Fatalf("unexpected first page: %+v", nodes)
	}

	nodes, _, err = s.ListNodes(ctx, 1, 3, 2)
	if err != nil {
		t.Fatalf("ListNodes page 3: %v", err)
	}
	if len(nodes) != 1 || nodes[0].Name != "Epsilon" {
		t.Fatalf("unexpected last page: %+v", nodes)
	}

	nodes, _, err = s.ListNodes(ctx, 1, 9, 2)
	if err != nil {
		t.Fatalf("ListNodes past end: %v", err)
	}
	if len(nodes) != 0 {
		t.Fatalf("expected empty page past end, got %+v", nodes)
	}
}

func TestListExtractionJobsNewestFirst(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	s := NewGraphMemStorage(WithClock(func() time.Time {
		tick++
		return now.Add(time.Duration(tick) * time.Second)
	}))
	ctx := context.Background()

	ids := make([]string, 0, 3)
	for _, doc := range []string{"doc-1", "doc-2", "doc-3"} {
		job := &common.ExtractionJob{ProjectID: 1, DocumentID: doc}
		if err := s.CreateExtractionJob(ctx, job); err != nil {
			t.Fatalf("CreateExtractionJob(%s): %v", doc, err)
		}
		ids = append(ids, job.ID)
	}
	if err := s.CreateExtractionJob(ctx, &common.ExtractionJob{ProjectID: 2, DocumentID: "elsewhere"}); err != nil {
		t.Fatalf("CreateExtractionJob other project: %v", err)
	}

	jobs, total, err := s.ListExtractionJobs(ctx, 1, 1, 2)
	if err != nil {
		t.Fatalf("ListExtractionJobs: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected total 3, got %d", total)
	}
	if len(jobs) != 2 || jobs[0].ID != ids[2] || jobs[1].ID != ids[1] {
		t.Fatalf("expected newest first, got %+v", jobs)
	}
}
