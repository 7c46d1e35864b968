// Package memory provides an in-process GraphStore used by tests and local
// development. It mirrors the merge semantics of the Postgres store behind
// the same interface, guarded by a single mutex.
package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/latticehq/lattice/backend/pkg/common"
	"github.com/latticehq/lattice/backend/pkg/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

type GraphMemStorage struct {
	mu         sync.Mutex
	nodes      map[string]*common.Node
	edges      map[string]*common.Edge
	insights   map[string]*common.Insight
	jobs       map[string]*common.ExtractionJob
	watermarks map[int64]time.Time

	nodeKeys map[string]string // merge key -> node ID
	edgeKeys map[string]string // merge key -> edge ID

	clock func() time.Time
}

var _ store.GraphStore = (*GraphMemStorage)(nil)

type Option func(*GraphMemStorage)

// WithClock overrides the time source used for created/updated timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *GraphMemStorage) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewGraphMemStorage(opts ...Option) *GraphMemStorage {
	s := &GraphMemStorage{
		nodes:      make(map[string]*common.Node),
		edges:      make(map[string]*common.Edge),
		insights:   make(map[string]*common.Insight),
		jobs:       make(map[string]*common.ExtractionJob),
		watermarks: make(map[int64]time.Time),
		nodeKeys:   make(map[string]string),
		edgeKeys:   make(map[string]string),
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func nodeKey(projectID int64, entityType, normalizedName string) string {
	return strconv.FormatInt(projectID, 10) + "|" + entityType + "|" + normalizedName
}

func edgeKey(projectID int64, source, target, relType string) string {
	return strconv.FormatInt(projectID, 10) + "|" + source + "|" + target + "|" + relType
}

func (s *GraphMemStorage) UpsertNode(ctx context.Context, projectID int64, ev store.NodeEvidence) (*common.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, err := s.upsertNodeLocked(projectID, ev)
	if err != nil {
		return nil, err
	}
	out := *node
	return &out, nil
}

func (s *GraphMemStorage) upsertNodeLocked(projectID int64, ev store.NodeEvidence) (*common.Node, error) {
	normalized := common.NormalizeName(ev.Name)
	key := nodeKey(projectID, ev.EntityType, normalized)
	now := s.clock()

	if id, ok := s.nodeKeys[key]; ok {
		node := s.nodes[id]
		node.MentionCount++
		node.Confidence = common.MergeConfidence(node.Confidence, ev.Confidence)
		node.SourceDocumentIDs = common.AppendDocumentID(node.SourceDocumentIDs, ev.SourceDocumentID)
		node.Properties.Merge(ev.Properties)
		if node.Description == "" {
			node.Description = ev.Description
		}
		node.UpdatedAt = now
		return node, nil
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	node := &common.Node{
		ID:             id,
		ProjectID:      projectID,
		EntityType:     ev.EntityType,
		Name:           ev.Name,
		NormalizedName: normalized,
		Description:    ev.Description,
		Properties:     ev.Properties,
		MentionCount:   1,
		Confidence:     common.MergeConfidence(0, ev.Confidence),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	node.SourceDocumentIDs = common.AppendDocumentID(nil, ev.SourceDocumentID)
	s.nodes[id] = node
	s.nodeKeys[key] = id
	return node, nil
}

func (s *GraphMemStorage) UpsertEdge(ctx context.Context, projectID int64, sourceNodeID, targetNodeID string, ev store.EdgeEvidence) (*common.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	edge, err := s.upsertEdgeLocked(projectID, sourceNodeID, targetNodeID, ev)
	if err != nil {
		return nil, err
	}
	out := *edge
	return &out, nil
}

func (s *GraphMemStorage) upsertEdgeLocked(projectID int64, sourceNodeID, targetNodeID string, ev store.EdgeEvidence) (*common.Edge, error) {
	if sourceNodeID == targetNodeID {
		return nil, store.ErrInvalidEdgeEndpoint
	}
	src, ok := s.nodes[sourceNodeID]
	if !ok || src.ProjectID != projectID {
		return nil, store.ErrInvalidEdgeEndpoint
	}
	tgt, ok := s.nodes[targetNodeID]
	if !ok || tgt.ProjectID != projectID {
		return nil, store.ErrInvalidEdgeEndpoint
	}

	weight := ev.Weight
	if weight <= 0 {
		weight = 1
	}
	now := s.clock()

	key := edgeKey(projectID, sourceNodeID, targetNodeID, ev.RelationshipType)
	if id, ok := s.edgeKeys[key]; ok {
		edge := s.edges[id]
		edge.Weight += weight
		edge.Confidence = common.MergeConfidence(edge.Confidence, ev.Confidence)
		edge.SourceDocumentIDs = common.AppendDocumentID(edge.SourceDocumentIDs, ev.SourceDocumentID)
		edge.EvidenceSnippets = common.AppendSnippet(edge.EvidenceSnippets, ev.Snippet, store.MaxEvidenceSnippets)
		return edge, nil
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	edge := &common.Edge{
		ID:               id,
		ProjectID:        projectID,
		SourceNodeID:     sourceNodeID,
		TargetNodeID:     targetNodeID,
		RelationshipType: ev.RelationshipType,
		Weight:           weight,
		AiDiscovered:     ev.AiDiscovered,
		Confidence:       common.MergeConfidence(0, ev.Confidence),
		CreatedAt:        now,
	}
	edge.SourceDocumentIDs = common.AppendDocumentID(nil, ev.SourceDocumentID)
	edge.EvidenceSnippets = common.AppendSnippet(nil, ev.Snippet, store.MaxEvidenceSnippets)
	s.edges[id] = edge
	s.edgeKeys[key] = id
	return edge, nil
}

// MergeBatch applies one extraction batch under the store mutex. On any
// failure the staged changes are discarded, so partial merges never become
// visible.
func (s *GraphMemStorage) MergeBatch(ctx context.Context, projectID int64, batch store.Batch) (*store.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.snapshotLocked()

	result := &store.BatchResult{}
	nodeIDsByRef := make(map[string]string, len(batch.Nodes))
	for _, bn := range batch.Nodes {
		node, err := s.upsertNodeLocked(projectID, store.NodeEvidence{
			EntityType:       bn.EntityType,
			Name:             bn.Name,
			Description:      bn.Description,
			Properties:       bn.Properties,
			Confidence:       bn.Confidence,
			SourceDocumentID: batch.DocumentID,
			Snippet:          bn.Snippet,
		})
		if err != nil {
			s.restoreLocked(staged)
			return nil, err
		}
		nodeIDsByRef[bn.Ref] = node.ID
		result.NodesMerged++
	}

	for _, be := range batch.Edges {
		srcID, ok1 := nodeIDsByRef[be.SourceRef]
		tgtID, ok2 := nodeIDsByRef[be.TargetRef]
		if !ok1 || !ok2 {
			s.restoreLocked(staged)
			return nil, store.ErrInvalidEdgeEndpoint
		}
		_, err := s.upsertEdgeLocked(projectID, srcID, tgtID, store.EdgeEvidence{
			RelationshipType: be.RelationshipType,
			Confidence:       be.Confidence,
			Weight:           be.Weight,
			SourceDocumentID: batch.DocumentID,
			Snippet:          be.Snippet,
		})
		if err != nil {
			s.restoreLocked(staged)
			return nil, err
		}
		result.EdgesMerged++
	}

	return result, nil
}

type memSnapshot struct {
	nodes    map[string]common.Node
	edges    map[string]common.Edge
	nodeKeys map[string]string
	edgeKeys map[string]string
}

func (s *GraphMemStorage) snapshotLocked() memSnapshot {
	snap := memSnapshot{
		nodes:    make(map[string]common.Node, len(s.nodes)),
		edges:    make(map[string]common.Edge, len(s.edges)),
		nodeKeys: make(map[string]string, len(s.nodeKeys)),
		edgeKeys: make(map[string]string, len(s.edgeKeys)),
	}
	for id, n := range s.nodes {
		snap.nodes[id] = *n
	}
	for id, e := range s.edges {
		snap.edges[id] = *e
	}
	for k, v := range s.nodeKeys {
		snap.nodeKeys[k] = v
	}
	for k, v := range s.edgeKeys {
		snap.edgeKeys[k] = v
	}
	return snap
}

func (s *GraphMemStorage) restoreLocked(snap memSnapshot) {
	s.nodes = make(map[string]*common.Node, len(snap.nodes))
	for id := range snap.nodes {
		n := snap.nodes[id]
		s.nodes[id] = &n
	}
	s.edges = make(map[string]*common.Edge, len(snap.edges))
	for id := range snap.edges {
		e := snap.edges[id]
		s.edges[id] = &e
	}
	s.nodeKeys = snap.nodeKeys
	s.edgeKeys = snap.edgeKeys
}

func (s *GraphMemStorage) GetNode(ctx context.Context, projectID int64, nodeID string) (*common.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[nodeID]
	if !ok || node.ProjectID != projectID {
		return nil, store.ErrNotFound
	}
	out := *node
	return &out, nil
}

func (s *GraphMemStorage) GetNodes(ctx context.Context, projectID int64, nodeIDs []string) ([]common.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]common.Node, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		if node, ok := s.nodes[id]; ok && node.ProjectID == projectID {
			out = append(out, *node)
		}
	}
	return out, nil
}

func (s *GraphMemStorage) ListNodes(ctx context.Context, projectID int64, page, pageSize int) ([]common.Node, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}

	all := make([]common.Node, 0)
	for _, node := range s.nodes {
		if node.ProjectID == projectID {
			all = append(all, *node)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].MentionCount == all[j].MentionCount {
			return all[i].ID < all[j].ID
		}
		return all[i].MentionCount > all[j].MentionCount
	})

	total := len(all)
	start := (page - 1) * pageSize
	if start >= total {
		return []common.Node{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (s *GraphMemStorage) OutgoingEdges(ctx context.Context, projectID int64, sourceNodeIDs []string) ([]common.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[string]struct{}, len(sourceNodeIDs))
	for _, id := range sourceNodeIDs {
		wanted[id] = struct{}{}
	}
	out := make([]common.Edge, 0)
	for _, edge := range s.edges {
		if edge.ProjectID != projectID {
			continue
		}
		if _, ok := wanted[edge.SourceNodeID]; ok {
			out = append(out, *edge)
		}
	}
	sortEdges(out)
	return out, nil
}

func (s *GraphMemStorage) TouchingEdges(ctx context.Context, projectID int64, nodeIDs []string) ([]common.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[string]struct{}, len(nodeIDs))
	for _, id := range nodeIDs {
		wanted[id] = struct{}{}
	}
	out := make([]common.Edge, 0)
	for _, edge := range s.edges {
		if edge.ProjectID != projectID {
			continue
		}
		_, src := wanted[edge.SourceNodeID]
		_, tgt := wanted[edge.TargetNodeID]
		if src || tgt {
			out = append(out, *edge)
		}
	}
	sortEdges(out)
	return out, nil
}

func (s *GraphMemStorage) EdgesCreatedAfter(ctx context.Context, projectID int64, watermark time.Time) ([]common.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]common.Edge, 0)
	for _, edge := range s.edges {
		if edge.ProjectID == projectID && edge.CreatedAt.After(watermark) {
			out = append(out, *edge)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *GraphMemStorage) AllEdges(ctx context.Context, projectID int64) ([]common.Edge, error) {
	return s.EdgesCreatedAfter(ctx, projectID, time.Time{})
}

func (s *GraphMemStorage) GetGraphData(ctx context.Context, projectID int64) (*store.GraphData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := &store.GraphData{}
	for _, node := range s.nodes {
		if node.ProjectID == projectID {
			data.Nodes = append(data.Nodes, *node)
		}
	}
	sort.Slice(data.Nodes, func(i, j int) bool {
		if data.Nodes[i].MentionCount == data.Nodes[j].MentionCount {
			return data.Nodes[i].ID < data.Nodes[j].ID
		}
		return data.Nodes[i].MentionCount > data.Nodes[j].MentionCount
	})
	if len(data.Nodes) > store.SnapshotNodeLimit {
		data.Nodes = data.Nodes[:store.SnapshotNodeLimit]
	}

	for _, edge := range s.edges {
		if edge.ProjectID == projectID {
			data.Edges = append(data.Edges, *edge)
		}
	}
	sortEdges(data.Edges)
	if len(data.Edges) > store.SnapshotEdgeLimit {
		data.Edges = data.Edges[:store.SnapshotEdgeLimit]
	}

	for _, ins := range s.insights {
		if ins.ProjectID == projectID && !ins.Dismissed {
			data.Insights = append(data.Insights, *ins)
		}
	}
	sort.Slice(data.Insights, func(i, j int) bool {
		if data.Insights[i].CreatedAt.Equal(data.Insights[j].CreatedAt) {
			return data.Insights[i].ID < data.Insights[j].ID
		}
		return data.Insights[i].CreatedAt.After(data.Insights[j].CreatedAt)
	})
	if len(data.Insights) > store.SnapshotInsightLimit {
		data.Insights = data.Insights[:store.SnapshotInsightLimit]
	}

	return data, nil
}

// ResolveSeeds matches by exact normalized name and falls back to substring
// containment so tests run without an embedding backend. The Postgres store
// substitutes vector similarity for the fallback.
func (s *GraphMemStorage) ResolveSeeds(ctx context.Context, projectID int64, query string, embedding []float32, limit int) ([]common.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 5
	}
	normalized := common.NormalizeName(query)
	exact := make([]common.Node, 0)
	fuzzy := make([]common.Node, 0)
	for _, node := range s.nodes {
		if node.ProjectID != projectID {
			continue
		}
		if node.NormalizedName == normalized {
			exact = append(exact, *node)
			continue
		}
		if strings.Contains(normalized, node.NormalizedName) || strings.Contains(node.NormalizedName, normalized) {
			fuzzy = append(fuzzy, *node)
		}
	}
	byMentions := func(nodes []common.Node) {
		sort.Slice(nodes, func(i, j int) bool {
			if nodes[i].MentionCount == nodes[j].MentionCount {
				return nodes[i].ID < nodes[j].ID
			}
			return nodes[i].MentionCount > nodes[j].MentionCount
		})
	}
	byMentions(exact)
	byMentions(fuzzy)

	out := append(exact, fuzzy...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *GraphMemStorage) CreateInsights(ctx context.Context, projectID int64, insights []common.Insight, watermark time.Time) ([]common.Insight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := make(map[string]struct{})
	for _, ins := range s.insights {
		if ins.ProjectID == projectID && !ins.Dismissed {
			existing[store.InsightSignature(*ins)] = struct{}{}
		}
	}

	created := make([]common.Insight, 0, len(insights))
	for _, ins := range insights {
		sig := store.InsightSignature(ins)
		if _, ok := existing[sig]; ok {
			continue
		}
		existing[sig] = struct{}{}

		if ins.ID == "" {
			id, err := gonanoid.New()
			if err != nil {
				return nil, err
			}
			ins.ID = id
		}
		ins.ProjectID = projectID
		if ins.CreatedAt.IsZero() {
			ins.CreatedAt = s.clock()
		}
		stored := ins
		s.insights[ins.ID] = &stored
		created = append(created, ins)
	}

	if watermark.After(s.watermarks[projectID]) {
		s.watermarks[projectID] = watermark
	}
	return created, nil
}

func (s *GraphMemStorage) InsightWatermark(ctx context.Context, projectID int64) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermarks[projectID], nil
}

func (s *GraphMemStorage) ActiveInsights(ctx context.Context, projectID int64, page, pageSize int) ([]common.Insight, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	all := make([]common.Insight, 0)
	for _, ins := range s.insights {
		if ins.ProjectID == projectID && !ins.Dismissed {
			all = append(all, *ins)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	start := (page - 1) * pageSize
	if start >= total {
		return []common.Insight{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (s *GraphMemStorage) DismissInsight(ctx context.Context, projectID int64, insightID string) error {
	return s.setInsightFlag(projectID, insightID, func(ins *common.Insight) {
		ins.Dismissed = true
	})
}

func (s *GraphMemStorage) ConfirmInsight(ctx context.Context, projectID int64, insightID string) error {
	return s.setInsightFlag(projectID, insightID, func(ins *common.Insight) {
		ins.Confirmed = true
	})
}

func (s *GraphMemStorage) setInsightFlag(projectID int64, insightID string, apply func(*common.Insight)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ins, ok := s.insights[insightID]
	if !ok || ins.ProjectID != projectID {
		return store.ErrNotFound
	}
	apply(ins)
	return nil
}

func (s *GraphMemStorage) CreateExtractionJob(ctx context.Context, job *common.ExtractionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return err
		}
		job.ID = id
	}
	if job.Status == "" {
		job.Status = common.JobPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.clock()
	}
	stored := *job
	s.jobs[job.ID] = &stored
	return nil
}

func (s *GraphMemStorage) ClaimExtractionJob(ctx context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, store.ErrNotFound
	}
	if job.Status != common.JobPending {
		return false, nil
	}
	now := s.clock()
	job.Status = common.JobProcessing
	job.StartedAt = &now
	return true, nil
}

func (s *GraphMemStorage) CompleteExtractionJob(ctx context.Context, jobID string, entities, relationships int) error {
	return s.finishJob(jobID, common.JobCompleted, entities, relationships, "")
}

func (s *GraphMemStorage) FailExtractionJob(ctx context.Context, jobID string, message string) error {
	return s.finishJob(jobID, common.JobFailed, 0, 0, message)
}

func (s *GraphMemStorage) finishJob(jobID string, status common.JobStatus, entities, relationships int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	if job.Status == common.JobCompleted || job.Status == common.JobFailed {
		return nil
	}
	now := s.clock()
	job.Status = status
	job.EntitiesExtracted = entities
	job.RelationshipsCreated = relationships
	job.ErrorMessage = message
	job.CompletedAt = &now
	return nil
}

func (s *GraphMemStorage) GetExtractionJob(ctx context.Context, jobID string) (*common.ExtractionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *job
	return &out, nil
}

func (s *GraphMemStorage) ListExtractionJobs(ctx context.Context, projectID int64, page, pageSize int) ([]common.ExtractionJob, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	all := make([]common.ExtractionJob, 0)
	for _, job := range s.jobs {
		if job.ProjectID == projectID {
			all = append(all, *job)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	start := (page - 1) * pageSize
	if start >= total {
		return []common.ExtractionJob{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func sortEdges(edges []common.Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Weight == edges[j].Weight {
			return edges[i].ID < edges[j].ID
		}
		return edges[i].Weight > edges[j].Weight
	})
}
