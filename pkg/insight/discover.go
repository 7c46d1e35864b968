// Package insight scans a project's graph for structural findings and
// persists them as deduplicated insights. Discovery is incremental: each
// scan only considers edges created since the previous scan's watermark.
package insight

import (
	"context"
	"fmt"
	"sort"

	"github.com/latticehq/lattice/backend/pkg/ai"
	"github.com/latticehq/lattice/backend/pkg/common"
	"github.com/latticehq/lattice/backend/pkg/logger"
	"github.com/latticehq/lattice/backend/pkg/store"
)

const (
	defaultHubDegreeThreshold  = 8
	defaultHubMentionThreshold = 15

	// Endpoints below this confidence do not qualify for the unexpected
	// relationship pattern.
	unexpectedMinConfidence = 0.7
)

// Discoverer runs incremental pattern scans for one store. The model
// collaborator only words findings; it never decides whether one exists,
// and a collaborator failure falls back to generated wording.
type Discoverer struct {
	store  store.GraphStore
	client ai.GraphAIClient

	hubDegreeThreshold  int
	hubMentionThreshold int
}

type Option func(*Discoverer)

// WithHubDegreeThreshold overrides the undirected degree at which a node
// counts as a hub.
func WithHubDegreeThreshold(threshold int) Option {
	return func(d *Discoverer) {
		if threshold > 0 {
			d.hubDegreeThreshold = threshold
		}
	}
}

// WithHubMentionThreshold overrides the mention count at which a node
// counts as a hub.
func WithHubMentionThreshold(threshold int) Option {
	return func(d *Discoverer) {
		if threshold > 0 {
			d.hubMentionThreshold = threshold
		}
	}
}

// NewDiscoverer creates a Discoverer. client may be nil, in which case all
// wording uses the structural fallback.
func NewDiscoverer(st store.GraphStore, client ai.GraphAIClient, opts ...Option) *Discoverer {
	d := &Discoverer{
		store:  st,
		client: client,

		hubDegreeThreshold:  defaultHubDegreeThreshold,
		hubMentionThreshold: defaultHubMentionThreshold,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(d)
	}
	return d
}

// finding is one structural pattern match before wording and persistence.
type finding struct {
	insightType string
	nodeIDs     []string
	edgeIDs     []string
	documentIDs []string
	confidence  float64
	facts       []string
}

// Discover scans edges created since the last watermark and persists any
// newly found insights. Re-running with no new evidence creates nothing.
// It returns only the insights actually created after signature dedupe.
func (d *Discoverer) Discover(ctx context.Context, projectID int64) ([]common.Insight, error) {
	watermark, err := d.store.InsightWatermark(ctx, projectID)
	if err != nil {
		return nil, err
	}

	newEdges, err := d.store.EdgesCreatedAfter(ctx, projectID, watermark)
	if err != nil {
		return nil, err
	}
	if len(newEdges) == 0 {
		return nil, nil
	}

	allEdges, err := d.store.AllEdges(ctx, projectID)
	if err != nil {
		return nil, err
	}

	newEdgeIDs := make(map[string]struct{}, len(newEdges))
	nextWatermark := watermark
	for _, edge := range newEdges {
		newEdgeIDs[edge.ID] = struct{}{}
		if edge.CreatedAt.After(nextWatermark) {
			nextWatermark = edge.CreatedAt
		}
	}
	priorEdges := make([]common.Edge, 0, len(allEdges)-len(newEdges))
	for _, edge := range allEdges {
		if _, isNew := newEdgeIDs[edge.ID]; !isNew {
			priorEdges = append(priorEdges, edge)
		}
	}

	nodes, err := d.involvedNodes(ctx, projectID, allEdges)
	if err != nil {
		return nil, err
	}

	findings := make([]finding, 0)
	findings = append(findings, d.findBridges(priorEdges, newEdges, nodes)...)
	findings = append(findings, d.findHubs(allEdges, newEdges, nodes)...)
	findings = append(findings, d.findUnexpectedRelationships(priorEdges, newEdges, nodes)...)
	if len(findings) == 0 {
		// Still advance the watermark so the scanned edges are not
		// rescanned forever.
		_, err := d.store.CreateInsights(ctx, projectID, nil, nextWatermark)
		return nil, err
	}

	insights := make([]common.Insight, 0, len(findings))
	for _, f := range findings {
		title, description := d.wording(ctx, f)
		insights = append(insights, common.Insight{
			ProjectID:   projectID,
			InsightType: f.insightType,
			Title:       title,
			Description: description,
			NodeIDs:     f.nodeIDs,
			EdgeIDs:     f.edgeIDs,
			DocumentIDs: f.documentIDs,
			Confidence:  f.confidence,
		})
	}

	created, err := d.store.CreateInsights(ctx, projectID, insights, nextWatermark)
	if err != nil {
		return nil, err
	}
	logger.Info("insight scan finished",
		"project_id", projectID,
		"new_edges", len(newEdges),
		"findings", len(findings),
		"created", len(created),
	)
	return created, nil
}

// findBridges reports new edges joining two previously disconnected
// components. Components are merged as bridges are found so one batch of
// edges joining the same pair of clusters yields one finding.
func (d *Discoverer) findBridges(priorEdges, newEdges []common.Edge, nodes map[string]common.Node) []finding {
	components := newUnionFind()
	for _, edge := range priorEdges {
		components.union(edge.SourceNodeID, edge.TargetNodeID)
	}

	findings := make([]finding, 0)
	for _, edge := range newEdges {
		if components.connected(edge.SourceNodeID, edge.TargetNodeID) {
			continue
		}
		// Joining two real clusters is a finding; a node gaining its first
		// edge is just growth.
		isBridge := components.componentSize(edge.SourceNodeID) > 1 &&
			components.componentSize(edge.TargetNodeID) > 1
		components.union(edge.SourceNodeID, edge.TargetNodeID)
		if !isBridge {
			continue
		}

		source, target := nodes[edge.SourceNodeID], nodes[edge.TargetNodeID]
		findings = append(findings, finding{
			insightType: TypeBridge,
			nodeIDs:     []string{edge.SourceNodeID, edge.TargetNodeID},
			edgeIDs:     []string{edge.ID},
			documentIDs: edge.SourceDocumentIDs,
			confidence:  edge.Confidence,
			facts: []string{
				fmt.Sprintf("%q and %q were in disconnected parts of the graph until now", source.Name, target.Name),
				fmt.Sprintf("a new %s relationship connects them", edge.RelationshipType),
			},
		})
	}
	return findings
}

// findHubs reports nodes touched by new edges that cross the degree or
// mention threshold.
func (d *Discoverer) findHubs(allEdges, newEdges []common.Edge, nodes map[string]common.Node) []finding {
	degrees := degreeCounts(allEdges)

	candidates := make([]string, 0)
	seen := make(map[string]struct{})
	for _, edge := range newEdges {
		for _, id := range []string{edge.SourceNodeID, edge.TargetNodeID} {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			candidates = append(candidates, id)
		}
	}
	sort.Strings(candidates)

	findings := make([]finding, 0)
	for _, id := range candidates {
		node, ok := nodes[id]
		if !ok {
			continue
		}
		if degrees[id] < d.hubDegreeThreshold && node.MentionCount < d.hubMentionThreshold {
			continue
		}
		findings = append(findings, finding{
			insightType: TypeHub,
			nodeIDs:     []string{id},
			documentIDs: node.SourceDocumentIDs,
			confidence:  node.Confidence,
			facts: []string{
				fmt.Sprintf("%q (%s) is connected to %d other entities", node.Name, node.EntityType, degrees[id]),
				fmt.Sprintf("it has been mentioned %d times across the project's documents", node.MentionCount),
			},
		})
	}
	return findings
}

// findUnexpectedRelationships reports new edges whose relationship type has
// never been seen between the entity types of two high-confidence nodes.
func (d *Discoverer) findUnexpectedRelationships(priorEdges, newEdges []common.Edge, nodes map[string]common.Node) []finding {
	known := make(map[string]struct{}, len(priorEdges))
	for _, edge := range priorEdges {
		source, target := nodes[edge.SourceNodeID], nodes[edge.TargetNodeID]
		known[relTypeKey(source.EntityType, target.EntityType, edge.RelationshipType)] = struct{}{}
	}

	findings := make([]finding, 0)
	for _, edge := range newEdges {
		source, sOK := nodes[edge.SourceNodeID]
		target, tOK := nodes[edge.TargetNodeID]
		if !sOK || !tOK {
			continue
		}
		if source.Confidence < unexpectedMinConfidence || target.Confidence < unexpectedMinConfidence {
			continue
		}
		key := relTypeKey(source.EntityType, target.EntityType, edge.RelationshipType)
		if _, ok := known[key]; ok {
			continue
		}
		known[key] = struct{}{}

		findings = append(findings, finding{
			insightType: TypeUnexpectedRelationship,
			nodeIDs:     []string{edge.SourceNodeID, edge.TargetNodeID},
			edgeIDs:     []string{edge.ID},
			documentIDs: edge.SourceDocumentIDs,
			confidence:  edge.Confidence,
			facts: []string{
				fmt.Sprintf("%q (%s) and %q (%s) are both well-established entities", source.Name, source.EntityType, target.Name, target.EntityType),
				fmt.Sprintf("a %s relationship between these entity types has not appeared before", edge.RelationshipType),
			},
		})
	}
	return findings
}

func (d *Discoverer) involvedNodes(ctx context.Context, projectID int64, edges []common.Edge) (map[string]common.Node, error) {
	ids := make([]string, 0, len(edges)*2)
	seen := make(map[string]struct{}, len(edges)*2)
	for _, edge := range edges {
		for _, id := range []string{edge.SourceNodeID, edge.TargetNodeID} {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	nodes, err := d.store.GetNodes(ctx, projectID, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]common.Node, len(nodes))
	for _, node := range nodes {
		byID[node.ID] = node
	}
	return byID, nil
}

// wording asks the collaborator for a title and description, falling back
// to the structural facts when the collaborator is unavailable or fails.
func (d *Discoverer) wording(ctx context.Context, f finding) (string, string) {
	if d.client != nil {
		title, description, err := ai.DescribeInsight(ctx, d.client, f.insightType, f.facts)
		if err == nil && title != "" {
			return title, description
		}
		if err != nil {
			logger.Warn("insight wording fell back to structural facts", "type", f.insightType, "err", err)
		}
	}
	return fallbackWording(f)
}

func fallbackWording(f finding) (string, string) {
	description := ""
	for i, fact := range f.facts {
		if i > 0 {
			description += "; "
		}
		description += fact
	}

	switch f.insightType {
	case TypeBridge:
		return "New connection between graph clusters", description
	case TypeHub:
		return "Highly connected entity", description
	case TypeUnexpectedRelationship:
		return "Unexpected relationship", description
	default:
		return f.insightType, description
	}
}
