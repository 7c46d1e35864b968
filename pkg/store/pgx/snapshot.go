package pgx

import (
	"context"

	"github.com/latticehq/lattice/backend/pkg/store"
)

const topNodesSQL = `
SELECT ` + nodeColumns + `
FROM graph_nodes
WHERE project_id = $1
ORDER BY mention_count DESC, id
LIMIT $2`

const topEdgesSQL = `
SELECT ` + edgeColumns + `
FROM graph_edges
WHERE project_id = $1
ORDER BY weight DESC, id
LIMIT $2`

const newestInsightsSQL = `
SELECT ` + insightColumns + `
FROM graph_insights
WHERE project_id = $1 AND NOT dismissed
ORDER BY created_at DESC, id
LIMIT $2`

// GetGraphData returns the bounded snapshot used by dashboard reads: top
// nodes by mentions, top edges by weight, newest active insights.
func (s *GraphDBStorage) GetGraphData(ctx context.Context, projectID int64) (*store.GraphData, error) {
	nodeRows, err := s.conn.Query(ctx, topNodesSQL, projectID, store.SnapshotNodeLimit)
	if err != nil {
		return nil, err
	}
	nodes, err := scanNodes(nodeRows)
	if err != nil {
		return nil, err
	}

	edgeRows, err := s.conn.Query(ctx, topEdgesSQL, projectID, store.SnapshotEdgeLimit)
	if err != nil {
		return nil, err
	}
	edges, err := scanEdges(edgeRows)
	if err != nil {
		return nil, err
	}

	insightRows, err := s.conn.Query(ctx, newestInsightsSQL, projectID, store.SnapshotInsightLimit)
	if err != nil {
		return nil, err
	}
	insights, err := scanInsights(insightRows)
	if err != nil {
		return nil, err
	}

	return &store.GraphData{
		Nodes:    nodes,
		Edges:    edges,
		Insights: insights,
	}, nil
}
