package pgx

import (
	"context"
	"fmt"
	"time"

	"github.com/latticehq/lattice/backend/pkg/common"
	"github.com/latticehq/lattice/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const edgeColumns = `id, project_id, source_node_id, target_node_id, relationship_type,
	weight, properties, evidence_snippets, source_document_ids, ai_discovered,
	confidence, created_at`

// The snippet list is capped in SQL by slicing the appended array down to
// its newest entries, so the FIFO bound holds under concurrent upserts.
var upsertEdgeSQL = fmt.Sprintf(`
INSERT INTO graph_edges (
	id, project_id, source_node_id, target_node_id, relationship_type,
	weight, properties, evidence_snippets, source_document_ids, ai_discovered,
	confidence, created_at
) VALUES (
	$1, $2, $3, $4, $5, GREATEST($6::float8, 0), $7, $8, $9, $10,
	LEAST(GREATEST($11::float8, 0), 1), now()
)
ON CONFLICT (project_id, source_node_id, target_node_id, relationship_type) DO UPDATE SET
	weight = graph_edges.weight + EXCLUDED.weight,
	confidence = LEAST(1, graph_edges.confidence
		+ (1 - graph_edges.confidence) * EXCLUDED.confidence * 0.25),
	properties = COALESCE(graph_edges.properties, '{}'::jsonb),
	evidence_snippets = CASE
		WHEN $12 = '' THEN graph_edges.evidence_snippets
		ELSE (array_append(graph_edges.evidence_snippets, $12::text))[
			GREATEST(1, cardinality(array_append(graph_edges.evidence_snippets, $12::text)) - %d):]
	END,
	source_document_ids = CASE
		WHEN $13 = '' OR $13 = ANY(graph_edges.source_document_ids)
		THEN graph_edges.source_document_ids
		ELSE array_append(graph_edges.source_document_ids, $13::text)
	END,
	ai_discovered = graph_edges.ai_discovered OR EXCLUDED.ai_discovered
RETURNING `+edgeColumns, store.MaxEvidenceSnippets-1)

const countEndpointsSQL = `
SELECT count(*) FROM graph_nodes WHERE project_id = $1 AND id = ANY($2)`

const outgoingEdgesSQL = `
SELECT ` + edgeColumns + `
FROM graph_edges
WHERE project_id = $1 AND source_node_id = ANY($2)`

const touchingEdgesSQL = `
SELECT ` + edgeColumns + `
FROM graph_edges
WHERE project_id = $1 AND (source_node_id = ANY($2) OR target_node_id = ANY($2))`

const edgesCreatedAfterSQL = `
SELECT ` + edgeColumns + `
FROM graph_edges
WHERE project_id = $1 AND created_at > $2
ORDER BY created_at, id`

const allEdgesSQL = `
SELECT ` + edgeColumns + `
FROM graph_edges
WHERE project_id = $1`

// UpsertEdge merges one piece of edge evidence outside a batch transaction.
func (s *GraphDBStorage) UpsertEdge(ctx context.Context, projectID int64, sourceNodeID, targetNodeID string, ev store.EdgeEvidence) (*common.Edge, error) {
	return upsertEdgeTx(ctx, s.conn, projectID, sourceNodeID, targetNodeID, ev)
}

func upsertEdgeTx(ctx context.Context, q pgxIConn, projectID int64, sourceNodeID, targetNodeID string, ev store.EdgeEvidence) (*common.Edge, error) {
	if sourceNodeID == targetNodeID {
		return nil, store.ErrInvalidEdgeEndpoint
	}

	var endpoints int
	err := q.QueryRow(ctx, countEndpointsSQL, projectID, []string{sourceNodeID, targetNodeID}).Scan(&endpoints)
	if err != nil {
		return nil, err
	}
	if endpoints != 2 {
		return nil, store.ErrInvalidEdgeEndpoint
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}

	docs := []string{}
	if ev.SourceDocumentID != "" {
		docs = append(docs, ev.SourceDocumentID)
	}
	snippets := []string{}
	if ev.Snippet != "" {
		snippets = append(snippets, ev.Snippet)
	}
	weight := ev.Weight
	if weight <= 0 {
		weight = 1
	}

	row := q.QueryRow(ctx, upsertEdgeSQL,
		id,
		projectID,
		sourceNodeID,
		targetNodeID,
		ev.RelationshipType,
		weight,
		common.Properties{},
		snippets,
		docs,
		ev.AiDiscovered,
		ev.Confidence,
		ev.Snippet,
		ev.SourceDocumentID,
	)
	edge, err := scanEdge(row)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrInvalidEdgeEndpoint
		}
		return nil, err
	}
	return edge, nil
}

func (s *GraphDBStorage) OutgoingEdges(ctx context.Context, projectID int64, sourceNodeIDs []string) ([]common.Edge, error) {
	return s.queryEdges(ctx, outgoingEdgesSQL, projectID, sourceNodeIDs)
}

func (s *GraphDBStorage) TouchingEdges(ctx context.Context, projectID int64, nodeIDs []string) ([]common.Edge, error) {
	return s.queryEdges(ctx, touchingEdgesSQL, projectID, nodeIDs)
}

func (s *GraphDBStorage) queryEdges(ctx context.Context, sql string, projectID int64, nodeIDs []string) ([]common.Edge, error) {
	if len(nodeIDs) == 0 {
		return []common.Edge{}, nil
	}
	rows, err := s.conn.Query(ctx, sql, projectID, nodeIDs)
	if err != nil {
		return nil, err
	}
	return scanEdges(rows)
}

func (s *GraphDBStorage) EdgesCreatedAfter(ctx context.Context, projectID int64, watermark time.Time) ([]common.Edge, error) {
	rows, err := s.conn.Query(ctx, edgesCreatedAfterSQL, projectID, watermark)
	if err != nil {
		return nil, err
	}
	return scanEdges(rows)
}

func (s *GraphDBStorage) AllEdges(ctx context.Context, projectID int64) ([]common.Edge, error) {
	rows, err := s.conn.Query(ctx, allEdgesSQL, projectID)
	if err != nil {
		return nil, err
	}
	return scanEdges(rows)
}

func scanEdge(row pgxv5.Row) (*common.Edge, error) {
	var edge common.Edge
	err := row.Scan(
		&edge.ID,
		&edge.ProjectID,
		&edge.SourceNodeID,
		&edge.TargetNodeID,
		&edge.RelationshipType,
		&edge.Weight,
		&edge.Properties,
		&edge.EvidenceSnippets,
		&edge.SourceDocumentIDs,
		&edge.AiDiscovered,
		&edge.Confidence,
		&edge.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &edge, nil
}

func scanEdges(rows pgxv5.Rows) ([]common.Edge, error) {
	defer rows.Close()

	edges := make([]common.Edge, 0)
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, *edge)
	}
	return edges, rows.Err()
}
