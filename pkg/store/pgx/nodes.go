package pgx

import (
	"context"
	"errors"

	"github.com/latticehq/lattice/backend/pkg/common"
	"github.com/latticehq/lattice/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const nodeColumns = `id, project_id, entity_type, name, normalized_name, description,
	properties, mention_count, confidence, source_document_ids, created_at, updated_at`

// The merge arithmetic lives in the conflict clause so concurrent upserts
// on the same key serialize on the row instead of losing increments.
const upsertNodeSQL = `
INSERT INTO graph_nodes (
	id, project_id, entity_type, name, normalized_name, description,
	properties, mention_count, confidence, source_document_ids, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, 1, LEAST(GREATEST($8::float8, 0), 1), $9, now(), now()
)
ON CONFLICT (project_id, entity_type, normalized_name) DO UPDATE SET
	mention_count = graph_nodes.mention_count + 1,
	confidence = LEAST(1, graph_nodes.confidence
		+ (1 - graph_nodes.confidence) * EXCLUDED.confidence * 0.25),
	description = CASE WHEN graph_nodes.description = ''
		THEN EXCLUDED.description ELSE graph_nodes.description END,
	properties = EXCLUDED.properties,
	source_document_ids = CASE
		WHEN $10 = '' OR $10 = ANY(graph_nodes.source_document_ids)
		THEN graph_nodes.source_document_ids
		ELSE array_append(graph_nodes.source_document_ids, $10::text)
	END,
	updated_at = now()
RETURNING ` + nodeColumns

const getNodeSQL = `
SELECT ` + nodeColumns + `
FROM graph_nodes
WHERE project_id = $1 AND id = $2`

const getNodesSQL = `
SELECT ` + nodeColumns + `
FROM graph_nodes
WHERE project_id = $1 AND id = ANY($2)`

const listNodesSQL = `
SELECT ` + nodeColumns + `
FROM graph_nodes
WHERE project_id = $1
ORDER BY mention_count DESC, id
LIMIT $2 OFFSET $3`

const countNodesSQL = `
SELECT count(*) FROM graph_nodes WHERE project_id = $1`

const selectNodePropertiesSQL = `
SELECT properties FROM graph_nodes
WHERE project_id = $1 AND entity_type = $2 AND normalized_name = $3
FOR UPDATE`

// UpsertNode merges one piece of node evidence. See upsertNodeTx for the
// semantics; this variant opens its own transaction for the property
// read-merge-write.
func (s *GraphDBStorage) UpsertNode(ctx context.Context, projectID int64, ev store.NodeEvidence) (*common.Node, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	node, err := upsertNodeTx(ctx, tx, projectID, ev)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return node, nil
}

func upsertNodeTx(ctx context.Context, q pgxIConn, projectID int64, ev store.NodeEvidence) (*common.Node, error) {
	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}

	docs := []string{}
	if ev.SourceDocumentID != "" {
		docs = append(docs, ev.SourceDocumentID)
	}

	normalized := common.NormalizeName(ev.Name)
	props, err := mergedNodeProperties(ctx, q, projectID, ev.EntityType, normalized, ev.Properties)
	if err != nil {
		return nil, err
	}

	row := q.QueryRow(ctx, upsertNodeSQL,
		id,
		projectID,
		ev.EntityType,
		ev.Name,
		normalized,
		ev.Description,
		props,
		ev.Confidence,
		docs,
		ev.SourceDocumentID,
	)
	return scanNode(row)
}

// mergedNodeProperties folds the evidence bag into the stored one: aliases
// union case-insensitively, salience keeps its maximum, newer category and
// extra values win. The SELECT locks the row for the transaction so the
// merged bag written by the conflict clause cannot go stale mid-merge.
func mergedNodeProperties(ctx context.Context, q pgxIConn, projectID int64, entityType, normalizedName string, in common.Properties) (common.Properties, error) {
	var existing common.Properties
	err := q.QueryRow(ctx, selectNodePropertiesSQL, projectID, entityType, normalizedName).Scan(&existing)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return in, nil
		}
		return common.Properties{}, err
	}
	existing.Merge(in)
	return existing, nil
}

func (s *GraphDBStorage) GetNode(ctx context.Context, projectID int64, nodeID string) (*common.Node, error) {
	node, err := scanNode(s.conn.QueryRow(ctx, getNodeSQL, projectID, nodeID))
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return node, nil
}

func (s *GraphDBStorage) GetNodes(ctx context.Context, projectID int64, nodeIDs []string) ([]common.Node, error) {
	if len(nodeIDs) == 0 {
		return []common.Node{}, nil
	}
	rows, err := s.conn.Query(ctx, getNodesSQL, projectID, nodeIDs)
	if err != nil {
		return nil, err
	}
	return scanNodes(rows)
}

func (s *GraphDBStorage) ListNodes(ctx context.Context, projectID int64, page, pageSize int) ([]common.Node, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}

	var total int
	if err := s.conn.QueryRow(ctx, countNodesSQL, projectID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.conn.Query(ctx, listNodesSQL, projectID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}
	nodes, err := scanNodes(rows)
	if err != nil {
		return nil, 0, err
	}
	return nodes, total, nil
}

func scanNode(row pgxv5.Row) (*common.Node, error) {
	var node common.Node
	err := row.Scan(
		&node.ID,
		&node.ProjectID,
		&node.EntityType,
		&node.Name,
		&node.NormalizedName,
		&node.Description,
		&node.Properties,
		&node.MentionCount,
		&node.Confidence,
		&node.SourceDocumentIDs,
		&node.CreatedAt,
		&node.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func scanNodes(rows pgxv5.Rows) ([]common.Node, error) {
	defer rows.Close()

	nodes := make([]common.Node, 0)
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *node)
	}
	return nodes, rows.Err()
}
