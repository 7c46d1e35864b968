package pgx

import (
	"context"
	"fmt"

	"github.com/latticehq/lattice/backend/pkg/common"
	"github.com/latticehq/lattice/backend/pkg/logger"
	"github.com/latticehq/lattice/backend/pkg/store"
)

const updateNodeEmbeddingSQL = `
UPDATE graph_nodes SET embedding = $3 WHERE project_id = $1 AND id = $2`

// MergeBatch commits all nodes and edges of one extraction batch in a
// single transaction; a failed batch leaves the graph untouched. Edge refs
// resolve against the nodes merged earlier in the same batch.
func (s *GraphDBStorage) MergeBatch(ctx context.Context, projectID int64, batch store.Batch) (*store.BatchResult, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	result := &store.BatchResult{}
	nodeIDsByRef := make(map[string]string, len(batch.Nodes))
	merged := make([]common.Node, 0, len(batch.Nodes))

	for _, bn := range batch.Nodes {
		node, err := upsertNodeTx(ctx, tx, projectID, store.NodeEvidence{
			EntityType:       bn.EntityType,
			Name:             bn.Name,
			Description:      bn.Description,
			Properties:       bn.Properties,
			Confidence:       bn.Confidence,
			SourceDocumentID: batch.DocumentID,
			Snippet:          bn.Snippet,
		})
		if err != nil {
			return nil, err
		}
		nodeIDsByRef[bn.Ref] = node.ID
		merged = append(merged, *node)
		result.NodesMerged++
	}

	for _, be := range batch.Edges {
		srcID, ok1 := nodeIDsByRef[be.SourceRef]
		tgtID, ok2 := nodeIDsByRef[be.TargetRef]
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("unresolved edge ref %q -> %q: %w", be.SourceRef, be.TargetRef, store.ErrInvalidEdgeEndpoint)
		}
		_, err := upsertEdgeTx(ctx, tx, projectID, srcID, tgtID, store.EdgeEvidence{
			RelationshipType: be.RelationshipType,
			Confidence:       be.Confidence,
			Weight:           be.Weight,
			SourceDocumentID: batch.DocumentID,
			Snippet:          be.Snippet,
		})
		if err != nil {
			return nil, err
		}
		result.EdgesMerged++
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	// Embeddings are a retrieval aid, not graph state; refreshing them
	// after commit keeps collaborator latency and failures out of the
	// merge transaction.
	s.refreshEmbeddings(ctx, projectID, merged)

	return result, nil
}

func (s *GraphDBStorage) refreshEmbeddings(ctx context.Context, projectID int64, nodes []common.Node) {
	if s.aiClient == nil {
		return
	}
	for _, node := range nodes {
		input := node.Name
		if node.Description != "" {
			input += ": " + node.Description
		}
		vec, err := s.aiClient.GenerateEmbedding(ctx, []byte(input))
		if err != nil {
			logger.Warn("node embedding refresh failed", "node_id", node.ID, "err", err)
			continue
		}
		if _, err := s.conn.Exec(ctx, updateNodeEmbeddingSQL, projectID, node.ID, toVector(vec)); err != nil {
			logger.Warn("node embedding update failed", "node_id", node.ID, "err", err)
		}
	}
}
