package pgx

import (
	"context"

	"github.com/latticehq/lattice/backend/pkg/common"

	"github.com/pgvector/pgvector-go"
)

const exactSeedsSQL = `
SELECT ` + nodeColumns + `
FROM graph_nodes
WHERE project_id = $1 AND normalized_name = $2
ORDER BY mention_count DESC, id
LIMIT $3`

const similarSeedsSQL = `
SELECT ` + nodeColumns + `
FROM graph_nodes
WHERE project_id = $1 AND embedding IS NOT NULL AND NOT (id = ANY($3))
	AND embedding <=> $2 < $5
ORDER BY embedding <=> $2
LIMIT $4`

// maxSeedDistance caps the cosine distance for similarity seeds. Without a
// cutoff every query would resolve seeds once nodes carry embeddings, and
// the no-graph-context terminal state could never occur.
const maxSeedDistance = 0.5

func toVector(vec []float32) pgvector.Vector {
	return pgvector.NewVector(vec)
}

// ResolveSeeds maps a free-text query to seed nodes: exact normalized-name
// matches first, then embedding similarity to fill the remaining slots.
func (s *GraphDBStorage) ResolveSeeds(ctx context.Context, projectID int64, query string, embedding []float32, limit int) ([]common.Node, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.conn.Query(ctx, exactSeedsSQL, projectID, common.NormalizeName(query), limit)
	if err != nil {
		return nil, err
	}
	seeds, err := scanNodes(rows)
	if err != nil {
		return nil, err
	}
	if len(seeds) >= limit || len(embedding) == 0 {
		return seeds, nil
	}

	taken := make([]string, 0, len(seeds))
	for _, seed := range seeds {
		taken = append(taken, seed.ID)
	}
	rows, err = s.conn.Query(ctx, similarSeedsSQL, projectID, toVector(embedding), taken, limit-len(seeds), maxSeedDistance)
	if err != nil {
		return nil, err
	}
	similar, err := scanNodes(rows)
	if err != nil {
		return nil, err
	}
	return append(seeds, similar...), nil
}
