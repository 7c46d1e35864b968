package queue

import (
	"context"
	"encoding/json"

	"github.com/latticehq/lattice/backend/pkg/ai"
	"github.com/latticehq/lattice/backend/pkg/insight"
	"github.com/latticehq/lattice/backend/pkg/logger"
	graphstorage "github.com/latticehq/lattice/backend/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ProcessInsightMessage scans one project's evidence merged since the last
// scan. Errors bubble up so the queue retries the scan.
func ProcessInsightMessage(
	ctx context.Context,
	aiClient ai.GraphAIClient,
	conn *pgxpool.Pool,
	msg string,
) error {
	data := new(InsightScanMsg)
	if err := json.Unmarshal([]byte(msg), data); err != nil {
		return err
	}

	store := graphstorage.NewGraphDBStorage(conn, graphstorage.WithAIClient(aiClient))
	discoverer := insight.NewDiscoverer(store, aiClient)

	created, err := discoverer.Discover(ctx, data.ProjectID)
	if err != nil {
		return err
	}

	logger.Info("[Queue] Insight scan finished", "project_id", data.ProjectID, "created", len(created))
	return nil
}
