package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/latticehq/lattice/backend/internal/storage"
	"github.com/latticehq/lattice/backend/internal/util"
	"github.com/latticehq/lattice/backend/pkg/ai"
	"github.com/latticehq/lattice/backend/pkg/leaselock"
	"github.com/latticehq/lattice/backend/pkg/logger"
	graphstorage "github.com/latticehq/lattice/backend/pkg/store/pgx"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rabbitmq/amqp091-go"
)

// ProcessExtractMessage runs one extraction job end to end: claim, fetch
// the document text, ask the collaborator for a graph proposal, merge the
// resulting batch under the project lease, then kick off an insight scan.
func ProcessExtractMessage(
	ctx context.Context,
	s3Client *awss3.Client,
	aiClient ai.GraphAIClient,
	ch *amqp091.Channel,
	conn *pgxpool.Pool,
	msg string,
) (err error) {
	data := new(ExtractJobMsg)
	if err = json.Unmarshal([]byte(msg), data); err != nil {
		return err
	}

	store := graphstorage.NewGraphDBStorage(conn, graphstorage.WithAIClient(aiClient))

	claimed, err := store.ClaimExtractionJob(ctx, data.JobID)
	if err != nil {
		return err
	}
	if !claimed {
		logger.Info("[Queue] Skipping extraction job: already claimed or finished", "job_id", data.JobID, "project_id", data.ProjectID)
		return nil
	}

	defer func() {
		if err == nil {
			return
		}
		failCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if failErr := store.FailExtractionJob(failCtx, data.JobID, err.Error()); failErr != nil {
			logger.Warn("[Queue] Failed to mark extraction job as failed", "job_id", data.JobID, "err", failErr)
		}
	}()

	fileKey := data.FileKey
	if fileKey == "" {
		fileKey = storage.DocumentKey(data.ProjectID, data.DocumentID)
	}
	text, err := storage.GetDocumentText(ctx, s3Client, fileKey)
	if err != nil {
		return err
	}

	start := time.Now()
	proposal, err := util.RetryWithContext(ctx, 2, func(ctx context.Context) (*ai.GraphProposal, error) {
		return ai.ProposeGraph(ctx, aiClient, data.DocumentName, ai.DefaultEntityTypes, text)
	})
	if err != nil {
		return err
	}
	batch := proposal.Batch(data.DocumentID)
	logger.Debug("[Queue] Extraction proposal ready",
		"job_id", data.JobID,
		"project_id", data.ProjectID,
		"entities", len(batch.Nodes),
		"relationships", len(batch.Edges),
	)

	lockClient := leaselock.New(conn)
	lease, err := lockClient.Acquire(ctx, leaselock.ProjectKey(data.ProjectID), leaselock.MergeOptions(data.ProjectID))
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := lease.Release(context.Background()); releaseErr != nil {
			logger.Warn("[Queue] Failed to release project lease", "project_id", data.ProjectID, "err", releaseErr)
		}
	}()

	result, err := store.MergeBatch(lease.Context, data.ProjectID, batch)
	if err != nil {
		return err
	}

	if err = store.CompleteExtractionJob(ctx, data.JobID, result.NodesMerged, result.EdgesMerged); err != nil {
		return err
	}

	logger.Info("[Queue] Extraction job completed",
		"job_id", data.JobID,
		"project_id", data.ProjectID,
		"document_id", data.DocumentID,
		"entities", result.NodesMerged,
		"relationships", result.EdgesMerged,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	scanMsg, err := json.Marshal(InsightScanMsg{ProjectID: data.ProjectID})
	if err != nil {
		return err
	}
	if err = PublishFIFO(ch, InsightQueue, scanMsg); err != nil {
		return err
	}

	return nil
}
