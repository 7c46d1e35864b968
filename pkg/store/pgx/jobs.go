package pgx

import (
	"context"

	"github.com/latticehq/lattice/backend/pkg/common"
	"github.com/latticehq/lattice/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const jobColumns = `id, project_id, document_id, user_id, status,
	entities_extracted, relationships_created, started_at, completed_at,
	error_message, created_at`

const insertJobSQL = `
INSERT INTO extraction_jobs (
	id, project_id, document_id, user_id, status,
	entities_extracted, relationships_created, error_message, created_at
) VALUES ($1, $2, $3, $4, $5, 0, 0, '', now())
RETURNING created_at`

const claimJobSQL = `
UPDATE extraction_jobs
SET status = $2, started_at = now()
WHERE id = $1 AND status = $3`

const completeJobSQL = `
UPDATE extraction_jobs
SET status = $2, entities_extracted = $3, relationships_created = $4, completed_at = now()
WHERE id = $1 AND status NOT IN ($5, $6)`

const failJobSQL = `
UPDATE extraction_jobs
SET status = $2, error_message = $3, completed_at = now()
WHERE id = $1 AND status NOT IN ($4, $5)`

const getJobSQL = `
SELECT ` + jobColumns + ` FROM extraction_jobs WHERE id = $1`

const listJobsSQL = `
SELECT ` + jobColumns + `
FROM extraction_jobs
WHERE project_id = $1
ORDER BY created_at DESC, id
LIMIT $2 OFFSET $3`

const countJobsSQL = `
SELECT count(*) FROM extraction_jobs WHERE project_id = $1`

// CreateExtractionJob registers a pending job. The store assigns the ID,
// status and creation time, mutating the passed job in place.
func (s *GraphDBStorage) CreateExtractionJob(ctx context.Context, job *common.ExtractionJob) error {
	id, err := gonanoid.New()
	if err != nil {
		return err
	}
	job.ID = id
	job.Status = common.JobPending

	return s.conn.QueryRow(ctx, insertJobSQL,
		job.ID,
		job.ProjectID,
		job.DocumentID,
		job.UserID,
		job.Status,
	).Scan(&job.CreatedAt)
}

// ClaimExtractionJob transitions a job from pending to processing. The
// conditional update makes the claim atomic: only one worker sees true.
func (s *GraphDBStorage) ClaimExtractionJob(ctx context.Context, jobID string) (bool, error) {
	tag, err := s.conn.Exec(ctx, claimJobSQL, jobID, common.JobProcessing, common.JobPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *GraphDBStorage) CompleteExtractionJob(ctx context.Context, jobID string, entities, relationships int) error {
	tag, err := s.conn.Exec(ctx, completeJobSQL,
		jobID, common.JobCompleted, entities, relationships,
		common.JobCompleted, common.JobFailed,
	)
	if err != nil {
		return err
	}
	return s.checkJobFinished(ctx, jobID, tag.RowsAffected())
}

func (s *GraphDBStorage) FailExtractionJob(ctx context.Context, jobID string, message string) error {
	tag, err := s.conn.Exec(ctx, failJobSQL,
		jobID, common.JobFailed, message,
		common.JobCompleted, common.JobFailed,
	)
	if err != nil {
		return err
	}
	return s.checkJobFinished(ctx, jobID, tag.RowsAffected())
}

// checkJobFinished resolves a zero-row finish update: finishing an already
// terminal job is a no-op, finishing an unknown job is ErrNotFound.
func (s *GraphDBStorage) checkJobFinished(ctx context.Context, jobID string, rowsAffected int64) error {
	if rowsAffected > 0 {
		return nil
	}
	_, err := s.GetExtractionJob(ctx, jobID)
	return err
}

func (s *GraphDBStorage) ListExtractionJobs(ctx context.Context, projectID int64, page, pageSize int) ([]common.ExtractionJob, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	var total int
	if err := s.conn.QueryRow(ctx, countJobsSQL, projectID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.conn.Query(ctx, listJobsSQL, projectID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	jobs := make([]common.ExtractionJob, 0)
	for rows.Next() {
		var job common.ExtractionJob
		if err := rows.Scan(
			&job.ID,
			&job.ProjectID,
			&job.DocumentID,
			&job.UserID,
			&job.Status,
			&job.EntitiesExtracted,
			&job.RelationshipsCreated,
			&job.StartedAt,
			&job.CompletedAt,
			&job.ErrorMessage,
			&job.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

func (s *GraphDBStorage) GetExtractionJob(ctx context.Context, jobID string) (*common.ExtractionJob, error) {
	var job common.ExtractionJob
	err := s.conn.QueryRow(ctx, getJobSQL, jobID).Scan(
		&job.ID,
		&job.ProjectID,
		&job.DocumentID,
		&job.UserID,
		&job.Status,
		&job.EntitiesExtracted,
		&job.RelationshipsCreated,
		&job.StartedAt,
		&job.CompletedAt,
		&job.ErrorMessage,
		&job.CreatedAt,
	)
	if err != nil {
		if err == pgxv5.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}
