package pgx

import (
	"context"
	"time"

	"github.com/latticehq/lattice/backend/pkg/common"
	"github.com/latticehq/lattice/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const insightColumns = `id, project_id, user_id, insight_type, title, description,
	node_ids, edge_ids, document_ids, confidence, dismissed, confirmed, created_at`

const activeSignaturesSQL = `
SELECT insight_type, node_ids
FROM graph_insights
WHERE project_id = $1 AND NOT dismissed`

const insertInsightSQL = `
INSERT INTO graph_insights (
	id, project_id, user_id, insight_type, title, description,
	node_ids, edge_ids, document_ids, confidence, dismissed, confirmed, created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, LEAST(GREATEST($10::float8, 0), 1),
	false, false, now()
)
RETURNING ` + insightColumns

const upsertWatermarkSQL = `
INSERT INTO insight_scans (project_id, watermark)
VALUES ($1, $2)
ON CONFLICT (project_id) DO UPDATE SET
	watermark = GREATEST(insight_scans.watermark, EXCLUDED.watermark)`

const watermarkSQL = `
SELECT watermark FROM insight_scans WHERE project_id = $1`

const activeInsightsSQL = `
SELECT ` + insightColumns + `
FROM graph_insights
WHERE project_id = $1 AND NOT dismissed
ORDER BY created_at DESC, id
LIMIT $2 OFFSET $3`

const countActiveInsightsSQL = `
SELECT count(*) FROM graph_insights WHERE project_id = $1 AND NOT dismissed`

const dismissInsightSQL = `
UPDATE graph_insights SET dismissed = true WHERE project_id = $1 AND id = $2`

const confirmInsightSQL = `
UPDATE graph_insights SET confirmed = true WHERE project_id = $1 AND id = $2`

// CreateInsights persists insights that do not collide with an existing
// non-dismissed signature and advances the scan watermark, all in one
// transaction. It returns only the insights actually created.
func (s *GraphDBStorage) CreateInsights(ctx context.Context, projectID int64, insights []common.Insight, watermark time.Time) ([]common.Insight, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	existing := make(map[string]struct{})
	rows, err := tx.Query(ctx, activeSignaturesSQL, projectID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var ins common.Insight
		if err := rows.Scan(&ins.InsightType, &ins.NodeIDs); err != nil {
			rows.Close()
			return nil, err
		}
		existing[store.InsightSignature(ins)] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	created := make([]common.Insight, 0, len(insights))
	for _, ins := range insights {
		sig := store.InsightSignature(ins)
		if _, ok := existing[sig]; ok {
			continue
		}
		existing[sig] = struct{}{}

		id, err := gonanoid.New()
		if err != nil {
			return nil, err
		}
		row := tx.QueryRow(ctx, insertInsightSQL,
			id,
			projectID,
			ins.UserID,
			ins.InsightType,
			ins.Title,
			ins.Description,
			stringArray(ins.NodeIDs),
			stringArray(ins.EdgeIDs),
			stringArray(ins.DocumentIDs),
			ins.Confidence,
		)
		stored, err := scanInsight(row)
		if err != nil {
			return nil, err
		}
		created = append(created, *stored)
	}

	if _, err := tx.Exec(ctx, upsertWatermarkSQL, projectID, watermark); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

// InsightWatermark returns the creation time of the newest edge the last
// scan considered; the zero time when the project was never scanned.
func (s *GraphDBStorage) InsightWatermark(ctx context.Context, projectID int64) (time.Time, error) {
	var watermark time.Time
	err := s.conn.QueryRow(ctx, watermarkSQL, projectID).Scan(&watermark)
	if err != nil {
		if err == pgxv5.ErrNoRows {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return watermark, nil
}

func (s *GraphDBStorage) ActiveInsights(ctx context.Context, projectID int64, page, pageSize int) ([]common.Insight, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	var total int
	if err := s.conn.QueryRow(ctx, countActiveInsightsSQL, projectID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.conn.Query(ctx, activeInsightsSQL, projectID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}
	insights, err := scanInsights(rows)
	if err != nil {
		return nil, 0, err
	}
	return insights, total, nil
}

func (s *GraphDBStorage) DismissInsight(ctx context.Context, projectID int64, insightID string) error {
	return s.flagInsight(ctx, dismissInsightSQL, projectID, insightID)
}

func (s *GraphDBStorage) ConfirmInsight(ctx context.Context, projectID int64, insightID string) error {
	return s.flagInsight(ctx, confirmInsightSQL, projectID, insightID)
}

func (s *GraphDBStorage) flagInsight(ctx context.Context, sql string, projectID int64, insightID string) error {
	tag, err := s.conn.Exec(ctx, sql, projectID, insightID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func stringArray(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func scanInsight(row pgxv5.Row) (*common.Insight, error) {
	var ins common.Insight
	err := row.Scan(
		&ins.ID,
		&ins.ProjectID,
		&ins.UserID,
		&ins.InsightType,
		&ins.Title,
		&ins.Description,
		&ins.NodeIDs,
		&ins.EdgeIDs,
		&ins.DocumentIDs,
		&ins.Confidence,
		&ins.Dismissed,
		&ins.Confirmed,
		&ins.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ins, nil
}

func scanInsights(rows pgxv5.Rows) ([]common.Insight, error) {
	defer rows.Close()

	insights := make([]common.Insight, 0)
	for rows.Next() {
		ins, err := scanInsight(rows)
		if err != nil {
			return nil, err
		}
		insights = append(insights, *ins)
	}
	return insights, rows.Err()
}
