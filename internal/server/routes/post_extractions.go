package routes

import (
	"encoding/json"
	"net/http"

	"github.com/latticehq/lattice/backend/internal/queue"
	"github.com/latticehq/lattice/backend/internal/server/middleware"
	"github.com/latticehq/lattice/backend/internal/storage"
	"github.com/latticehq/lattice/backend/pkg/common"
	"github.com/latticehq/lattice/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// CreateExtractionHandler registers an extraction job for one document and
// enqueues it for a worker. Callers either reference an existing S3 object
// via file_key or inline the document text, which is uploaded first.
func CreateExtractionHandler(c echo.Context) error {
	type createExtractionRequest struct {
		ProjectID    int64  `param:"id" validate:"required,numeric"`
		DocumentID   string `json:"document_id" validate:"required"`
		DocumentName string `json:"document_name" validate:"required"`
		FileKey      string `json:"file_key"`
		Text         string `json:"text"`
	}

	type createExtractionResponse struct {
		Message string                `json:"message"`
		Job     *common.ExtractionJob `json:"job,omitempty"`
	}

	data := new(createExtractionRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, createExtractionResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, createExtractionResponse{
			Message: "Invalid request body",
		})
	}
	if data.FileKey == "" && data.Text == "" {
		return c.JSON(http.StatusBadRequest, createExtractionResponse{
			Message: "Either file_key or text is required",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	fileKey := data.FileKey
	if fileKey == "" {
		fileKey = storage.DocumentKey(data.ProjectID, data.DocumentID)
		if err := storage.PutDocumentText(ctx, app.S3, fileKey, data.Text); err != nil {
			logger.Error("[Extraction] document upload failed", "project_id", data.ProjectID, "document_id", data.DocumentID, "err", err)
			return c.JSON(http.StatusInternalServerError, createExtractionResponse{
				Message: "Internal server error",
			})
		}
	}

	st := graphStore(c)
	job := &common.ExtractionJob{
		ProjectID:  data.ProjectID,
		DocumentID: data.DocumentID,
		UserID:     user.UserID,
	}
	if err := st.CreateExtractionJob(ctx, job); err != nil {
		logger.Error("[Extraction] job creation failed", "project_id", data.ProjectID, "document_id", data.DocumentID, "err", err)
		return c.JSON(http.StatusInternalServerError, createExtractionResponse{
			Message: "Internal server error",
		})
	}

	msg, err := json.Marshal(queue.ExtractJobMsg{
		JobID:        job.ID,
		ProjectID:    data.ProjectID,
		DocumentID:   data.DocumentID,
		DocumentName: data.DocumentName,
		FileKey:      fileKey,
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, createExtractionResponse{
			Message: "Internal server error",
		})
	}
	if err := queue.PublishFIFO(app.Queue, queue.ExtractQueue, msg); err != nil {
		logger.Error("[Extraction] failed to publish job", "job_id", job.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, createExtractionResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusAccepted, createExtractionResponse{
		Message: "Extraction job queued",
		Job:     job,
	})
}
