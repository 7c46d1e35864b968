package routes

import (
	"errors"
	"net/http"

	"github.com/latticehq/lattice/backend/internal/server/middleware"
	"github.com/latticehq/lattice/backend/pkg/common"
	"github.com/latticehq/lattice/backend/pkg/logger"
	"github.com/latticehq/lattice/backend/pkg/store"

	"github.com/labstack/echo/v4"
)

// ListExtractionJobsHandler pages through a project's extraction job log,
// newest first.
func ListExtractionJobsHandler(c echo.Context) error {
	type jobsParams struct {
		ProjectID int64 `param:"id" validate:"required,numeric"`
		Page      int   `query:"page"`
		PageSize  int   `query:"page_size"`
	}

	type jobsResponse struct {
		Message  string                 `json:"message"`
		Jobs     []common.ExtractionJob `json:"jobs,omitempty"`
		Total    int                    `json:"total"`
		Page     int                    `json:"page"`
		PageSize int                    `json:"page_size"`
	}

	params := new(jobsParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, jobsResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, jobsResponse{
			Message: "Invalid request body",
		})
	}
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize <= 0 {
		params.PageSize = 20
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	st := graphStore(c)

	jobs, total, err := st.ListExtractionJobs(ctx, params.ProjectID, params.Page, params.PageSize)
	if err != nil {
		logger.Error("[Extraction] job listing failed", "project_id", params.ProjectID, "err", err)
		return c.JSON(http.StatusInternalServerError, jobsResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, jobsResponse{
		Message:  "OK",
		Jobs:     jobs,
		Total:    total,
		Page:     params.Page,
		PageSize: params.PageSize,
	})
}

// GetExtractionJobHandler reports the lifecycle state of one extraction job.
func GetExtractionJobHandler(c echo.Context) error {
	type jobParams struct {
		JobID string `param:"job_id" validate:"required"`
	}

	type jobResponse struct {
		Message string                `json:"message"`
		Job     *common.ExtractionJob `json:"job,omitempty"`
	}

	params := new(jobParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, jobResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, jobResponse{
			Message: "Invalid request body",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	st := graphStore(c)

	job, err := st.GetExtractionJob(ctx, params.JobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, jobResponse{
				Message: "Job not found",
			})
		}
		logger.Error("[Extraction] job lookup failed", "job_id", params.JobID, "err", err)
		return c.JSON(http.StatusInternalServerError, jobResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, jobResponse{
		Message: "OK",
		Job:     job,
	})
}
