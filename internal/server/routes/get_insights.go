package routes

import (
	"net/http"

	"github.com/latticehq/lattice/backend/internal/server/middleware"
	"github.com/latticehq/lattice/backend/pkg/common"
	"github.com/latticehq/lattice/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// GetInsightsHandler lists a project's active (non-dismissed) insights,
// newest first.
func GetInsightsHandler(c echo.Context) error {
	type insightsParams struct {
		ProjectID int64 `param:"id" validate:"required,numeric"`
		Page      int   `query:"page"`
		PageSize  int   `query:"page_size"`
	}

	type insightsResponse struct {
		Message  string           `json:"message"`
		Insights []common.Insight `json:"insights,omitempty"`
		Total    int              `json:"total"`
		Page     int              `json:"page"`
		PageSize int              `json:"page_size"`
	}

	params := new(insightsParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, insightsResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, insightsResponse{
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

	insights, total, err := st.ActiveInsights(ctx, params.ProjectID, params.Page, params.PageSize)
	if err != nil {
		logger.Error("[Insight] listing failed", "project_id", params.ProjectID, "err", err)
		return c.JSON(http.StatusInternalServerError, insightsResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, insightsResponse{
		Message:  "OK",
		Insights: insights,
		Total:    total,
		Page:     params.Page,
		PageSize: params.PageSize,
	})
}
