package routes

import (
	"net/http"

	"github.com/latticehq/lattice/backend/internal/server/middleware"
	"github.com/latticehq/lattice/backend/pkg/common"
	"github.com/latticehq/lattice/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// GetNodesHandler pages through a project's nodes, most mentioned first.
func GetNodesHandler(c echo.Context) error {
	type nodesParams struct {
		ProjectID int64 `param:"id" validate:"required,numeric"`
		Page      int   `query:"page"`
		PageSize  int   `query:"page_size"`
	}

	type nodesResponse struct {
		Message  string        `json:"message"`
		Nodes    []common.Node `json:"nodes,omitempty"`
		Total    int           `json:"total"`
		Page     int           `json:"page"`
		PageSize int           `json:"page_size"`
	}

	params := new(nodesParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, nodesResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, nodesResponse{
			Message: "Invalid request body",
		})
	}
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize <= 0 {
		params.PageSize = 50
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	st := graphStore(c)

	nodes, total, err := st.ListNodes(ctx, params.ProjectID, params.Page, params.PageSize)
	if err != nil {
		logger.Error("[Graph] node listing failed", "project_id", params.ProjectID, "err", err)
		return c.JSON(http.StatusInternalServerError, nodesResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, nodesResponse{
		Message:  "OK",
		Nodes:    nodes,
		Total:    total,
		Page:     params.Page,
		PageSize: params.PageSize,
	})
}
