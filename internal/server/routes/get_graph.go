package routes

import (
	"net/http"

	"github.com/latticehq/lattice/backend/internal/server/middleware"
	"github.com/latticehq/lattice/backend/pkg/logger"
	"github.com/latticehq/lattice/backend/pkg/store"

	"github.com/labstack/echo/v4"
)

// GetGraphSnapshotHandler returns the bounded snapshot used by graph
// dashboards: top nodes by mentions, top edges by weight, newest insights.
func GetGraphSnapshotHandler(c echo.Context) error {
	type graphParams struct {
		ProjectID int64 `param:"id" validate:"required,numeric"`
	}

	type graphResponse struct {
		Message string           `json:"message"`
		Graph   *store.GraphData `json:"graph,omitempty"`
	}

	params := new(graphParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, graphResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, graphResponse{
			Message: "Invalid request body",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	st := graphStore(c)

	graph, err := st.GetGraphData(ctx, params.ProjectID)
	if err != nil {
		logger.Error("[Graph] snapshot failed", "project_id", params.ProjectID, "err", err)
		return c.JSON(http.StatusInternalServerError, graphResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, graphResponse{
		Message: "OK",
		Graph:   graph,
	})
}
