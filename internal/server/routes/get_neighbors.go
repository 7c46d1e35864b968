package routes

import (
	"errors"
	"net/http"

	"github.com/latticehq/lattice/backend/internal/server/middleware"
	"github.com/latticehq/lattice/backend/pkg/logger"
	"github.com/latticehq/lattice/backend/pkg/store"
	"github.com/latticehq/lattice/backend/pkg/traverse"

	"github.com/labstack/echo/v4"
)

// GetNeighborsHandler expands a node's neighborhood up to the requested
// depth. direction=undirected follows edges both ways.
func GetNeighborsHandler(c echo.Context) error {
	type neighborsParams struct {
		ProjectID int64  `param:"id" validate:"required,numeric"`
		NodeID    string `param:"node_id" validate:"required"`
		Depth     int    `query:"depth"`
		Direction string `query:"direction"`
	}

	type neighborsResponse struct {
		Message   string              `json:"message"`
		Neighbors []traverse.Neighbor `json:"neighbors,omitempty"`
		Truncated bool                `json:"truncated,omitempty"`
	}

	params := new(neighborsParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, neighborsResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, neighborsResponse{
			Message: "Invalid request body",
		})
	}
	if params.Depth <= 0 {
		params.Depth = 1
	}

	dir := traverse.Outgoing
	if params.Direction == "undirected" {
		dir = traverse.Undirected
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	engine := traverse.NewEngine(graphStore(c))

	result, err := engine.Neighbors(ctx, params.ProjectID, params.NodeID, params.Depth, dir)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, neighborsResponse{
				Message: "Node not found",
			})
		}
		if errors.Is(err, traverse.ErrInvalidDepth) {
			return c.JSON(http.StatusBadRequest, neighborsResponse{
				Message: "Invalid depth",
			})
		}
		logger.Error("[Graph] neighbor expansion failed", "project_id", params.ProjectID, "node_id", params.NodeID, "err", err)
		return c.JSON(http.StatusInternalServerError, neighborsResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, neighborsResponse{
		Message:   "OK",
		Neighbors: result.Neighbors,
		Truncated: result.Truncated,
	})
}
