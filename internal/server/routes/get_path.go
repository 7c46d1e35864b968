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

// GetPathHandler finds the shortest directed path between two nodes.
// An unreachable target is a normal response with found=false.
func GetPathHandler(c echo.Context) error {
	type pathParams struct {
		ProjectID int64  `param:"id" validate:"required,numeric"`
		Start     string `query:"start" validate:"required"`
		End       string `query:"end" validate:"required"`
		MaxDepth  int    `query:"max_depth"`
	}

	type pathResponse struct {
		Message string               `json:"message"`
		Path    *traverse.PathResult `json:"path,omitempty"`
	}

	params := new(pathParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, pathResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, pathResponse{
			Message: "Invalid request body",
		})
	}
	if params.MaxDepth <= 0 {
		params.MaxDepth = 4
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	engine := traverse.NewEngine(graphStore(c))

	result, err := engine.ShortestPath(ctx, params.ProjectID, params.Start, params.End, params.MaxDepth)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, pathResponse{
				Message: "Node not found",
			})
		}
		logger.Error("[Graph] path search failed", "project_id", params.ProjectID, "start", params.Start, "end", params.End, "err", err)
		return c.JSON(http.StatusInternalServerError, pathResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, pathResponse{
		Message: "OK",
		Path:    result,
	})
}
