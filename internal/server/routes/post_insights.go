package routes

import (
	"errors"
	"net/http"

	"github.com/latticehq/lattice/backend/internal/server/middleware"
	"github.com/latticehq/lattice/backend/pkg/logger"
	"github.com/latticehq/lattice/backend/pkg/store"

	"github.com/labstack/echo/v4"
)

type insightActionRequest struct {
	InsightID string `param:"id" validate:"required"`
	ProjectID int64  `json:"project_id" validate:"required,numeric"`
}

type insightActionResponse struct {
	Message string `json:"message"`
}

// DismissInsightHandler marks an insight dismissed. A dismissed insight
// frees its signature, so the finding can resurface if the pattern recurs.
func DismissInsightHandler(c echo.Context) error {
	return runInsightAction(c, "dismiss")
}

// ConfirmInsightHandler marks an insight as confirmed by a reviewer.
func ConfirmInsightHandler(c echo.Context) error {
	return runInsightAction(c, "confirm")
}

func runInsightAction(c echo.Context, action string) error {
	data := new(insightActionRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, insightActionResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, insightActionResponse{
			Message: "Invalid request body",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	st := graphStore(c)

	var err error
	switch action {
	case "dismiss":
		err = st.DismissInsight(ctx, data.ProjectID, data.InsightID)
	case "confirm":
		err = st.ConfirmInsight(ctx, data.ProjectID, data.InsightID)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, insightActionResponse{
				Message: "Insight not found",
			})
		}
		logger.Error("[Insight] action failed", "action", action, "insight_id", data.InsightID, "project_id", data.ProjectID, "err", err)
		return c.JSON(http.StatusInternalServerError, insightActionResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, insightActionResponse{
		Message: "OK",
	})
}
