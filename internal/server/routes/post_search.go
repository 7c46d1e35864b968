package routes

import (
	"net/http"

	"github.com/latticehq/lattice/backend/internal/server/middleware"
	"github.com/latticehq/lattice/backend/internal/storage"
	"github.com/latticehq/lattice/backend/pkg/logger"
	"github.com/latticehq/lattice/backend/pkg/search"
	"github.com/latticehq/lattice/backend/pkg/traverse"

	"github.com/labstack/echo/v4"
)

// SearchProjectHandler answers a natural-language question with graph
// context assembled from the project's knowledge graph.
func SearchProjectHandler(c echo.Context) error {
	type searchRequest struct {
		ProjectID int64  `param:"id" validate:"required,numeric"`
		Question  string `json:"question" validate:"required"`
		MaxDepth  int    `json:"max_depth"`
		// Graph grounding is opt-out; omitting the field keeps it on.
		UseGraphContext *bool `json:"use_graph_context"`
	}

	type sourceData struct {
		DocumentID string `json:"document_id"`
		Excerpt    string `json:"excerpt,omitempty"`
	}

	type searchResponse struct {
		Message        string         `json:"message"`
		Answer         string         `json:"answer,omitempty"`
		Sources        []sourceData   `json:"sources,omitempty"`
		Result         *search.Result `json:"result,omitempty"`
		NoGraphContext bool           `json:"no_graph_context,omitempty"`
	}

	data := new(searchRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, searchResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, searchResponse{
			Message: "Invalid request body",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App
	st := graphStore(c)
	engine := traverse.NewEngine(st)

	opts := []search.Option{}
	if data.MaxDepth > 0 {
		opts = append(opts, search.WithMaxDepth(data.MaxDepth))
	}
	if data.UseGraphContext != nil {
		opts = append(opts, search.WithGraphContext(*data.UseGraphContext))
	}
	svc := search.NewService(st, engine, app.AiClient, opts...)

	result, err := svc.Search(ctx, data.ProjectID, data.Question)
	if err != nil {
		logger.Error("[Search] query failed", "project_id", data.ProjectID, "err", err)
		return c.JSON(http.StatusInternalServerError, searchResponse{
			Message: "Internal server error",
		})
	}

	sources := make([]sourceData, 0, len(result.Sources))
	for _, docID := range result.Sources {
		sources = append(sources, sourceData{
			DocumentID: docID,
			Excerpt:    storage.DocumentExcerpt(ctx, app.S3, data.ProjectID, docID),
		})
	}

	return c.JSON(http.StatusOK, searchResponse{
		Message:        "OK",
		Answer:         result.Answer,
		Sources:        sources,
		Result:         result,
		NoGraphContext: result.NoGraphContext,
	})
}
