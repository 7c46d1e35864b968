package server

import (
	"github.com/latticehq/lattice/backend/internal/server/middleware"
	"github.com/latticehq/lattice/backend/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Graph read routes
	apiRoutes.POST("/projects/:id/search", routes.SearchProjectHandler, middleware.RequirePermission("graph.query"))
	apiRoutes.GET("/projects/:id/graph", routes.GetGraphSnapshotHandler, middleware.RequirePermission("graph.query"))
	apiRoutes.GET("/projects/:id/nodes", routes.GetNodesHandler, middleware.RequirePermission("graph.query"))
	apiRoutes.GET("/projects/:id/nodes/:node_id/neighbors", routes.GetNeighborsHandler, middleware.RequirePermission("graph.query"))
	apiRoutes.GET("/projects/:id/path", routes.GetPathHandler, middleware.RequirePermission("graph.query"))

	// Insight routes
	apiRoutes.GET("/projects/:id/insights", routes.GetInsightsHandler, middleware.RequirePermission("graph.query"))
	apiRoutes.POST("/insights/:id/dismiss", routes.DismissInsightHandler, middleware.RequirePermission("insight.manage"))
	apiRoutes.POST("/insights/:id/confirm", routes.ConfirmInsightHandler, middleware.RequirePermission("insight.manage"))

	// Extraction routes
	apiRoutes.POST("/projects/:id/extractions", routes.CreateExtractionHandler, middleware.RequirePermission("graph.ingest"))
	apiRoutes.GET("/projects/:id/extractions", routes.ListExtractionJobsHandler, middleware.RequireAnyPermission("graph.ingest", "graph.query"))
	apiRoutes.GET("/extractions/:job_id", routes.GetExtractionJobHandler, middleware.RequireAnyPermission("graph.ingest", "graph.query"))
}
