package routes

import (
	"github.com/latticehq/lattice/backend/internal/server/middleware"
	"github.com/latticehq/lattice/backend/pkg/store"
	graphstorage "github.com/latticehq/lattice/backend/pkg/store/pgx"

	"github.com/labstack/echo/v4"
)

// graphStore builds the request-scoped store view over the shared pool.
func graphStore(c echo.Context) store.GraphStore {
	app := c.(*middleware.AppContext).App
	return graphstorage.NewGraphDBStorage(app.DBConn, graphstorage.WithAIClient(app.AiClient))
}
