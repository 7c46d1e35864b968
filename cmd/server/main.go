package main

import (
	"github.com/latticehq/lattice/backend/internal/server"
	"github.com/latticehq/lattice/backend/internal/util"
	"github.com/latticehq/lattice/backend/pkg/logger"
	"github.com/latticehq/lattice/backend/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	logger.Init(console.New(console.Params{
		Debug: debug,
	}))

	server.Init()
}
