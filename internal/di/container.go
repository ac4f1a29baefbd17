// Package di provides dependency injection wiring and initialization.
package di

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/clients/alphavantage"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/config"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/database"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/domain"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/batch"
	batchhandlers "github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/batch/handlers"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/portfolio"
	portfoliohandlers "github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/portfolio/handlers"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/prices"
	priceshandlers "github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/prices/handlers"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/results"
	resultshandlers "github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/results/handlers"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/simulation"
	simulationhandlers "github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/simulation/handlers"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/reliability"
)

// Container holds every wired dependency. Fields are populated by Wire in
// dependency order; optional services stay nil when their credentials are
// absent (AVClient, SyncService, Archive).
type Container struct {
	Config *config.Config
	Log    zerolog.Logger

	// Databases
	PricesDB  *database.DB
	ResultsDB *database.DB

	// Clients
	AVClient *alphavantage.Client

	// Repositories
	PricesRepo  *prices.Repository
	BetaRepo    *prices.BetaRepository
	ResultsRepo *results.Repository

	// Services
	PriceProvider *prices.Provider
	SyncService   *prices.SyncService
	Engine        *simulation.Engine
	Coordinator   *portfolio.Coordinator
	Runner        *batch.Runner
	Maintenance   *reliability.Maintenance
	Archive       *reliability.ArchiveService

	// Defaults is the deployment-wide parameter layer between the hardcoded
	// defaults and each request body.
	Defaults *domain.ParamsOverride

	// HTTP handlers
	SimulationHandler *simulationhandlers.Handler
	PortfolioHandler  *portfoliohandlers.Handler
	BatchHandler      *batchhandlers.Handler
	PricesHandler     *priceshandlers.Handler
	ResultsHandler    *resultshandlers.Handler
}

// Close releases everything the container owns. Running batch sweeps are
// cancelled before the databases close underneath them.
func (c *Container) Close() error {
	if c.BatchHandler != nil {
		c.BatchHandler.Shutdown()
	}
	return c.closeDatabases()
}

func (c *Container) closeDatabases() error {
	var errs []error
	if c.PricesDB != nil {
		if err := c.PricesDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.ResultsDB != nil {
		if err := c.ResultsDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
