package di

import (
	"fmt"
	"path/filepath"
	"time"

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

// Wire initializes all dependencies and returns a fully configured container.
// Order of operations:
//  1. Open databases and apply schemas
//  2. Initialize repositories
//  3. Initialize clients and services (credential-gated ones may stay nil)
//  4. Initialize HTTP handlers
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	c := &Container{Config: cfg, Log: log}

	// Step 1: databases
	if err := c.initDatabases(); err != nil {
		return nil, fmt.Errorf("failed to initialize databases: %w", err)
	}

	// Step 2: repositories
	c.initRepositories()

	// Step 3: clients and services
	if err := c.initServices(); err != nil {
		_ = c.closeDatabases()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Step 4: HTTP handlers
	c.initHandlers()

	log.Info().Msg("Dependency injection wiring completed successfully")
	return c, nil
}

func (c *Container) initDatabases() error {
	pricesDB, err := database.New(database.Config{
		Path:    filepath.Join(c.Config.DataDir, "prices.db"),
		Profile: database.ProfileStandard,
		Name:    "prices",
	})
	if err != nil {
		return fmt.Errorf("failed to open prices database: %w", err)
	}
	if err := pricesDB.Migrate(); err != nil {
		_ = pricesDB.Close()
		return fmt.Errorf("failed to migrate prices database: %w", err)
	}
	c.PricesDB = pricesDB

	// The run ledger is an audit trail; it gets the paranoid profile.
	resultsDB, err := database.New(database.Config{
		Path:    filepath.Join(c.Config.DataDir, "results.db"),
		Profile: database.ProfileLedger,
		Name:    "results",
	})
	if err != nil {
		_ = pricesDB.Close()
		return fmt.Errorf("failed to open results database: %w", err)
	}
	if err := resultsDB.Migrate(); err != nil {
		_ = pricesDB.Close()
		_ = resultsDB.Close()
		return fmt.Errorf("failed to migrate results database: %w", err)
	}
	c.ResultsDB = resultsDB

	return nil
}

func (c *Container) initRepositories() {
	c.PricesRepo = prices.NewRepository(c.PricesDB.Conn(), c.Log)
	c.BetaRepo = prices.NewBetaRepository(c.PricesDB.Conn(), c.Log)
	c.ResultsRepo = results.NewRepository(c.ResultsDB.Conn(), c.Log)
}

func (c *Container) initServices() error {
	c.PriceProvider = prices.NewProvider(c.PricesRepo, c.Log)

	// Market data client and sync are gated on the API key; without one the
	// server still serves whatever the local database already holds.
	if c.Config.AlphaVantage.APIKey != "" {
		client := alphavantage.NewClient(c.Config.AlphaVantage.APIKey, c.Log)
		client.SetDailyBudget(c.Config.AlphaVantage.DailyBudget)
		if days := c.Config.AlphaVantage.CacheTTLDays; days > 0 {
			ttl := time.Duration(days) * 24 * time.Hour
			client.SetCacheTTL(alphavantage.CacheTTL{DailySeries: ttl, Quote: ttl})
		}
		c.AVClient = client
		c.SyncService = prices.NewSyncService(c.PricesRepo, client, c.Log)
		c.SyncService.EnableSnapshots(filepath.Join(c.Config.DataDir, "cache"))
	} else {
		c.Log.Warn().Msg("No Alpha Vantage API key configured - price sync disabled")
	}

	c.Engine = simulation.NewEngine(c.Log)
	c.Coordinator = portfolio.NewCoordinator(c.Log)
	c.Runner = batch.NewRunner(c.Log)
	c.Maintenance = reliability.NewMaintenance(c.Log, c.PricesDB, c.ResultsDB)

	// Off-site archives are gated on object storage credentials.
	if c.Config.Archive.Configured() {
		archive, err := reliability.NewArchiveService(c.Config.Archive, c.Config.DataDir, c.Log)
		if err != nil {
			return fmt.Errorf("failed to initialize archive service: %w", err)
		}
		c.Archive = archive
	} else {
		c.Log.Info().Msg("Archive storage not configured - weekly archives disabled")
	}

	c.Defaults = DefaultsFromConfig(c.Config.Simulation)
	return nil
}

func (c *Container) initHandlers() {
	c.SimulationHandler = simulationhandlers.NewHandler(
		c.PriceProvider, c.Engine, c.ResultsRepo, c.Defaults, c.Log)
	c.PortfolioHandler = portfoliohandlers.NewHandler(
		c.PriceProvider, c.Coordinator, c.BetaRepo, c.ResultsRepo, c.Defaults, c.Log)
	c.BatchHandler = batchhandlers.NewHandler(
		c.Runner, c.PriceProvider, c.ResultsRepo, c.Defaults, c.Config.BatchWorkers, c.Log)
	c.PricesHandler = priceshandlers.NewHandler(c.PricesRepo, c.SyncService, c.Log)
	c.ResultsHandler = resultshandlers.NewHandler(c.ResultsRepo, c.Log)
}

// DefaultsFromConfig lifts the deployment-wide simulation defaults into a
// parameter override layer. Every field is always set; the config loader
// fills unset variables with the same values DefaultParams carries.
func DefaultsFromConfig(sim *config.SimulationConfig) *domain.ParamsOverride {
	orderType := domain.OrderType(sim.OrderType)
	return &domain.ParamsOverride{
		LotSizeUSD:                    &sim.LotSizeUSD,
		GridIntervalPercent:           &sim.GridIntervalPercent,
		ProfitRequirement:             &sim.ProfitRequirement,
		TrailingBuyActivationPercent:  &sim.TrailingBuyActivationPercent,
		TrailingBuyReboundPercent:     &sim.TrailingBuyReboundPercent,
		TrailingSellActivationPercent: &sim.TrailingSellActivationPercent,
		TrailingSellPullbackPercent:   &sim.TrailingSellPullbackPercent,
		TrailingStopOrderType:         &orderType,
	}
}
