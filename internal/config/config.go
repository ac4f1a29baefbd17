// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir      string // Base directory for all databases (always absolute)
	Host         string
	Port         int
	LogLevel     string
	LogPretty    bool
	DevMode      bool
	AlphaVantage *AlphaVantageConfig
	Schedules    *ScheduleConfig
	Archive      *ArchiveConfig
	Simulation   *SimulationConfig
	BatchWorkers int // 0 = runtime.NumCPU()
}

// AlphaVantageConfig holds Alpha Vantage client configuration
type AlphaVantageConfig struct {
	APIKey       string
	DailyBudget  int // free tier allows 25 requests/day
	CacheTTLDays int
}

// ScheduleConfig holds cron specs for the background jobs
type ScheduleConfig struct {
	PriceSync      string
	DBMaintenance  string
	ResultsArchive string
	CounterReset   string
}

// ArchiveConfig holds S3-compatible archive storage configuration.
// The archive job is credential-gated: it only runs when every
// connection field is set.
type ArchiveConfig struct {
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Keep            int // archives retained during rotation
}

// Configured reports whether archive uploads can be attempted
func (a *ArchiveConfig) Configured() bool {
	return a.Endpoint != "" && a.Bucket != "" && a.AccessKeyID != "" && a.SecretAccessKey != ""
}

// SimulationConfig holds the deployment-wide strategy parameter defaults.
// They sit between the hardcoded defaults and the request body in the
// parameter merge, so operators can tune a default lot size or grid without
// touching every request.
type SimulationConfig struct {
	TotalCapital                  float64
	LotSizeUSD                    float64
	GridIntervalPercent           float64
	ProfitRequirement             float64
	TrailingBuyActivationPercent  float64
	TrailingBuyReboundPercent     float64
	TrailingSellActivationPercent float64
	TrailingSellPullbackPercent   float64
	OrderType                     string // "limit" or "market"
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Determine data directory:
	// 1. Check DCA_DATA_DIR environment variable
	// 2. If not set, default to ./data
	// 3. Always resolve to absolute path
	// 4. Ensure directory exists
	dataDir := getEnv("DCA_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:   absDataDir,
		Host:      getEnv("DCA_HOST", "0.0.0.0"),
		Port:      getEnvAsInt("DCA_PORT", 8090),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", false),
		DevMode:   getEnvAsBool("DEV_MODE", false),
		AlphaVantage: &AlphaVantageConfig{
			APIKey:       getEnv("ALPHAVANTAGE_API_KEY", ""),
			DailyBudget:  getEnvAsInt("ALPHAVANTAGE_DAILY_BUDGET", 25),
			CacheTTLDays: getEnvAsInt("ALPHAVANTAGE_CACHE_TTL_DAYS", 1),
		},
		Schedules: &ScheduleConfig{
			// Weekdays after US market close (UTC).
			PriceSync:      getEnv("SCHEDULE_PRICE_SYNC", "0 22 * * 1-5"),
			DBMaintenance:  getEnv("SCHEDULE_DB_MAINTENANCE", "0 3 * * *"),
			ResultsArchive: getEnv("SCHEDULE_RESULTS_ARCHIVE", "0 4 * * 0"),
			CounterReset:   getEnv("SCHEDULE_COUNTER_RESET", "1 0 * * *"),
		},
		Archive: &ArchiveConfig{
			Endpoint:        getEnv("ARCHIVE_S3_ENDPOINT", ""),
			Bucket:          getEnv("ARCHIVE_S3_BUCKET", ""),
			AccessKeyID:     getEnv("ARCHIVE_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("ARCHIVE_S3_SECRET_ACCESS_KEY", ""),
			Region:          getEnv("ARCHIVE_S3_REGION", "auto"),
			Keep:            getEnvAsInt("ARCHIVE_KEEP", 12),
		},
		Simulation: &SimulationConfig{
			TotalCapital:                  getEnvAsFloat("DCA_DEFAULT_TOTAL_CAPITAL", 100000),
			LotSizeUSD:                    getEnvAsFloat("DCA_DEFAULT_LOT_SIZE_USD", 10000),
			GridIntervalPercent:           getEnvAsFloat("DCA_DEFAULT_GRID_INTERVAL", 0.05),
			ProfitRequirement:             getEnvAsFloat("DCA_DEFAULT_PROFIT_REQUIREMENT", 0.05),
			TrailingBuyActivationPercent:  getEnvAsFloat("DCA_DEFAULT_TRAILING_BUY_ACTIVATION", 0.10),
			TrailingBuyReboundPercent:     getEnvAsFloat("DCA_DEFAULT_TRAILING_BUY_REBOUND", 0.05),
			TrailingSellActivationPercent: getEnvAsFloat("DCA_DEFAULT_TRAILING_SELL_ACTIVATION", 0.10),
			TrailingSellPullbackPercent:   getEnvAsFloat("DCA_DEFAULT_TRAILING_SELL_PULLBACK", 0.05),
			OrderType:                     getEnv("DCA_DEFAULT_ORDER_TYPE", "limit"),
		},
		BatchWorkers: getEnvAsInt("BATCH_WORKERS", 0),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.BatchWorkers < 0 {
		return fmt.Errorf("invalid batch worker count: %d", c.BatchWorkers)
	}
	if c.Archive.Keep < 1 {
		return fmt.Errorf("archive retention must keep at least one archive, got %d", c.Archive.Keep)
	}
	if err := c.Simulation.validate(); err != nil {
		return err
	}
	// Note: Alpha Vantage key optional; price lookups fall back to
	// whatever the local database already holds.
	return nil
}

func (s *SimulationConfig) validate() error {
	if s.TotalCapital <= 0 {
		return fmt.Errorf("default total capital must be positive, got %v", s.TotalCapital)
	}
	if s.LotSizeUSD <= 0 {
		return fmt.Errorf("default lot size must be positive, got %v", s.LotSizeUSD)
	}
	fractions := map[string]float64{
		"DCA_DEFAULT_GRID_INTERVAL":            s.GridIntervalPercent,
		"DCA_DEFAULT_PROFIT_REQUIREMENT":       s.ProfitRequirement,
		"DCA_DEFAULT_TRAILING_BUY_ACTIVATION":  s.TrailingBuyActivationPercent,
		"DCA_DEFAULT_TRAILING_BUY_REBOUND":     s.TrailingBuyReboundPercent,
		"DCA_DEFAULT_TRAILING_SELL_ACTIVATION": s.TrailingSellActivationPercent,
		"DCA_DEFAULT_TRAILING_SELL_PULLBACK":   s.TrailingSellPullbackPercent,
	}
	for key, v := range fractions {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be a decimal fraction in [0, 1], got %v", key, v)
		}
	}
	if s.OrderType != "limit" && s.OrderType != "market" {
		return fmt.Errorf("invalid default order type: %q", s.OrderType)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
