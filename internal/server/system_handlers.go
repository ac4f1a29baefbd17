package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/clients/alphavantage"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/database"
)

// SystemHandlers serves the system monitoring endpoints.
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	pricesDB    *database.DB
	resultsDB   *database.DB
	avClient    *alphavantage.Client // nil without an API key
	startupTime time.Time
}

// NewSystemHandlers creates new system handlers
func NewSystemHandlers(
	log zerolog.Logger,
	dataDir string,
	pricesDB *database.DB,
	resultsDB *database.DB,
	avClient *alphavantage.Client,
) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("handler", "system").Logger(),
		dataDir:     dataDir,
		pricesDB:    pricesDB,
		resultsDB:   resultsDB,
		avClient:    avClient,
		startupTime: time.Now(),
	}
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	cpuPercent, ramPercent := h.getSystemStats()

	response := map[string]interface{}{
		"status":       "ok",
		"uptime_hours": time.Since(h.startupTime).Hours(),
		"cpu_percent":  cpuPercent,
		"ram_percent":  ramPercent,
		"data_dir_mb":  h.getDirSize(h.dataDir),
		"databases": map[string]interface{}{
			"prices":  h.databaseStats(h.pricesDB),
			"results": h.databaseStats(h.resultsDB),
		},
	}

	if h.avClient != nil {
		response["alpha_vantage"] = map[string]interface{}{
			"remaining_requests": h.avClient.GetRemainingRequests(),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode system status")
	}
}

// databaseStats collects one database's size and page statistics. Collection
// failures degrade to an error field rather than failing the whole status.
func (h *SystemHandlers) databaseStats(db *database.DB) map[string]interface{} {
	if db == nil {
		return map[string]interface{}{"error": "not configured"}
	}

	stats, err := db.GetStats()
	if err != nil {
		h.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to collect database stats")
		return map[string]interface{}{"error": err.Error()}
	}

	return map[string]interface{}{
		"size_mb":        float64(stats.SizeBytes) / 1024 / 1024,
		"wal_mb":         float64(stats.WALSizeBytes) / 1024 / 1024,
		"page_count":     stats.PageCount,
		"page_size":      stats.PageSize,
		"freelist_count": stats.FreelistCount,
	}
}

// getDirSize calculates total size of a directory in MB
func (h *SystemHandlers) getDirSize(dirPath string) float64 {
	var totalSize int64

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})

	if err != nil {
		h.log.Warn().Err(err).Str("dir", dirPath).Msg("Failed to calculate directory size")
		return 0
	}

	return float64(totalSize) / 1024 / 1024
}

// getSystemStats calculates CPU and RAM usage percentages
// Uses a shorter interval (100ms) so the status endpoint responds quickly
// while still providing a usable reading
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	// Memory statistics are instant, no blocking
	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}
