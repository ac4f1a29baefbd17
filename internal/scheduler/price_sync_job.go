package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/prices"
)

// PriceSyncJob pulls fresh daily bars for every stored symbol. Runs on
// weekday evenings after the US market close.
type PriceSyncJob struct {
	sync *prices.SyncService
	log  zerolog.Logger
}

// NewPriceSyncJob creates a new price sync job
func NewPriceSyncJob(sync *prices.SyncService, log zerolog.Logger) *PriceSyncJob {
	return &PriceSyncJob{
		sync: sync,
		log:  log.With().Str("job", "price_sync").Logger(),
	}
}

// Name returns the job name
func (j *PriceSyncJob) Name() string {
	return "price_sync"
}

// Run syncs every stored symbol incrementally
func (j *PriceSyncJob) Run() error {
	// Generous bound: the rate-limited client spaces out its requests.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	startTime := time.Now()
	reports, err := j.sync.SyncAll(ctx)
	if err != nil {
		return err
	}

	upserted := 0
	for _, r := range reports {
		upserted += r.Upserted
	}

	j.log.Info().
		Int("symbols", len(reports)).
		Int("upserted", upserted).
		Float64("elapsed_seconds", time.Since(startTime).Seconds()).
		Msg("Price sync complete")

	return nil
}
