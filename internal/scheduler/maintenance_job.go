package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// maintainer is the slice of the reliability service this job touches.
type maintainer interface {
	Run(ctx context.Context) error
}

// MaintenanceJob runs the nightly SQLite housekeeping pass: WAL
// checkpoints and incremental vacuum on every database.
type MaintenanceJob struct {
	maintenance maintainer
	log         zerolog.Logger
}

// NewMaintenanceJob creates a new database maintenance job
func NewMaintenanceJob(maintenance maintainer, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		maintenance: maintenance,
		log:         log.With().Str("job", "db_maintenance").Logger(),
	}
}

// Name returns the job name
func (j *MaintenanceJob) Name() string {
	return "db_maintenance"
}

// Run executes one maintenance pass
func (j *MaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	startTime := time.Now()
	if err := j.maintenance.Run(ctx); err != nil {
		return err
	}

	j.log.Info().
		Float64("elapsed_seconds", time.Since(startTime).Seconds()).
		Msg("Database maintenance complete")

	return nil
}
