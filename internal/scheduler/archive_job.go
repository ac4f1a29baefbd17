package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/reliability"
)

// archiver is the slice of the archive service this job touches.
type archiver interface {
	ArchiveNow(ctx context.Context) (*reliability.ArchiveReport, error)
}

// ArchiveJob uploads a weekly archive of the data directory to object
// storage. Only registered when archive credentials are configured.
//
// The databases are checkpointed first so the tarball captures everything
// without the WAL sidecars.
type ArchiveJob struct {
	archive     archiver
	maintenance maintainer
	log         zerolog.Logger
}

// NewArchiveJob creates a new results archive job
func NewArchiveJob(archive archiver, maintenance maintainer, log zerolog.Logger) *ArchiveJob {
	return &ArchiveJob{
		archive:     archive,
		maintenance: maintenance,
		log:         log.With().Str("job", "results_archive").Logger(),
	}
}

// Name returns the job name
func (j *ArchiveJob) Name() string {
	return "results_archive"
}

// Run checkpoints the databases and uploads one archive
func (j *ArchiveJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if err := j.maintenance.Run(ctx); err != nil {
		// Archive anyway; a stale WAL means the tarball misses the most
		// recent writes, not that it is corrupt.
		j.log.Warn().Err(err).Msg("Pre-archive checkpoint failed")
	}

	report, err := j.archive.ArchiveNow(ctx)
	if err != nil {
		return err
	}

	j.log.Info().
		Str("key", report.Key).
		Int64("size_bytes", report.SizeBytes).
		Int("pruned", len(report.Pruned)).
		Msg("Archive complete")

	return nil
}
