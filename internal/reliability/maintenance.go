package reliability

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/database"
)

// Maintenance runs periodic SQLite housekeeping across every database:
// a TRUNCATE WAL checkpoint so the journal never grows unbounded, and an
// incremental vacuum where the profile allows one.
type Maintenance struct {
	dbs []*database.DB
	log zerolog.Logger
}

// NewMaintenance creates a maintenance service over the given databases.
func NewMaintenance(log zerolog.Logger, dbs ...*database.DB) *Maintenance {
	return &Maintenance{
		dbs: dbs,
		log: log.With().Str("component", "maintenance").Logger(),
	}
}

// Run performs one maintenance pass. Every database is attempted even when
// an earlier one fails; the joined error carries each failure.
func (m *Maintenance) Run(ctx context.Context) error {
	var errs []error
	for _, db := range m.dbs {
		if err := m.maintainOne(ctx, db); err != nil {
			m.log.Error().Err(err).Str("database", db.Name()).Msg("Maintenance failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Maintenance) maintainOne(ctx context.Context, db *database.DB) error {
	if err := db.QuickCheck(ctx); err != nil {
		return fmt.Errorf("database %s unreachable: %w", db.Name(), err)
	}

	before, err := db.GetStats()
	if err != nil {
		return fmt.Errorf("failed to read stats for %s: %w", db.Name(), err)
	}

	if err := db.WALCheckpoint("TRUNCATE"); err != nil {
		return err
	}
	if err := db.IncrementalVacuum(); err != nil {
		return err
	}

	after, err := db.GetStats()
	if err != nil {
		return fmt.Errorf("failed to read stats for %s: %w", db.Name(), err)
	}

	m.log.Info().
		Str("database", db.Name()).
		Int64("wal_before_bytes", before.WALSizeBytes).
		Int64("wal_after_bytes", after.WALSizeBytes).
		Int64("free_pages", after.FreelistCount).
		Msg("Maintenance pass complete")
	return nil
}
