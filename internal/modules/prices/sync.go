package prices

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/domain"
)

// DailySeriesClient fetches a symbol's daily series from a remote source.
// full selects the complete history; otherwise a recent window is enough.
type DailySeriesClient interface {
	GetDailyTimeSeries(ctx context.Context, symbol string, full bool) ([]domain.DailyBar, error)
}

// SyncReport describes one symbol's sync outcome.
type SyncReport struct {
	Symbol   string       `json:"symbol"`
	Mode     string       `json:"mode"` // "full" | "incremental"
	Fetched  int          `json:"fetched"`
	Upserted int          `json:"upserted"`
	LastDate *domain.Date `json:"lastDate,omitempty"`
}

// SyncService pulls remote daily series into the repository. A symbol that
// was synced before gets an incremental pull (only bars after the recorded
// last date are written); a new symbol gets the full history.
type SyncService struct {
	repo     *Repository
	client   DailySeriesClient
	cache    *SeriesCache
	cacheDir string
	log      zerolog.Logger
}

// NewSyncService creates a price sync service.
func NewSyncService(repo *Repository, client DailySeriesClient, log zerolog.Logger) *SyncService {
	return &SyncService{
		repo:   repo,
		client: client,
		log:    log.With().Str("component", "price_sync").Logger(),
	}
}

// EnableSnapshots makes every sync that writes bars refresh a msgpack
// snapshot of the symbol's full stored series under dir. Snapshot failures
// are logged, never fatal: the database stays the source of truth.
func (s *SyncService) EnableSnapshots(dir string) {
	s.cache = NewSeriesCache(s.log)
	s.cacheDir = dir
}

// SyncSymbol fetches and stores one symbol's series.
func (s *SyncService) SyncSymbol(ctx context.Context, symbol string) (*SyncReport, error) {
	if symbol == "" {
		return nil, &domain.ValidationError{Field: "symbol", Message: "must not be empty"}
	}

	last, err := s.repo.LastSynced(ctx, symbol)
	if err != nil {
		return nil, err
	}

	report := &SyncReport{Symbol: symbol, Mode: "incremental"}
	if last == nil {
		report.Mode = "full"
	}

	bars, err := s.client.GetDailyTimeSeries(ctx, symbol, last == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch series for %s: %w", symbol, err)
	}
	report.Fetched = len(bars)

	if last != nil {
		fresh := bars[:0:0]
		for _, b := range bars {
			if b.Date.After(*last) {
				fresh = append(fresh, b)
			}
		}
		bars = fresh
	}
	if len(bars) == 0 {
		s.log.Debug().Str("symbol", symbol).Msg("already up to date")
		report.LastDate = last
		return report, nil
	}

	n, err := s.repo.UpsertBars(ctx, symbol, bars)
	if err != nil {
		return nil, err
	}
	report.Upserted = n

	newest := bars[len(bars)-1].Date
	if err := s.repo.SetLastSynced(ctx, symbol, newest); err != nil {
		return nil, err
	}
	report.LastDate = &newest

	if s.cache != nil {
		s.snapshot(ctx, symbol)
	}

	s.log.Info().
		Str("symbol", symbol).
		Str("mode", report.Mode).
		Int("upserted", n).
		Str("lastDate", newest.Key()).
		Msg("symbol synced")
	return report, nil
}

// snapshot refreshes the symbol's full-series snapshot from the repository.
func (s *SyncService) snapshot(ctx context.Context, symbol string) {
	cov, err := s.repo.GetRange(ctx, symbol)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("snapshot skipped, coverage lookup failed")
		return
	}
	bars, err := s.repo.GetBars(ctx, symbol, cov.FirstDate, cov.LastDate)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("snapshot skipped, series read failed")
		return
	}
	if err := s.cache.Save(s.cacheDir, symbol, bars); err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("snapshot write failed")
	}
}

// SyncAll incrementally syncs every stored symbol. Per-symbol failures are
// logged and skipped so one bad symbol does not stall the schedule; the
// first error is returned after the sweep for the caller's accounting.
func (s *SyncService) SyncAll(ctx context.Context) ([]SyncReport, error) {
	coverage, err := s.repo.ListSymbols(ctx)
	if err != nil {
		return nil, err
	}

	var (
		reports  []SyncReport
		firstErr error
	)
	for _, cov := range coverage {
		if err := ctx.Err(); err != nil {
			return reports, err
		}

		report, err := s.SyncSymbol(ctx, cov.Symbol)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", cov.Symbol).Msg("symbol sync failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("sync %s: %w", cov.Symbol, err)
			}
			continue
		}
		reports = append(reports, *report)
	}
	return reports, firstErr
}
