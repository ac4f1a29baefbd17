package prices

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/domain"
)

// Provider serves bar series from the repository with the domain provider
// error contract: no rows at all is a NotFoundError, a truncated range is a
// PartialRangeError carrying the bars that were available.
//
// Concurrent requests for the same (symbol, start, end) are collapsed into a
// single query; batch workers sweeping one symbol otherwise hammer the store
// with identical reads.
type Provider struct {
	repo  *Repository
	group singleflight.Group
	log   zerolog.Logger
}

var _ domain.PriceProvider = (*Provider)(nil)

// NewProvider creates a repository-backed price provider.
func NewProvider(repo *Repository, log zerolog.Logger) *Provider {
	return &Provider{
		repo: repo,
		log:  log.With().Str("component", "price_provider").Logger(),
	}
}

// GetDailyBars implements domain.PriceProvider.
func (p *Provider) GetDailyBars(ctx context.Context, symbol string, start, end domain.Date) ([]domain.DailyBar, error) {
	if symbol == "" {
		return nil, &domain.ValidationError{Field: "symbol", Message: "must not be empty"}
	}
	if end.Before(start) {
		return nil, &domain.ValidationError{
			Field:   "endDate",
			Message: fmt.Sprintf("range %s..%s is inverted", start, end),
		}
	}

	key := symbol + "|" + start.Key() + "|" + end.Key()
	v, err, shared := p.group.Do(key, func() (any, error) {
		return p.fetch(ctx, symbol, start, end)
	})
	if shared {
		p.log.Debug().Str("key", key).Msg("price fetch shared between callers")
	}
	if err != nil {
		return nil, err
	}
	return v.([]domain.DailyBar), nil
}

func (p *Provider) fetch(ctx context.Context, symbol string, start, end domain.Date) ([]domain.DailyBar, error) {
	bars, err := p.repo.GetBars(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, &domain.NotFoundError{Symbol: symbol}
	}

	first, last := bars[0].Date, bars[len(bars)-1].Date
	if first.After(start) || last.Before(end) {
		return nil, &domain.PartialRangeError{
			Symbol:         symbol,
			RequestedStart: start,
			RequestedEnd:   end,
			AvailableStart: first,
			AvailableEnd:   last,
			Bars:           bars,
		}
	}
	return bars, nil
}
