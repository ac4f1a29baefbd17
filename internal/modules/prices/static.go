package prices

import (
	"context"
	"fmt"
	"sort"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/domain"
)

// StaticProvider serves bar series from memory under the same error contract
// as the repository-backed Provider: no bars in the window is a
// NotFoundError, a truncated window is a PartialRangeError carrying the bars
// that were available. It backs file-fed runs, where a CSV import stands in
// for the prices database.
type StaticProvider struct {
	series map[string][]domain.DailyBar
}

var _ domain.PriceProvider = (*StaticProvider)(nil)

// NewStaticProvider creates a provider over the given series. Each series is
// copied and sorted by date, so later mutation of the caller's slices does
// not leak in.
func NewStaticProvider(series map[string][]domain.DailyBar) *StaticProvider {
	owned := make(map[string][]domain.DailyBar, len(series))
	for sym, bars := range series {
		cp := make([]domain.DailyBar, len(bars))
		copy(cp, bars)
		sort.Slice(cp, func(i, j int) bool { return cp[i].Date.Before(cp[j].Date) })
		owned[sym] = cp
	}
	return &StaticProvider{series: owned}
}

// GetDailyBars implements domain.PriceProvider.
func (p *StaticProvider) GetDailyBars(_ context.Context, symbol string, start, end domain.Date) ([]domain.DailyBar, error) {
	if symbol == "" {
		return nil, &domain.ValidationError{Field: "symbol", Message: "must not be empty"}
	}
	if end.Before(start) {
		return nil, &domain.ValidationError{
			Field:   "endDate",
			Message: fmt.Sprintf("range %s..%s is inverted", start, end),
		}
	}

	all := p.series[symbol]
	lo := sort.Search(len(all), func(i int) bool { return !all[i].Date.Before(start) })
	hi := sort.Search(len(all), func(i int) bool { return all[i].Date.After(end) })
	bars := all[lo:hi]
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
