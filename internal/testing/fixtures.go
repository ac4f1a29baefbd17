package testing

import (
	"time"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/domain"
)

// DailySeries builds a bar series from closing prices, one bar per trading
// day starting at startDate (weekends are skipped). Open/high/low are derived
// from the close so the bars pass validation; adjusted close equals close.
func DailySeries(startDate string, closes ...float64) []domain.DailyBar {
	d := domain.MustParseDate(startDate)
	bars := make([]domain.DailyBar, 0, len(closes))
	for _, c := range closes {
		d = nextTradingDay(d, len(bars) == 0)
		bars = append(bars, BarOn(d, c))
	}
	return bars
}

// BarOn builds a single valid bar whose decision price is close.
func BarOn(date domain.Date, close float64) domain.DailyBar {
	return domain.DailyBar{
		Date:          date,
		Open:          close,
		High:          close * 1.005,
		Low:           close * 0.995,
		Close:         close,
		AdjustedClose: close,
		Volume:        1_000_000,
	}
}

// DatedSeries builds bars from explicit date/close pairs. Dates must be
// YYYY-MM-DD and ascending; the function panics on malformed input so broken
// fixtures fail loudly.
func DatedSeries(pairs map[string]float64, order []string) []domain.DailyBar {
	bars := make([]domain.DailyBar, 0, len(order))
	for _, key := range order {
		bars = append(bars, BarOn(domain.MustParseDate(key), pairs[key]))
	}
	return bars
}

// nextTradingDay returns date itself when first is true and the date is a
// weekday, otherwise the next weekday after it.
func nextTradingDay(d domain.Date, first bool) domain.Date {
	if !first {
		d = d.Next()
	}
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.Next()
	}
	return d
}

// ScenarioParams returns the parameter set most scenario tests share:
// one 10k lot per signal, 5% activation and rebound on both sides, 10% grid
// and profit requirements, limit orders.
func ScenarioParams() domain.Params {
	p := domain.DefaultParams()
	p.LotSizeUSD = 10000
	p.MaxLots = 10
	p.GridIntervalPercent = 0.10
	p.ProfitRequirement = 0.05
	p.TrailingBuyActivationPercent = 0.05
	p.TrailingBuyReboundPercent = 0.05
	p.TrailingSellActivationPercent = 0.10
	p.TrailingSellPullbackPercent = 0.05
	return p
}
