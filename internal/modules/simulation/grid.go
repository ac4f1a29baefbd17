package simulation

import (
	"math"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/domain"
)

// effectiveGrid computes the minimum fractional price separation required
// between the last entry and the next one.
//
// Dynamic grid scales the base interval by sqrt(price/ref): spacing widens
// as the price runs above the reference and tightens below it. The
// reference is 100.0 when normalizing, otherwise the price of the run's
// first trade (falling back to the current price before any trade).
// Consecutive incremental mode then widens the interval linearly with each
// entry since the last exit. The result is clamped to [0, 1].
func effectiveGrid(p domain.Params, price, firstTradePrice float64, consecutiveEntries int) float64 {
	base := p.GridIntervalPercent
	if p.EnableDynamicGrid {
		base *= dynamicScale(p, price, firstTradePrice)
	}
	if p.EnableConsecutiveIncrementalBuyGrid {
		base += p.GridConsecutiveIncrement * float64(consecutiveEntries)
	}
	return clamp01(base)
}

// effectiveProfit is the sell-side counterpart: the minimum fractional
// profit over average cost before an exit is considered. It shares the
// dynamic scale with the grid and widens with consecutive exits when
// configured.
func effectiveProfit(p domain.Params, price, firstTradePrice float64, consecutiveExits int) float64 {
	base := p.ProfitRequirement
	if p.EnableDynamicGrid {
		base *= dynamicScale(p, price, firstTradePrice)
	}
	if p.EnableConsecutiveIncrementalSellProfit {
		base += p.GridConsecutiveIncrement * float64(consecutiveExits)
	}
	return clamp01(base)
}

func dynamicScale(p domain.Params, price, firstTradePrice float64) float64 {
	ref := firstTradePrice
	if p.NormalizeToReference {
		ref = 100.0
	}
	if ref <= 0 {
		ref = price
	}
	if ref <= 0 || price <= 0 {
		return 1
	}
	return math.Sqrt(price/ref) * p.DynamicGridMultiplier
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
