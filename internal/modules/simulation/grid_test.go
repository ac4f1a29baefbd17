package simulation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/domain"
)

func gridParams() domain.Params {
	p := domain.DefaultParams()
	p.GridIntervalPercent = 0.10
	p.ProfitRequirement = 0.05
	return p
}

func TestEffectiveGridBase(t *testing.T) {
	p := gridParams()
	assert.InDelta(t, 0.10, effectiveGrid(p, 50, 100, 0), 1e-12)
	assert.InDelta(t, 0.10, effectiveGrid(p, 200, 0, 7), 1e-12)
}

func TestEffectiveGridDynamic(t *testing.T) {
	p := gridParams()
	p.EnableDynamicGrid = true
	p.DynamicGridMultiplier = 1.0

	// Normalized reference: sqrt(144/100) = 1.2.
	p.NormalizeToReference = true
	assert.InDelta(t, 0.12, effectiveGrid(p, 144, 50, 0), 1e-9)

	// First-trade reference: sqrt(81/100) = 0.9.
	p.NormalizeToReference = false
	assert.InDelta(t, 0.09, effectiveGrid(p, 81, 100, 0), 1e-9)

	// No trade yet: the current price is its own reference.
	assert.InDelta(t, 0.10, effectiveGrid(p, 81, 0, 0), 1e-9)

	// The multiplier scales the whole dynamic factor.
	p.DynamicGridMultiplier = 2.0
	assert.InDelta(t, 0.18, effectiveGrid(p, 81, 100, 0), 1e-9)
}

func TestEffectiveGridConsecutiveIncrement(t *testing.T) {
	p := gridParams()
	p.EnableConsecutiveIncrementalBuyGrid = true
	p.GridConsecutiveIncrement = 0.02

	assert.InDelta(t, 0.10, effectiveGrid(p, 100, 100, 0), 1e-12)
	assert.InDelta(t, 0.16, effectiveGrid(p, 100, 100, 3), 1e-12)
}

func TestEffectiveGridClamps(t *testing.T) {
	p := gridParams()
	p.GridIntervalPercent = 0.90
	p.EnableConsecutiveIncrementalBuyGrid = true
	p.GridConsecutiveIncrement = 0.20

	assert.Equal(t, 1.0, effectiveGrid(p, 100, 100, 2))
}

func TestEffectiveProfit(t *testing.T) {
	p := gridParams()
	assert.InDelta(t, 0.05, effectiveProfit(p, 100, 100, 4), 1e-12)

	p.EnableConsecutiveIncrementalSellProfit = true
	p.GridConsecutiveIncrement = 0.01
	assert.InDelta(t, 0.07, effectiveProfit(p, 100, 100, 2), 1e-12)

	// The dynamic scale applies to the profit floor as well.
	p.EnableDynamicGrid = true
	p.NormalizeToReference = true
	p.DynamicGridMultiplier = 1.0
	assert.InDelta(t, 0.05*1.2+0.02, effectiveProfit(p, 144, 100, 2), 1e-9)
}

func TestComputeTrends(t *testing.T) {
	rising := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	trends := computeTrends(rising, 3)
	for i := 0; i < 3; i++ {
		assert.Equal(t, trendFlat, trends[i], "warmup day %d", i)
	}
	for i := 3; i < len(rising); i++ {
		assert.Equal(t, trendUp, trends[i], "day %d", i)
	}

	falling := []float64{8, 7, 6, 5, 4, 3, 2, 1}
	trends = computeTrends(falling, 3)
	for i := 3; i < len(falling); i++ {
		assert.Equal(t, trendDown, trends[i], "day %d", i)
	}
}

func TestComputeTrendsShortSeries(t *testing.T) {
	trends := computeTrends([]float64{1, 2, 3}, 5)
	for i, tr := range trends {
		assert.Equal(t, trendFlat, tr, "day %d", i)
	}
}
