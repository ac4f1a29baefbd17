package portfolio

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/domain"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/simulation"
	testfx "github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/testing"
)

// flatParams buys every day on a flat series: zero-trigger stops, no grid
// spacing, and a profit requirement high enough to keep sells blocked.
func flatParams() domain.Params {
	p := domain.DefaultParams()
	p.LotSizeUSD = 10000
	p.MaxLots = 10
	p.GridIntervalPercent = 0
	p.ProfitRequirement = 0.5
	p.TrailingBuyActivationPercent = 0
	p.TrailingBuyReboundPercent = 0
	p.TrailingSellActivationPercent = 0
	p.TrailingSellPullbackPercent = 0
	return p
}

func runPortfolio(t *testing.T, cfg Config, series map[string][]domain.DailyBar) *PortfolioResult {
	t.Helper()
	res, err := NewCoordinator(zerolog.Nop()).Run(context.Background(), cfg, series)
	require.NoError(t, err)
	return res
}

func symbolResult(t *testing.T, res *PortfolioResult, symbol string) SymbolResult {
	t.Helper()
	for _, sr := range res.Symbols {
		if sr.Symbol == symbol {
			return sr
		}
	}
	t.Fatalf("symbol %s not in result", symbol)
	return SymbolResult{}
}

func TestRunCashExhaustionRejectsBuys(t *testing.T) {
	series := map[string][]domain.DailyBar{
		"AAA": testfx.DailySeries("2024-01-02", 100, 100, 100),
		"BBB": testfx.DailySeries("2024-01-02", 100, 100, 100),
		"CCC": testfx.DailySeries("2024-01-02", 100, 100, 100),
	}
	cfg := Config{
		Symbols:      []string{"AAA", "BBB", "CCC"},
		TotalCapital: 30000,
		Params:       flatParams(),
	}

	res := runPortfolio(t, cfg, series)

	// The reserve covers exactly the three lots demanded on day two. Day
	// three demands three more with nothing left; all are rejected and no
	// ledger moves.
	assert.Equal(t, 3, res.Summary.BuyCount)
	require.Len(t, res.RejectedOrders, 3)
	for _, txn := range res.RejectedOrders {
		assert.Equal(t, domain.TxnRejected, txn.Kind)
		assert.Equal(t, domain.ReasonInsufficientCash, txn.Reason)
		assert.Equal(t, "2024-01-04", txn.Date.String())
	}
	rejected := []string{res.RejectedOrders[0].Symbol, res.RejectedOrders[1].Symbol, res.RejectedOrders[2].Symbol}
	assert.Equal(t, []string{"AAA", "BBB", "CCC"}, rejected)

	for _, sym := range []string{"AAA", "BBB", "CCC"} {
		sr := symbolResult(t, res, sym)
		require.Len(t, sr.OpenLots, 1)
		assert.InDelta(t, 10000.0, sr.OpenLots[0].CostBasis, 1e-9)
		assert.Equal(t, 1, sr.Counters.BuysRejectedByCapital)
	}

	require.Len(t, res.CapitalSeries, 3)
	assert.InDelta(t, 0.0, res.CapitalSeries[1].Cash, 1e-9)
	assert.InDelta(t, 30000.0, res.CapitalSeries[1].Deployed, 1e-9)
	assert.InDelta(t, 0.0, res.Summary.FinalCash, 1e-9)
	assert.InDelta(t, 30000.0, res.Summary.FinalDeployed, 1e-9)
	assert.Equal(t, 3, res.Summary.RejectedBuys)
}

func TestRunIndexRemovalLiquidates(t *testing.T) {
	series := map[string][]domain.DailyBar{
		"OMEGA": testfx.DailySeries("2024-01-02", 100, 100, 100, 100, 120),
	}
	cfg := Config{
		Symbols:      []string{"OMEGA"},
		TotalCapital: 30000,
		Params:       flatParams(),
		MembershipEvents: []MembershipEvent{
			{Date: domain.MustParseDate("2024-01-08"), Symbol: "OMEGA", Action: MembershipRemove},
		},
	}

	res := runPortfolio(t, cfg, series)

	// Three lots of 100 shares at 100 are force-closed at the removal
	// day's close of 120: 36000 back to cash, 30000 off deployed, 6000
	// realized.
	require.Len(t, res.Liquidations, 1)
	liq := res.Liquidations[0]
	assert.Equal(t, domain.TxnLiquidation, liq.Kind)
	assert.Equal(t, "2024-01-08", liq.Date.String())
	assert.InDelta(t, 120.0, liq.Price, 1e-9)
	assert.InDelta(t, 300.0, liq.Shares, 1e-9)
	assert.InDelta(t, 36000.0, liq.Value, 1e-9)
	require.NotNil(t, liq.RealizedPnL)
	assert.InDelta(t, 6000.0, *liq.RealizedPnL, 1e-9)
	assert.Equal(t, domain.ReasonIndexRemoval, liq.Reason)

	require.Len(t, res.CapitalSeries, 5)
	before, after := res.CapitalSeries[3], res.CapitalSeries[4]
	assert.InDelta(t, 0.0, before.Cash, 1e-9)
	assert.InDelta(t, 30000.0, before.Deployed, 1e-9)
	assert.InDelta(t, 36000.0, after.Cash, 1e-9)
	assert.InDelta(t, 0.0, after.Deployed, 1e-9)
	assert.InDelta(t, 36000.0, after.Equity, 1e-9)

	sr := symbolResult(t, res, "OMEGA")
	assert.Empty(t, sr.OpenLots)
	assert.InDelta(t, 6000.0, sr.RealizedPnL, 1e-9)
	assert.Equal(t, 0, sr.Counters.SellCount)

	assert.Empty(t, res.RejectedOrders)
	assert.InDelta(t, 6000.0, res.Summary.RealizedPnL, 1e-9)
	assert.Equal(t, 1, res.Summary.Liquidations)
}

func TestRunAdmissionPrefersFewestLots(t *testing.T) {
	series := map[string][]domain.DailyBar{
		"ALPHA": testfx.DailySeries("2024-01-02", 100, 100, 100, 100, 100),
		"BETA":  testfx.DailySeries("2024-01-04", 100, 100, 100),
	}
	cfg := Config{
		Symbols:      []string{"ALPHA", "BETA"},
		TotalCapital: 30000,
		Params:       flatParams(),
	}

	res := runPortfolio(t, cfg, series)

	// ALPHA alone buys Jan 3 and 4. On Jan 5 both fire with cash for one
	// lot: BETA holds fewer lots and wins even though ALPHA sorts first
	// alphabetically. On Jan 8 nothing is left and BETA (fewer lots) is
	// rejected ahead of ALPHA.
	alpha := symbolResult(t, res, "ALPHA")
	beta := symbolResult(t, res, "BETA")
	assert.Equal(t, 2, alpha.Counters.BuyCount)
	assert.Equal(t, 1, beta.Counters.BuyCount)

	require.Len(t, res.RejectedOrders, 3)
	got := make([]string, len(res.RejectedOrders))
	for i, txn := range res.RejectedOrders {
		got[i] = txn.Symbol + "/" + txn.Date.String()
	}
	assert.Equal(t, []string{"ALPHA/2024-01-05", "BETA/2024-01-08", "ALPHA/2024-01-08"}, got)
}

func TestRunLedgerIdentityWithFees(t *testing.T) {
	p := flatParams()
	p.GridIntervalPercent = 0.02
	p.ProfitRequirement = 0.05
	p.FeePerTrade = 2.0

	series := map[string][]domain.DailyBar{
		"SWING": testfx.DailySeries("2024-01-02", 100, 100, 104, 106, 100),
		"HOLD":  testfx.DailySeries("2024-01-02", 100, 100, 100, 100, 100),
	}
	cfg := Config{
		Symbols:      []string{"SWING", "HOLD"},
		TotalCapital: 50000,
		Params:       p,
	}

	res := runPortfolio(t, cfg, series)

	// SWING buys at 100, sells at 106, re-buys at 100; HOLD buys once and
	// is grid-blocked after. Four fees of 2 and one realized gain of 600.
	assert.Equal(t, 3, res.Summary.BuyCount)
	assert.Equal(t, 1, res.Summary.SellCount)
	assert.InDelta(t, 600.0, res.Summary.RealizedPnL, 1e-9)
	assert.InDelta(t, 8.0, res.Summary.FeesPaid, 1e-9)
	assert.InDelta(t, 30592.0, res.Summary.FinalCash, 1e-9)
	assert.InDelta(t, 20000.0, res.Summary.FinalDeployed, 1e-9)
	assert.InDelta(t, 50592.0, res.Summary.FinalEquity, 1e-9)

	// Cash plus deployed must equal the starting capital adjusted by every
	// realized gain and fee, to within rounding slack.
	book := cfg.TotalCapital + res.Summary.RealizedPnL - res.Summary.FeesPaid
	assert.InDelta(t, book, res.Summary.FinalCash+res.Summary.FinalDeployed, 1e-6)

	// Same inputs, same bytes.
	again := runPortfolio(t, cfg, series)
	first, err := json.Marshal(res)
	require.NoError(t, err)
	second, err := json.Marshal(again)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRunMarginExtendsAdmission(t *testing.T) {
	series := map[string][]domain.DailyBar{
		"AAA": testfx.DailySeries("2024-01-02", 100, 100, 100),
		"BBB": testfx.DailySeries("2024-01-02", 100, 100, 100),
	}
	cfg := Config{
		Symbols:        []string{"AAA", "BBB"},
		TotalCapital:   20000,
		MarginFraction: 0.5,
		Params:         flatParams(),
	}

	res := runPortfolio(t, cfg, series)

	// Margin of 0.5 on 20000 allows 10000 of borrowing: the third lot
	// admits at negative cash, the fourth breaches the cap and is
	// rejected.
	assert.Equal(t, 3, res.Summary.BuyCount)
	require.Len(t, res.RejectedOrders, 1)
	assert.Equal(t, "BBB", res.RejectedOrders[0].Symbol)
	assert.Equal(t, "2024-01-04", res.RejectedOrders[0].Date.String())
	assert.InDelta(t, -10000.0, res.Summary.FinalCash, 1e-9)
	assert.InDelta(t, 30000.0, res.Summary.FinalDeployed, 1e-9)
}

func TestRunSkipsSymbolsWithoutData(t *testing.T) {
	series := map[string][]domain.DailyBar{
		"GOOD": testfx.DailySeries("2024-01-02", 100, 100, 100),
	}
	cfg := Config{
		Symbols:      []string{"GOOD", "MISSING"},
		TotalCapital: 30000,
		Params:       flatParams(),
	}

	res := runPortfolio(t, cfg, series)

	assert.Equal(t, []string{"MISSING"}, res.SkippedSymbols)
	require.Len(t, res.Symbols, 1)
	assert.Equal(t, 2, symbolResult(t, res, "GOOD").Counters.BuyCount)

	// Every symbol missing is not a partial run, it is no run at all.
	_, err := NewCoordinator(zerolog.Nop()).Run(context.Background(), Config{
		Symbols:      []string{"NONE"},
		TotalCapital: 1000,
		Params:       flatParams(),
	}, nil)
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestRunMembershipAddActivatesLater(t *testing.T) {
	series := map[string][]domain.DailyBar{
		"BASE": testfx.DailySeries("2024-01-02", 100, 100, 100, 100, 100),
		"LATE": testfx.DailySeries("2024-01-04", 100, 100, 100),
	}
	cfg := Config{
		Symbols:      []string{"BASE"},
		TotalCapital: 40000,
		Params:       flatParams(),
		MembershipEvents: []MembershipEvent{
			{Date: domain.MustParseDate("2024-01-04"), Symbol: "LATE", Action: MembershipAdd},
		},
	}

	res := runPortfolio(t, cfg, series)

	assert.Equal(t, "2024-01-02", res.StartDate.String())
	assert.Equal(t, "2024-01-08", res.EndDate.String())
	assert.Equal(t, 5, res.Summary.TradingDays)

	// LATE joins on Jan 4, arms that day, and buys on Jan 5 with admission
	// priority over the heavier BASE. By Jan 8 the reserve is spent and
	// both are rejected, fewest lots first.
	late := symbolResult(t, res, "LATE")
	require.NotEmpty(t, late.Transactions)
	assert.Equal(t, "2024-01-05", late.Transactions[0].Date.String())
	assert.Equal(t, 1, late.Counters.BuyCount)
	assert.Equal(t, 3, symbolResult(t, res, "BASE").Counters.BuyCount)

	require.Len(t, res.RejectedOrders, 2)
	assert.Equal(t, "LATE", res.RejectedOrders[0].Symbol)
	assert.Equal(t, "BASE", res.RejectedOrders[1].Symbol)
}

func TestRunConfigValidation(t *testing.T) {
	series := map[string][]domain.DailyBar{
		"AAA": testfx.DailySeries("2024-01-02", 100, 100),
	}

	cases := []struct {
		name  string
		cfg   Config
		field string
	}{
		{
			name:  "no symbols",
			cfg:   Config{TotalCapital: 1000, Params: flatParams()},
			field: "symbols",
		},
		{
			name:  "zero capital",
			cfg:   Config{Symbols: []string{"AAA"}, Params: flatParams()},
			field: "totalCapital",
		},
		{
			name: "negative margin",
			cfg: Config{
				Symbols:        []string{"AAA"},
				TotalCapital:   1000,
				MarginFraction: -0.1,
				Params:         flatParams(),
			},
			field: "marginFraction",
		},
		{
			name: "bad params",
			cfg: Config{
				Symbols:      []string{"AAA"},
				TotalCapital: 1000,
				Params: func() domain.Params {
					p := flatParams()
					p.MaxLots = 0
					return p
				}(),
			},
			field: "maxLots",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCoordinator(zerolog.Nop()).Run(context.Background(), tc.cfg, series)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := Config{
		Symbols:      []string{"AAA"},
		TotalCapital: 30000,
		Params:       flatParams(),
	}
	res, err := NewCoordinator(zerolog.Nop()).Run(ctx, cfg, map[string][]domain.DailyBar{
		"AAA": testfx.DailySeries("2024-01-02", 100, 100, 100),
	})
	require.NoError(t, err)

	assert.True(t, res.Cancelled)
	assert.False(t, res.DeadlineExceeded)
	assert.Empty(t, res.CapitalSeries)
	assert.Empty(t, res.RejectedOrders)
}

func TestCheckInvariantDetectsLeak(t *testing.T) {
	day := domain.MustParseDate("2024-01-02")
	r := &portfolioRun{
		cfg:     Config{TotalCapital: 1000},
		log:     zerolog.Nop(),
		engines: map[string]*simulation.SymbolEngine{},
		active:  map[string]bool{},
		eps:     0.05,
	}

	// Cash and deployed drifting above the book value is a leak.
	r.cash, r.deployed, r.total = 500, 600, 1000
	var leak *domain.CapitalLeakError
	err := r.checkInvariant(day)
	require.ErrorAs(t, err, &leak)
	assert.InDelta(t, 100.0, leak.Delta, 1e-9)
	assert.True(t, leak.Day.Equal(day))

	// Balanced books pass.
	r.cash, r.deployed = 1000, 0
	require.NoError(t, r.checkInvariant(day))

	// The two halves can balance while deployed disagrees with the sum of
	// open cost bases; that is still a leak.
	r.cash, r.deployed = 400, 600
	err = r.checkInvariant(day)
	require.ErrorAs(t, err, &leak)
	assert.InDelta(t, 600.0, leak.Delta, 1e-9)

	// With margin only a drop below book value leaks.
	r.cfg.MarginFraction = 0.5
	r.cash, r.deployed = -500, 1400
	err = r.checkInvariant(day)
	require.ErrorAs(t, err, &leak)
	assert.InDelta(t, -100.0, leak.Delta, 1e-9)
}
