package results

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/domain"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/batch"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/portfolio"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/simulation"
	testfx "github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/testing"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	return NewRepository(testfx.NewMemoryDB(t, "results"), zerolog.Nop())
}

func sampleSingleRun() *simulation.SingleRunResult {
	pnl := 600.0
	dd := 0.05
	return &simulation.SingleRunResult{
		Symbol:    "AAPL",
		Params:    domain.DefaultParams(),
		StartDate: domain.MustParseDate("2024-01-02"),
		EndDate:   domain.MustParseDate("2024-01-05"),
		Transactions: []domain.Transaction{
			{
				Date: domain.MustParseDate("2024-01-02"), Symbol: "AAPL",
				Kind: domain.TxnTrailingBuy, Price: 100, Shares: 100,
				Value: 10000, LotsAffected: 1,
			},
			{
				Date: domain.MustParseDate("2024-01-04"), Symbol: "AAPL",
				Kind: domain.TxnTrailingSell, Price: 106, Shares: 100,
				Value: 10600, LotsAffected: 1, RealizedPnL: &pnl,
			},
		},
		Summary: simulation.Summary{
			CapitalBase: 100000,
			TotalReturn: 0.006,
			RealizedPnL: 600,
			FinalEquity: 100600,
			MaxDrawdown: &dd,
			TradingDays: 4,
			Counters:    simulation.Counters{BuyCount: 1, SellCount: 1},
		},
	}
}

func TestSaveAndGetSingleRun(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.SaveSingleRun(ctx, sampleSingleRun())
	require.NoError(t, err)
	require.Len(t, id, 36)

	rec, err := repo.GetRun(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, "single", rec.Kind)
	assert.Equal(t, "AAPL", rec.Symbol)
	assert.Equal(t, "2024-01-02", rec.StartDate.Key())
	assert.Equal(t, "2024-01-05", rec.EndDate.Key())
	assert.Equal(t, 0.006, rec.TotalReturn)
	assert.Equal(t, 600.0, rec.RealizedPnL)
	require.NotNil(t, rec.MaxDrawdown)
	assert.Equal(t, 0.05, *rec.MaxDrawdown)
	assert.Equal(t, 1, rec.BuyCount)
	assert.Equal(t, 1, rec.SellCount)
	assert.False(t, rec.Cancelled)
	assert.NotEmpty(t, rec.CreatedAt)

	var params domain.Params
	require.NoError(t, json.Unmarshal(rec.Params, &params))
	assert.Equal(t, domain.DefaultParams().LotSizeUSD, params.LotSizeUSD)

	var summary simulation.Summary
	require.NoError(t, json.Unmarshal(rec.Summary, &summary))
	assert.Equal(t, 100600.0, summary.FinalEquity)
}

func TestGetRunTransactions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.SaveSingleRun(ctx, sampleSingleRun())
	require.NoError(t, err)

	txns, err := repo.GetRunTransactions(ctx, id)
	require.NoError(t, err)
	require.Len(t, txns, 2)

	assert.Equal(t, domain.TxnTrailingBuy, txns[0].Kind)
	assert.Equal(t, "2024-01-02", txns[0].Date.Key())
	assert.Nil(t, txns[0].RealizedPnL)
	assert.Empty(t, txns[0].Reason)

	assert.Equal(t, domain.TxnTrailingSell, txns[1].Kind)
	require.NotNil(t, txns[1].RealizedPnL)
	assert.Equal(t, 600.0, *txns[1].RealizedPnL)
	assert.Equal(t, 10600.0, txns[1].Value)
}

func TestGetRunUnknown(t *testing.T) {
	repo := newTestRepo(t)

	rec, err := repo.GetRun(context.Background(), "not-a-run")
	require.NoError(t, err)
	assert.Nil(t, rec)

	txns, err := repo.GetRunTransactions(context.Background(), "not-a-run")
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestListRunsHonorsLimit(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := repo.SaveSingleRun(ctx, sampleSingleRun())
		require.NoError(t, err)
	}

	all, err := repo.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := repo.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestDeleteRunCascades(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.SaveSingleRun(ctx, sampleSingleRun())
	require.NoError(t, err)

	deleted, err := repo.DeleteRun(ctx, id)
	require.NoError(t, err)
	assert.True(t, deleted)

	rec, err := repo.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, rec)

	txns, err := repo.GetRunTransactions(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, txns)

	deleted, err = repo.DeleteRun(ctx, id)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestSavePortfolioRunMergesLogs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	cfg := portfolio.Config{
		Symbols:      []string{"AAA", "BBB"},
		TotalCapital: 50000,
		Params:       domain.DefaultParams(),
	}
	res := &portfolio.PortfolioResult{
		StartDate: domain.MustParseDate("2024-01-02"),
		EndDate:   domain.MustParseDate("2024-01-04"),
		Symbols: []portfolio.SymbolResult{
			{
				Symbol: "AAA",
				Params: cfg.Params,
				Transactions: []domain.Transaction{
					{Date: domain.MustParseDate("2024-01-02"), Symbol: "AAA", Kind: domain.TxnTrailingBuy, Price: 100, Shares: 100, Value: 10000, LotsAffected: 1},
					{Date: domain.MustParseDate("2024-01-04"), Symbol: "AAA", Kind: domain.TxnRejected, Reason: domain.ReasonInsufficientCash},
				},
			},
			{
				Symbol: "BBB",
				Params: cfg.Params,
				Transactions: []domain.Transaction{
					{Date: domain.MustParseDate("2024-01-03"), Symbol: "BBB", Kind: domain.TxnTrailingBuy, Price: 50, Shares: 200, Value: 10000, LotsAffected: 1},
				},
			},
		},
		Summary: portfolio.Summary{
			TotalCapital: 50000,
			FinalEquity:  50000,
			BuyCount:     2,
			RejectedBuys: 1,
		},
	}

	id, err := repo.SavePortfolioRun(ctx, cfg, res)
	require.NoError(t, err)

	rec, err := repo.GetRun(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "portfolio", rec.Kind)
	assert.Equal(t, "AAA,BBB", rec.Symbol)
	assert.Equal(t, 2, rec.BuyCount)

	var stored portfolio.Config
	require.NoError(t, json.Unmarshal(rec.Params, &stored))
	assert.Equal(t, 50000.0, stored.TotalCapital)

	// Merged log is chronological; same-day records keep symbol order.
	txns, err := repo.GetRunTransactions(ctx, id)
	require.NoError(t, err)
	require.Len(t, txns, 3)
	assert.Equal(t, "AAA", txns[0].Symbol)
	assert.Equal(t, "BBB", txns[1].Symbol)
	assert.Equal(t, "AAA", txns[2].Symbol)
	assert.Equal(t, domain.TxnRejected, txns[2].Kind)
	assert.Equal(t, domain.ReasonInsufficientCash, txns[2].Reason)
}

func TestSaveAndGetBatch(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	cfg := batch.Config{
		Symbols:    []string{"AAPL"},
		StartDate:  domain.MustParseDate("2024-01-01"),
		EndDate:    domain.MustParseDate("2024-12-31"),
		BaseParams: domain.DefaultParams(),
		Ranges:     batch.ParameterRanges{"profitRequirement": {0.01, 0.05}},
	}
	res := &batch.BatchResult{Total: 2, Completed: 2}

	require.NoError(t, repo.SaveBatch(ctx, "batch-1", cfg, res))

	rec, err := repo.GetBatch(ctx, "batch-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 2, rec.Total)
	assert.Equal(t, 2, rec.Completed)
	assert.False(t, rec.Cancelled)

	var stored batch.Config
	require.NoError(t, json.Unmarshal(rec.Config, &stored))
	assert.Equal(t, []string{"AAPL"}, stored.Symbols)

	missing, err := repo.GetBatch(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
