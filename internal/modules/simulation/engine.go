package simulation

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/domain"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/metrics"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/pkg/formulas"
)

// EquityPoint is one day of the mark-to-market equity curve.
type EquityPoint struct {
	Date  domain.Date `json:"date"`
	Value float64     `json:"value"`
}

// Summary aggregates the performance of a single-symbol run.
//
// CapitalBase is the capital the strategy can commit (LotSizeUSD × MaxLots);
// returns and the equity curve are measured against it. Pointer metrics are
// nil when the series is too short to compute them.
type Summary struct {
	CapitalBase        float64  `json:"capitalBase"`
	TotalReturn        float64  `json:"totalReturn"`
	TimeWeightedReturn float64  `json:"timeWeightedReturn"`
	RealizedPnL        float64  `json:"realizedPnl"`
	UnrealizedPnL      float64  `json:"unrealizedPnl"`
	FeesPaid           float64  `json:"feesPaid"`
	FinalEquity        float64  `json:"finalEquity"`
	MaxDrawdown        *float64 `json:"maxDrawdown"`
	SharpeRatio        *float64 `json:"sharpeRatio"`
	TradingDays        int      `json:"tradingDays"`
	Counters           Counters `json:"counters"`
}

// Baseline is the buy-and-hold benchmark: the full capital base invested at
// the first usable close and held to the end of the run.
type Baseline struct {
	EntryPrice  float64  `json:"entryPrice"`
	Shares      float64  `json:"shares"`
	FinalValue  float64  `json:"finalValue"`
	TotalReturn float64  `json:"totalReturn"`
	CAGR        *float64 `json:"cagr"`
	MaxDrawdown *float64 `json:"maxDrawdown"`
}

// SingleRunResult is the complete output of one single-symbol backtest.
// When the context ends mid-run the result covers the days processed so far
// and Cancelled or DeadlineExceeded is set; no day is partially applied.
type SingleRunResult struct {
	Symbol           string               `json:"symbol"`
	Params           domain.Params        `json:"params"`
	StartDate        domain.Date          `json:"startDate"`
	EndDate          domain.Date          `json:"endDate"`
	Transactions     []domain.Transaction `json:"transactions"`
	OpenLots         []domain.Lot         `json:"openLots"`
	Summary          Summary              `json:"summary"`
	Baseline         *Baseline            `json:"baseline"`
	EquityCurve      []EquityPoint        `json:"equityCurve"`
	Cancelled        bool                 `json:"cancelled"`
	DeadlineExceeded bool                 `json:"deadlineExceeded"`
}

// Engine runs single-symbol backtests. It is stateless across runs and safe
// for concurrent use; each Run builds its own SymbolEngine.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates a simulation engine.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("component", "simulation").Logger()}
}

// Run executes the daily pipeline over the full bar series and assembles
// the result. The context is checked between days only, so a cancelled run
// still ends on a day boundary.
func (e *Engine) Run(ctx context.Context, symbol string, params domain.Params, bars []domain.DailyBar) (*SingleRunResult, error) {
	started := time.Now()

	sym, err := NewSymbolEngine(symbol, params, bars, e.log)
	if err != nil {
		metrics.SimulationsTotal.WithLabelValues("single", "error").Inc()
		return nil, err
	}

	res := &SingleRunResult{
		Symbol:      symbol,
		Params:      params,
		StartDate:   bars[0].Date,
		EndDate:     bars[len(bars)-1].Date,
		EquityCurve: make([]EquityPoint, 0, len(bars)),
	}

	for _, d := range sym.Dates() {
		if stop := e.checkContext(ctx, res); stop {
			break
		}

		if err := e.runDay(sym, d, res); err != nil {
			metrics.SimulationsTotal.WithLabelValues("single", "error").Inc()
			return nil, err
		}
	}

	e.finalize(sym, res)
	e.observe("single", started, res)

	e.log.Debug().
		Str("symbol", symbol).
		Int("tradingDays", res.Summary.TradingDays).
		Int("buys", res.Summary.Counters.BuyCount).
		Int("sells", res.Summary.Counters.SellCount).
		Float64("totalReturn", res.Summary.TotalReturn).
		Bool("cancelled", res.Cancelled).
		Msg("single run finished")

	return res, nil
}

// runDay advances one trading day through the pipeline phases in binding
// order: observe, protect, acquire, re-arm. Standalone runs have no cash
// arbiter, so every gate-approved entry commits immediately.
func (e *Engine) runDay(sym *SymbolEngine, d domain.Date, res *SingleRunResult) error {
	_, ok, err := sym.BeginDay(d)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	sym.EvaluateExit()
	if cand := sym.EvaluateEntry(); cand != nil {
		sym.CommitEntry(cand)
	}
	sym.Rearm()

	res.EquityCurve = append(res.EquityCurve, EquityPoint{
		Date:  d,
		Value: capitalBase(sym.Params()) + sym.RealizedPnL() + sym.UnrealizedPnL() - sym.FeesPaid(),
	})
	return nil
}

// checkContext reports whether the run should stop, setting the partial
// result flags when it should.
func (e *Engine) checkContext(ctx context.Context, res *SingleRunResult) bool {
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.DeadlineExceeded = true
		} else {
			res.Cancelled = true
		}
		return true
	default:
		return false
	}
}

func (e *Engine) finalize(sym *SymbolEngine, res *SingleRunResult) {
	res.Transactions = sym.Transactions()
	res.OpenLots = sym.OpenLots()

	base := capitalBase(sym.Params())
	realized := sym.RealizedPnL()
	unrealized := sym.UnrealizedPnL()
	fees := sym.FeesPaid()

	values := equityValues(res.EquityCurve)

	s := Summary{
		CapitalBase:   base,
		RealizedPnL:   realized,
		UnrealizedPnL: unrealized,
		FeesPaid:      fees,
		FinalEquity:   base + realized + unrealized - fees,
		MaxDrawdown:   formulas.CalculateMaxDrawdown(values),
		SharpeRatio:   formulas.CalculateSharpeFromValues(values, 0),
		TradingDays:   len(values),
		Counters:      sym.Counters(),
	}
	if base > 0 {
		s.TotalReturn = (realized + unrealized - fees) / base
	}
	s.TimeWeightedReturn = compoundReturn(base, values)
	res.Summary = s

	res.Baseline = buyAndHold(sym, base)

	for _, txn := range res.Transactions {
		metrics.TransactionsTotal.WithLabelValues(string(txn.Kind)).Inc()
	}
}

func (e *Engine) observe(kind string, started time.Time, res *SingleRunResult) {
	outcome := "completed"
	switch {
	case res.Cancelled:
		outcome = "cancelled"
	case res.DeadlineExceeded:
		outcome = "deadline"
	}
	metrics.SimulationsTotal.WithLabelValues(kind, outcome).Inc()
	metrics.SimulationDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
}

// capitalBase is the capital a single-symbol strategy can deploy.
func capitalBase(p domain.Params) float64 {
	return p.LotSizeUSD * float64(p.MaxLots)
}

func equityValues(curve []EquityPoint) []float64 {
	values := make([]float64, len(curve))
	for i, p := range curve {
		values[i] = p.Value
	}
	return values
}

// compoundReturn chains the daily returns of the equity series starting
// from the initial capital. With no external flows this is the
// time-weighted return of the run.
func compoundReturn(initial float64, values []float64) float64 {
	if initial <= 0 || len(values) == 0 {
		return 0
	}
	growth := 1.0
	prev := initial
	for _, v := range values {
		if prev > 0 {
			growth *= v / prev
		}
		prev = v
	}
	return growth - 1
}

// buyAndHold values the capital base invested at the first usable close and
// held across the run's trading days. Nil when no day had a usable price.
func buyAndHold(sym *SymbolEngine, base float64) *Baseline {
	closes := domain.Closes(sym.bars, sym.params.UseAdjustedClose)

	var entry float64
	values := make([]float64, 0, len(closes))
	for _, c := range closes {
		if c <= 0 {
			continue
		}
		if entry == 0 {
			entry = c
		}
		values = append(values, base/entry*c)
	}
	if entry == 0 || base <= 0 {
		return nil
	}

	final := values[len(values)-1]
	return &Baseline{
		EntryPrice:  entry,
		Shares:      base / entry,
		FinalValue:  final,
		TotalReturn: final/base - 1,
		CAGR:        formulas.CalculateCAGRFromSeries(values),
		MaxDrawdown: formulas.CalculateMaxDrawdown(values),
	}
}
