package simulation

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/domain"
)

// Counters tallies executions, gate blocks, and stop cancellations for one
// symbol run. Gate blocks are counted rather than emitted as transactions
// because they occur on most days. Entry-side counters use the buy
// vocabulary and exit-side counters the sell vocabulary; short mode maps
// its mirrored flows onto the same fields.
type Counters struct {
	BuyCount              int `json:"buyCount"`
	SellCount             int `json:"sellCount"`
	BuysBlockedByMaxLots  int `json:"buysBlockedByMaxLots"`
	BuysBlockedByGrid     int `json:"buysBlockedByGrid"`
	BuysBlockedByMomentum int `json:"buysBlockedByMomentum"`
	BuysBlockedByTrend    int `json:"buysBlockedByTrend"`
	SellsBlockedByProfit  int `json:"sellsBlockedByProfit"`
	SellsBlockedByTrend   int `json:"sellsBlockedByTrend"`
	BuysRejectedByCapital int `json:"buysRejectedByCapital"`
	BuyStopsCancelled     int `json:"buyStopsCancelled"`
	SellStopsCancelled    int `json:"sellStopsCancelled"`
	DaysSkipped           int `json:"daysSkipped"`
}

// EntryCandidate is a gate-approved entry awaiting cash admission. The stop
// machine has already fired and reset by the time a candidate is reported;
// rejecting it must not touch the lot ledger.
type EntryCandidate struct {
	Symbol       string
	Date         domain.Date
	Price        float64
	Shares       float64
	CostBasis    float64
	RequiredCash float64 // cost basis plus the per-trade fee
}

// ExitExecution reports a committed exit so the coordinator can move cash:
// the freed cost basis plus realized P&L flow back to the reserve.
type ExitExecution struct {
	Txn             domain.Transaction
	ClosedCostBasis float64
	Proceeds        float64
	Realized        float64
	Fee             float64
}

// SymbolEngine drives one symbol's bars through the daily pipeline.
//
// The pipeline phases are exposed as separate methods in their binding
// order: BeginDay (observe), EvaluateExit (protect), EvaluateEntry
// (acquire), CommitEntry or RejectEntry, Rearm. Extremes observation never
// interleaves with execution checks. Engine.Run wires the phases together
// for standalone runs; the portfolio coordinator interposes cash admission
// between EvaluateEntry and CommitEntry.
//
// In long mode the buy machine opens lots and the sell machine closes
// them. Short mode is the mirror image: the sell machine opens cover
// positions on rallies, the buy machine closes them on dips, and the grid
// and profit inequalities flip. Parameters bind to the machine of their
// market side (trailingBuy* to the buy machine) in both modes.
type SymbolEngine struct {
	symbol string
	params domain.Params
	log    zerolog.Logger

	bars    []domain.DailyBar
	closes  []float64
	trends  []trend
	dateIdx map[string]int

	ledger domain.LotLedger
	buy    buyStop
	sell   sellStop

	idx          int // index of the day being processed
	lastIdx      int
	price        float64 // decision price of the day being processed
	lastPrice    float64 // last positive decision price seen
	recentPeak   float64
	recentTrough float64
	observed     bool

	firstTradePrice    float64
	consecutiveEntries int // entries since the last exit
	consecutiveExits   int // exits since the last entry

	counters    Counters
	txns        []domain.Transaction
	realizedPnL float64
	feesPaid    float64
	invested    float64 // Σ cost basis of every entry over the run
}

// NewSymbolEngine validates the inputs and prepares the per-day pipeline.
// Bars must be strictly ascending by date; the trend series is precomputed
// once so the day loop stays pure CPU.
func NewSymbolEngine(symbol string, params domain.Params, bars []domain.DailyBar, log zerolog.Logger) (*SymbolEngine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, &domain.NotFoundError{Symbol: symbol}
	}

	dateIdx := make(map[string]int, len(bars))
	for i, b := range bars {
		if i > 0 && !bars[i-1].Date.Before(b.Date) {
			return nil, &domain.ValidationError{
				Field:   "bars",
				Message: "dates must be strictly ascending, got " + bars[i-1].Date.String() + " before " + b.Date.String(),
			}
		}
		dateIdx[b.Date.Key()] = i
	}

	closes := domain.Closes(bars, params.UseAdjustedClose)

	return &SymbolEngine{
		symbol:  symbol,
		params:  params,
		log:     log.With().Str("symbol", symbol).Logger(),
		bars:    bars,
		closes:  closes,
		trends:  computeTrends(closes, params.TrendWindow),
		dateIdx: dateIdx,
		lastIdx: -1,
	}, nil
}

// Symbol returns the symbol this engine trades.
func (e *SymbolEngine) Symbol() string { return e.symbol }

// Params returns the effective parameter set of the run.
func (e *SymbolEngine) Params() domain.Params { return e.params }

// Dates returns the trading dates of the underlying series in order.
func (e *SymbolEngine) Dates() []domain.Date {
	out := make([]domain.Date, len(e.bars))
	for i, b := range e.bars {
		out[i] = b.Date
	}
	return out
}

// HasDate reports whether the symbol traded on the given day.
func (e *SymbolEngine) HasDate(d domain.Date) bool {
	_, ok := e.dateIdx[d.Key()]
	return ok
}

// BeginDay runs the observe phase for the given date. It returns the
// decision price and false when the symbol has no bar that day or the
// price is non-positive (the day is skipped with a warning, not failed).
// A date at or before an already-processed one is an internal invariant
// violation.
func (e *SymbolEngine) BeginDay(d domain.Date) (float64, bool, error) {
	i, ok := e.dateIdx[d.Key()]
	if !ok {
		return 0, false, nil
	}
	if i <= e.lastIdx {
		return 0, false, &domain.InternalInvariantError{
			Detail:   "day pipeline visited " + d.String() + " out of order",
			Snapshot: e.snapshot(),
		}
	}
	e.idx = i
	e.lastIdx = i

	price := e.closes[i]
	if price <= 0 {
		e.counters.DaysSkipped++
		e.log.Warn().Str("date", d.String()).Float64("price", price).Msg("non-positive price, skipping day")
		return 0, false, nil
	}
	e.price = price
	e.lastPrice = price

	// Observe: extremes update before any execution check.
	if !e.observed {
		e.recentPeak = price
		e.recentTrough = price
		e.observed = true
	} else {
		if price > e.recentPeak {
			e.recentPeak = price
		}
		if price < e.recentTrough {
			e.recentTrough = price
		}
	}
	return price, true, nil
}

// EvaluateExit runs the protect phase: it drives the exit-side stop machine
// and, on fire, applies the profit and directional gates. A passing fire
// closes lots FIFO up to maxLotsToSell and is committed to the ledger
// immediately; the returned execution carries the cash movement.
func (e *SymbolEngine) EvaluateExit() *ExitExecution {
	if e.ledger.Len() == 0 {
		return nil
	}

	var event stopEvent
	if e.short() {
		event = e.buy.step(e.price, e.params.TrailingStopOrderType)
		if event == stopCancelled {
			e.counters.BuyStopsCancelled++
		}
	} else {
		event = e.sell.step(e.price, e.params.TrailingStopOrderType)
		if event == stopCancelled {
			e.counters.SellStopsCancelled++
		}
	}
	if event != stopFired {
		return nil
	}

	// Profit gate: the close must clear average cost by the effective
	// requirement (below it for shorts).
	avgCost := e.ledger.AvgCost()
	required := effectiveProfit(e.params, e.price, e.firstTradePrice, e.consecutiveExits)
	pass := e.price >= avgCost*(1+required)
	if e.short() {
		pass = e.price <= avgCost*(1-required)
	}
	if !pass {
		e.counters.SellsBlockedByProfit++
		if e.params.MomentumBasedSell {
			e.log.Debug().
				Str("date", e.date().String()).
				Float64("price", e.price).
				Float64("avgCost", avgCost).
				Float64("required", required).
				Msg("exit trigger discarded below profit requirement")
		}
		return nil
	}

	if reason := e.directionalBlock(e.short()); reason != "" {
		e.counters.SellsBlockedByTrend++
		e.log.Debug().Str("date", e.date().String()).Str("reason", reason).Msg("exit blocked by directional gate")
		return nil
	}

	closed, realized := e.ledger.CloseFIFO(e.params.MaxLotsToSell, e.price)
	if e.short() {
		realized = -realized
	}

	var shares, closedCost float64
	for _, lot := range closed {
		shares += lot.Shares
		closedCost += lot.CostBasis
	}

	kind := domain.TxnTrailingSell
	if e.short() {
		kind = domain.TxnTrailingBuy
	}
	pnl := realized
	txn := domain.Transaction{
		Date:         e.date(),
		Symbol:       e.symbol,
		Kind:         kind,
		Price:        e.price,
		Shares:       shares,
		Value:        e.price * shares,
		LotsAffected: len(closed),
		RealizedPnL:  &pnl,
	}
	e.txns = append(e.txns, txn)

	e.counters.SellCount++
	e.consecutiveExits++
	e.consecutiveEntries = 0
	e.realizedPnL += realized
	e.feesPaid += e.params.FeePerTrade
	e.resetExtremes()

	return &ExitExecution{
		Txn:             txn,
		ClosedCostBasis: closedCost,
		Proceeds:        closedCost + realized,
		Realized:        realized,
		Fee:             e.params.FeePerTrade,
	}
}

// EvaluateEntry runs the acquire phase: it drives the entry-side stop
// machine and, on fire, applies the gates in order (lot cap, grid,
// momentum, directional). All gates passing yields a candidate; nothing is
// committed until CommitEntry.
func (e *SymbolEngine) EvaluateEntry() *EntryCandidate {
	var event stopEvent
	if e.short() {
		event = e.sell.step(e.price, e.params.TrailingStopOrderType)
		if event == stopCancelled {
			e.counters.SellStopsCancelled++
		}
	} else {
		event = e.buy.step(e.price, e.params.TrailingStopOrderType)
		if event == stopCancelled {
			e.counters.BuyStopsCancelled++
		}
	}
	if event != stopFired {
		return nil
	}

	if e.ledger.Len() >= e.params.MaxLots {
		e.counters.BuysBlockedByMaxLots++
		return nil
	}

	if last := e.ledger.Last(); last != nil {
		required := effectiveGrid(e.params, e.price, e.firstTradePrice, e.consecutiveEntries)
		pass := e.price <= last.EntryPrice*(1-required)
		if e.short() {
			pass = e.price >= last.EntryPrice*(1+required)
		}
		if !pass {
			e.counters.BuysBlockedByGrid++
			return nil
		}
	}

	if e.params.MomentumBasedBuy && e.ledger.Len() > 0 {
		if e.unrealizedAt(e.price) <= 0 {
			e.counters.BuysBlockedByMomentum++
			return nil
		}
	}

	if reason := e.directionalBlock(!e.short()); reason != "" {
		e.counters.BuysBlockedByTrend++
		e.log.Debug().Str("date", e.date().String()).Str("reason", reason).Msg("entry blocked by directional gate")
		return nil
	}

	return &EntryCandidate{
		Symbol:       e.symbol,
		Date:         e.date(),
		Price:        e.price,
		Shares:       e.params.LotSizeUSD / e.price,
		CostBasis:    e.params.LotSizeUSD,
		RequiredCash: e.params.LotSizeUSD + e.params.FeePerTrade,
	}
}

// CommitEntry opens the candidate's lot and returns the transaction.
func (e *SymbolEngine) CommitEntry(c *EntryCandidate) domain.Transaction {
	e.ledger.Append(domain.Lot{
		EntryDate:  c.Date,
		EntryPrice: c.Price,
		Shares:     c.Shares,
		CostBasis:  c.CostBasis,
	})
	if e.firstTradePrice == 0 {
		e.firstTradePrice = c.Price
	}

	kind := domain.TxnTrailingBuy
	if e.short() {
		kind = domain.TxnTrailingSell
	}
	txn := domain.Transaction{
		Date:         c.Date,
		Symbol:       e.symbol,
		Kind:         kind,
		Price:        c.Price,
		Shares:       c.Shares,
		Value:        c.CostBasis,
		LotsAffected: 1,
	}
	e.txns = append(e.txns, txn)

	e.counters.BuyCount++
	e.consecutiveEntries++
	e.consecutiveExits = 0
	e.invested += c.CostBasis
	e.feesPaid += e.params.FeePerTrade
	e.resetExtremes()

	return txn
}

// RejectEntry records an admission denial. The ledger and the extremes are
// untouched: a rejection is data, not activity.
func (e *SymbolEngine) RejectEntry(c *EntryCandidate, reason string) domain.Transaction {
	txn := domain.Transaction{
		Date:   c.Date,
		Symbol: e.symbol,
		Kind:   domain.TxnRejected,
		Price:  c.Price,
		Shares: c.Shares,
		Value:  c.CostBasis,
		Reason: reason,
	}
	e.txns = append(e.txns, txn)
	e.counters.BuysRejectedByCapital++
	return txn
}

// Rearm runs the final phase: an inactive machine whose activation
// condition holds at today's close arms for the next day. The exit machine
// only arms while lots are open.
func (e *SymbolEngine) Rearm() {
	p := e.params
	if e.ledger.Len() > 0 {
		if e.short() {
			if e.buy.shouldArm(e.price, e.recentPeak, p.TrailingBuyActivationPercent) {
				e.buy.arm(e.recentPeak, e.price, p.TrailingBuyActivationPercent, p.TrailingBuyReboundPercent)
			}
		} else if e.sell.shouldArm(e.price, e.recentTrough, p.TrailingSellActivationPercent) {
			e.sell.arm(e.recentTrough, e.price, p.TrailingSellActivationPercent, p.TrailingSellPullbackPercent)
		}
	}

	if e.short() {
		if e.sell.shouldArm(e.price, e.recentTrough, p.TrailingSellActivationPercent) {
			e.sell.arm(e.recentTrough, e.price, p.TrailingSellActivationPercent, p.TrailingSellPullbackPercent)
		}
	} else if e.buy.shouldArm(e.price, e.recentPeak, p.TrailingBuyActivationPercent) {
		e.buy.arm(e.recentPeak, e.price, p.TrailingBuyActivationPercent, p.TrailingBuyReboundPercent)
	}
}

// Liquidate force-closes every open lot at the given day's close (falling
// back to the last seen price when the symbol has no bar that day). Used
// by the coordinator on index removal. Returns nil when nothing is open.
func (e *SymbolEngine) Liquidate(d domain.Date) *ExitExecution {
	if e.ledger.Len() == 0 {
		return nil
	}

	price := e.lastPrice
	if i, ok := e.dateIdx[d.Key()]; ok {
		if p := e.closes[i]; p > 0 {
			price = p
		}
	}
	if price <= 0 {
		e.log.Warn().Str("date", d.String()).Msg("liquidation without a usable price, skipping")
		return nil
	}

	shares := e.ledger.OpenShares()
	closed, realized := e.ledger.CloseAll(price)
	if e.short() {
		realized = -realized
	}
	var closedCost float64
	for _, lot := range closed {
		closedCost += lot.CostBasis
	}

	pnl := realized
	txn := domain.Transaction{
		Date:         d,
		Symbol:       e.symbol,
		Kind:         domain.TxnLiquidation,
		Price:        price,
		Shares:       shares,
		Value:        price * shares,
		LotsAffected: len(closed),
		RealizedPnL:  &pnl,
		Reason:       domain.ReasonIndexRemoval,
	}
	e.txns = append(e.txns, txn)

	e.realizedPnL += realized
	e.buy.reset()
	e.sell.reset()
	e.recentPeak = price
	e.recentTrough = price

	return &ExitExecution{
		Txn:             txn,
		ClosedCostBasis: closedCost,
		Proceeds:        closedCost + realized,
		Realized:        realized,
	}
}

// OpenLots returns a copy of the open lot ledger.
func (e *SymbolEngine) OpenLots() []domain.Lot { return e.ledger.Snapshot() }

// OpenLotCount returns the number of open lots.
func (e *SymbolEngine) OpenLotCount() int { return e.ledger.Len() }

// OpenCostBasis returns the cost basis currently deployed in open lots.
func (e *SymbolEngine) OpenCostBasis() float64 { return e.ledger.OpenCostBasis() }

// UnrealizedPnL marks the open lots against the last seen price.
func (e *SymbolEngine) UnrealizedPnL() float64 { return e.unrealizedAt(e.lastPrice) }

// MarketValue is the deployed cost basis plus unrealized P&L. For long
// positions this equals shares times price; for shorts it is the posted
// basis adjusted by the inverse price move.
func (e *SymbolEngine) MarketValue() float64 {
	return e.ledger.OpenCostBasis() + e.UnrealizedPnL()
}

// Counters returns the accumulated counters.
func (e *SymbolEngine) Counters() Counters { return e.counters }

// Transactions returns the symbol's transaction log in emit order.
func (e *SymbolEngine) Transactions() []domain.Transaction { return e.txns }

// RealizedPnL returns the cumulative realized P&L.
func (e *SymbolEngine) RealizedPnL() float64 { return e.realizedPnL }

// FeesPaid returns the cumulative per-trade fees.
func (e *SymbolEngine) FeesPaid() float64 { return e.feesPaid }

// Invested returns the cost basis of every entry over the run.
func (e *SymbolEngine) Invested() float64 { return e.invested }

// LastPrice returns the most recent positive decision price.
func (e *SymbolEngine) LastPrice() float64 { return e.lastPrice }

func (e *SymbolEngine) short() bool {
	return e.params.StrategyMode == domain.ModeShort
}

func (e *SymbolEngine) date() domain.Date {
	return e.bars[e.idx].Date
}

func (e *SymbolEngine) unrealizedAt(price float64) float64 {
	pnl := e.ledger.UnrealizedPnL(price)
	if e.short() {
		return -pnl
	}
	return pnl
}

// directionalBlock applies the market-side directional gate: buy-machine
// executions are blocked in a short-term uptrend unless adaptive trailing
// buy is enabled, sell-machine executions in a downtrend unless adaptive
// trailing sell is enabled. It returns the block reason or "".
func (e *SymbolEngine) directionalBlock(buySide bool) string {
	if buySide {
		if e.trends[e.idx] == trendUp && !e.params.EnableAdaptiveTrailingBuy {
			return domain.ReasonDowntrendOnly
		}
		return ""
	}
	if e.trends[e.idx] == trendDown && !e.params.EnableAdaptiveTrailingSell {
		return domain.ReasonUptrendOnly
	}
	return ""
}

// resetExtremes restarts the arming lookback after activity: the next
// arming measures from post-trade extremes.
func (e *SymbolEngine) resetExtremes() {
	e.recentPeak = e.price
	e.recentTrough = e.price
}

func (e *SymbolEngine) snapshot() string {
	return fmt.Sprintf("symbol=%s lastIdx=%d openLots=%d buyArmed=%t sellArmed=%t",
		e.symbol, e.lastIdx, e.ledger.Len(), e.buy.armed, e.sell.armed)
}
