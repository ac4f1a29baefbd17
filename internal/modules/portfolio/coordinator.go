// Package portfolio runs many symbol engines in lockstep over a shared cash
// reserve. Symbols trade independently but compete for capital: the
// coordinator defers every gate-approved buy to a serial admission step, so
// the same cash dollar is never committed twice on one day.
package portfolio

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/domain"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/metrics"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/simulation"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/pkg/formulas"
)

// MembershipAction says what a membership event does to the roster.
type MembershipAction string

const (
	MembershipAdd    MembershipAction = "add"
	MembershipRemove MembershipAction = "remove"
)

// MembershipEvent changes the active roster on a given day. Additions start
// the symbol with an empty ledger; removals force-liquidate every open lot
// at that day's close and drop the symbol from daily processing. Events for
// the same day apply in the order given.
type MembershipEvent struct {
	Date   domain.Date      `json:"date"`
	Symbol string           `json:"symbol"`
	Action MembershipAction `json:"action"`
}

// Config describes one portfolio run. Params is the shared strategy
// parameter set; TickerOverrides layers per-symbol adjustments on top of it.
type Config struct {
	Symbols      []string `json:"symbols"`
	TotalCapital float64  `json:"totalCapital"`

	// MarginFraction > 0 lets admissions borrow beyond the cash reserve,
	// up to TotalCapital*MarginFraction of debt.
	MarginFraction float64 `json:"marginFraction,omitempty"`

	Params           domain.Params                    `json:"params"`
	TickerOverrides  map[string]domain.ParamsOverride `json:"tickerOverrides,omitempty"`
	MembershipEvents []MembershipEvent                `json:"membershipEvents,omitempty"`

	// EnableDeferredSelling reserves the sell-pairing hook. The queue is
	// carried through the run but nothing enqueues into it yet.
	EnableDeferredSelling bool `json:"enableDeferredSelling,omitempty"`
}

// Participants lists every symbol that may trade during the run: the
// configured roster plus membership additions, in first-seen order. Callers
// prefetching price series should fetch exactly this set.
func (c Config) Participants() []string {
	seen := make(map[string]bool, len(c.Symbols))
	out := make([]string, 0, len(c.Symbols))
	for _, sym := range c.Symbols {
		if !seen[sym] {
			seen[sym] = true
			out = append(out, sym)
		}
	}
	for _, ev := range c.MembershipEvents {
		if ev.Action == MembershipAdd && !seen[ev.Symbol] {
			seen[ev.Symbol] = true
			out = append(out, ev.Symbol)
		}
	}
	return out
}

// DeferredSell is a postponed exit awaiting a pairing decision. Reserved for
// the deferred-selling mechanism; no coordinator path populates it yet.
type DeferredSell struct {
	Symbol string      `json:"symbol"`
	Date   domain.Date `json:"date"`
}

// CapitalPoint is one day of the portfolio capital series. Equity is cash
// plus the mark-to-market value of every open position.
type CapitalPoint struct {
	Date     domain.Date `json:"date"`
	Cash     float64     `json:"cash"`
	Deployed float64     `json:"deployed"`
	Equity   float64     `json:"equity"`
}

// SymbolResult is one symbol's slice of the portfolio run.
type SymbolResult struct {
	Symbol        string               `json:"symbol"`
	Params        domain.Params        `json:"params"`
	Transactions  []domain.Transaction `json:"transactions"`
	OpenLots      []domain.Lot         `json:"openLots"`
	RealizedPnL   float64              `json:"realizedPnl"`
	UnrealizedPnL float64              `json:"unrealizedPnl"`
	FeesPaid      float64              `json:"feesPaid"`
	Counters      simulation.Counters  `json:"counters"`
}

// Summary aggregates the portfolio run. TotalReturn measures final equity
// against the configured capital.
type Summary struct {
	TotalCapital  float64  `json:"totalCapital"`
	FinalCash     float64  `json:"finalCash"`
	FinalDeployed float64  `json:"finalDeployed"`
	FinalEquity   float64  `json:"finalEquity"`
	TotalReturn   float64  `json:"totalReturn"`
	RealizedPnL   float64  `json:"realizedPnl"`
	UnrealizedPnL float64  `json:"unrealizedPnl"`
	FeesPaid      float64  `json:"feesPaid"`
	MaxDrawdown   *float64 `json:"maxDrawdown"`
	TradingDays   int      `json:"tradingDays"`
	BuyCount      int      `json:"buyCount"`
	SellCount     int      `json:"sellCount"`
	RejectedBuys  int      `json:"rejectedBuys"`
	Liquidations  int      `json:"liquidations"`
	SharpeRatio   *float64 `json:"sharpeRatio"`
}

// PortfolioResult is the complete output of a portfolio run. Symbols are
// sorted; RejectedOrders and Liquidations are in emit order. When the
// context ends mid-run the result covers the days processed so far and
// Cancelled or DeadlineExceeded is set; no day is partially applied.
type PortfolioResult struct {
	StartDate        domain.Date          `json:"startDate"`
	EndDate          domain.Date          `json:"endDate"`
	Symbols          []SymbolResult       `json:"symbols"`
	SkippedSymbols   []string             `json:"skippedSymbols,omitempty"`
	CapitalSeries    []CapitalPoint       `json:"capitalSeries"`
	RejectedOrders   []domain.Transaction `json:"rejectedOrders"`
	Liquidations     []domain.Transaction `json:"liquidations"`
	DeferredSells    []DeferredSell       `json:"deferredSells,omitempty"`
	Summary          Summary              `json:"summary"`
	Cancelled        bool                 `json:"cancelled"`
	DeadlineExceeded bool                 `json:"deadlineExceeded"`
}

// Coordinator runs multi-symbol backtests against a shared cash reserve. It
// is stateless across runs and safe for concurrent use.
type Coordinator struct {
	log zerolog.Logger
}

// NewCoordinator creates a portfolio coordinator.
func NewCoordinator(log zerolog.Logger) *Coordinator {
	return &Coordinator{log: log.With().Str("component", "portfolio").Logger()}
}

// Run executes the lockstep day loop over the union of all symbols' trading
// dates. Per day: membership events, observe and protect every active
// symbol (exit proceeds credit cash immediately), collect entry candidates,
// admit them serially against the reserve, re-arm, then verify the capital
// invariant. The context is checked between days only.
func (c *Coordinator) Run(ctx context.Context, cfg Config, series map[string][]domain.DailyBar) (*PortfolioResult, error) {
	started := time.Now()

	r, err := c.newRun(cfg, series)
	if err != nil {
		metrics.SimulationsTotal.WithLabelValues("portfolio", "error").Inc()
		return nil, err
	}

	for _, d := range r.dates {
		if stop := checkContext(ctx, r.res); stop {
			break
		}

		if err := r.day(d); err != nil {
			metrics.SimulationsTotal.WithLabelValues("portfolio", "error").Inc()
			return nil, err
		}
	}

	r.finalize()
	c.observe(started, r.res)

	c.log.Debug().
		Int("symbols", len(r.engines)).
		Int("skipped", len(r.res.SkippedSymbols)).
		Int("tradingDays", r.res.Summary.TradingDays).
		Int("rejectedBuys", r.res.Summary.RejectedBuys).
		Float64("finalEquity", r.res.Summary.FinalEquity).
		Bool("cancelled", r.res.Cancelled).
		Msg("portfolio run finished")

	return r.res, nil
}

func (c *Coordinator) observe(started time.Time, res *PortfolioResult) {
	outcome := "completed"
	switch {
	case res.Cancelled:
		outcome = "cancelled"
	case res.DeadlineExceeded:
		outcome = "deadline"
	}
	metrics.SimulationsTotal.WithLabelValues("portfolio", outcome).Inc()
	metrics.SimulationDuration.WithLabelValues("portfolio").Observe(time.Since(started).Seconds())
}

func checkContext(ctx context.Context, res *PortfolioResult) bool {
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

// portfolioRun is the mutable state of one Run call.
//
// cash and deployed are the two halves of the capital ledger; total is the
// running book value they must sum to. Realized P&L and fees mirror into
// total on every execution, so any drift between the halves and the book is
// a genuine leak, not strategy performance.
type portfolioRun struct {
	cfg Config
	log zerolog.Logger

	engines map[string]*simulation.SymbolEngine
	active  map[string]bool
	events  map[string][]MembershipEvent
	dates   []domain.Date
	eps     float64

	cash     float64
	deployed float64
	total    float64

	deferred []DeferredSell // reserved queue, never populated

	res *PortfolioResult
}

func (c *Coordinator) newRun(cfg Config, series map[string][]domain.DailyBar) (*portfolioRun, error) {
	if len(cfg.Symbols) == 0 {
		return nil, &domain.ValidationError{Field: "symbols", Message: "at least one symbol is required"}
	}
	if cfg.TotalCapital <= 0 {
		return nil, &domain.ValidationError{Field: "totalCapital", Message: "must be positive"}
	}
	if cfg.MarginFraction < 0 {
		return nil, &domain.ValidationError{Field: "marginFraction", Message: "must not be negative"}
	}

	r := &portfolioRun{
		cfg:     cfg,
		log:     c.log,
		engines: make(map[string]*simulation.SymbolEngine),
		active:  make(map[string]bool),
		events:  make(map[string][]MembershipEvent),
		cash:    cfg.TotalCapital,
		total:   cfg.TotalCapital,
		res:     &PortfolioResult{},
	}

	// The roster is the configured symbols; add events can bring in
	// symbols not on it. Every participant needs an engine up front.
	roster := make(map[string]bool, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		roster[sym] = true
	}
	participants := make(map[string]bool, len(roster))
	for sym := range roster {
		participants[sym] = true
	}
	for _, ev := range cfg.MembershipEvents {
		if ev.Action == MembershipAdd {
			participants[ev.Symbol] = true
		}
	}

	skipped := make(map[string]bool)
	for sym := range participants {
		bars := series[sym]
		if len(bars) == 0 {
			skipped[sym] = true
			r.log.Warn().Str("symbol", sym).Msg("no price data, skipping symbol")
			continue
		}
		eng, err := simulation.NewSymbolEngine(sym, r.effectiveParams(sym), bars, r.log)
		if err != nil {
			var nf *domain.NotFoundError
			if errors.As(err, &nf) {
				skipped[sym] = true
				continue
			}
			return nil, err
		}
		r.engines[sym] = eng
		if roster[sym] {
			r.active[sym] = true
		}
	}
	if len(r.engines) == 0 {
		return nil, &domain.NotFoundError{Symbol: cfg.Symbols[0]}
	}

	for sym := range skipped {
		r.res.SkippedSymbols = append(r.res.SkippedSymbols, sym)
	}
	sort.Strings(r.res.SkippedSymbols)

	r.dates = dateUnion(r.engines)
	r.res.StartDate = r.dates[0]
	r.res.EndDate = r.dates[len(r.dates)-1]
	r.res.CapitalSeries = make([]CapitalPoint, 0, len(r.dates))

	// Events land on the first trading day at or after their date, so a
	// weekend removal still liquidates on the next session.
	for _, ev := range cfg.MembershipEvents {
		i := sort.Search(len(r.dates), func(i int) bool {
			return !r.dates[i].Before(ev.Date)
		})
		if i == len(r.dates) {
			r.log.Warn().
				Str("symbol", ev.Symbol).
				Str("date", ev.Date.String()).
				Msg("membership event after last trading day, ignoring")
			continue
		}
		key := r.dates[i].Key()
		r.events[key] = append(r.events[key], ev)
	}

	// One cent of rounding slack per symbol-day.
	r.eps = 0.01 * float64(len(r.engines)) * float64(len(r.dates))

	return r, nil
}

func (r *portfolioRun) effectiveParams(symbol string) domain.Params {
	if ov, ok := r.cfg.TickerOverrides[symbol]; ok {
		return (&ov).Applied(r.cfg.Params)
	}
	return r.cfg.Params
}

// day advances every active symbol one trading day and settles the shared
// ledger: membership first, then all exits, then serial buy admission, then
// re-arming, then the capital invariant check.
func (r *portfolioRun) day(d domain.Date) error {
	r.applyMembership(d)

	traded := make([]string, 0, len(r.active))
	for _, sym := range r.activeSymbols() {
		eng := r.engines[sym]
		_, ok, err := eng.BeginDay(d)
		if err != nil {
			return err
		}
		if ok {
			traded = append(traded, sym)
		}
	}

	// Protect: exits across every symbol settle before any buy admission,
	// so cash freed today is spendable today.
	for _, sym := range traded {
		if exec := r.engines[sym].EvaluateExit(); exec != nil {
			r.cash += exec.Proceeds - exec.Fee
			r.deployed -= exec.ClosedCostBasis
			r.total += exec.Realized - exec.Fee
		}
	}

	var candidates []*simulation.EntryCandidate
	for _, sym := range traded {
		if cand := r.engines[sym].EvaluateEntry(); cand != nil {
			candidates = append(candidates, cand)
		}
	}
	r.admit(candidates)

	for _, sym := range traded {
		r.engines[sym].Rearm()
	}

	equity := r.cash
	for _, sym := range r.activeSymbols() {
		equity += r.engines[sym].MarketValue()
	}
	r.res.CapitalSeries = append(r.res.CapitalSeries, CapitalPoint{
		Date:     d,
		Cash:     r.cash,
		Deployed: r.deployed,
		Equity:   equity,
	})

	return r.checkInvariant(d)
}

func (r *portfolioRun) applyMembership(d domain.Date) {
	for _, ev := range r.events[d.Key()] {
		switch ev.Action {
		case MembershipAdd:
			if _, ok := r.engines[ev.Symbol]; ok && !r.active[ev.Symbol] {
				r.active[ev.Symbol] = true
				r.log.Info().Str("symbol", ev.Symbol).Str("date", d.String()).Msg("symbol added to portfolio")
			}
		case MembershipRemove:
			eng, ok := r.engines[ev.Symbol]
			if !ok || !r.active[ev.Symbol] {
				continue
			}
			if exec := eng.Liquidate(d); exec != nil {
				r.cash += exec.Proceeds
				r.deployed -= exec.ClosedCostBasis
				r.total += exec.Realized
				r.res.Liquidations = append(r.res.Liquidations, exec.Txn)
				r.log.Info().
					Str("symbol", ev.Symbol).
					Str("date", d.String()).
					Float64("proceeds", exec.Proceeds).
					Float64("realized", exec.Realized).
					Msg("symbol removed, position liquidated")
			}
			delete(r.active, ev.Symbol)
		default:
			r.log.Warn().Str("action", string(ev.Action)).Msg("unknown membership action, ignoring")
		}
	}
}

// admit settles the day's entry candidates against the cash reserve, one at
// a time: fewest open lots first, ties by symbol, so admission order never
// depends on map iteration. Margin extends the spendable reserve but never
// the recorded cash.
func (r *portfolioRun) admit(candidates []*simulation.EntryCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		li := r.engines[candidates[i].Symbol].OpenLotCount()
		lj := r.engines[candidates[j].Symbol].OpenLotCount()
		if li != lj {
			return li < lj
		}
		return candidates[i].Symbol < candidates[j].Symbol
	})

	borrowable := r.cfg.TotalCapital * r.cfg.MarginFraction
	for _, cand := range candidates {
		eng := r.engines[cand.Symbol]
		if cand.RequiredCash <= r.cash+borrowable {
			eng.CommitEntry(cand)
			r.cash -= cand.RequiredCash
			r.deployed += cand.CostBasis
			r.total -= cand.RequiredCash - cand.CostBasis // the fee
			continue
		}
		txn := eng.RejectEntry(cand, domain.ReasonInsufficientCash)
		r.res.RejectedOrders = append(r.res.RejectedOrders, txn)
		metrics.RejectedOrdersTotal.WithLabelValues(domain.ReasonInsufficientCash).Inc()
		r.log.Debug().
			Str("symbol", cand.Symbol).
			Str("date", cand.Date.String()).
			Float64("required", cand.RequiredCash).
			Float64("cash", r.cash).
			Msg("buy rejected, insufficient cash")
	}
}

// checkInvariant verifies the end-of-day capital identities. Any violation
// is fatal and reported as found; the ledger is never silently corrected.
func (r *portfolioRun) checkInvariant(d domain.Date) error {
	delta := r.deployed + r.cash - r.total

	leak := math.Abs(delta) > r.eps
	if r.cfg.MarginFraction > 0 {
		// Borrowed runs hold cash below zero legitimately; only a drop
		// below the book value or a breach of the deployment cap leaks.
		deployCap := r.cfg.TotalCapital * (1 + r.cfg.MarginFraction)
		leak = delta < -r.eps || r.deployed > deployCap+r.eps
	}

	if !leak {
		var basis float64
		for _, eng := range r.engines {
			basis += eng.OpenCostBasis()
		}
		if math.Abs(r.deployed-basis) > r.eps {
			delta = r.deployed - basis
			leak = true
		}
	}

	if leak {
		return &domain.CapitalLeakError{
			Day:     d,
			Delta:   delta,
			Cash:    r.cash,
			Deploy:  r.deployed,
			Total:   r.total,
			Symbols: r.activeSymbols(),
		}
	}
	return nil
}

func (r *portfolioRun) activeSymbols() []string {
	out := make([]string, 0, len(r.active))
	for sym := range r.active {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (r *portfolioRun) finalize() {
	symbols := make([]string, 0, len(r.engines))
	for sym := range r.engines {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	s := Summary{
		TotalCapital:  r.cfg.TotalCapital,
		FinalCash:     r.cash,
		FinalDeployed: r.deployed,
		RejectedBuys:  len(r.res.RejectedOrders),
		Liquidations:  len(r.res.Liquidations),
		TradingDays:   len(r.res.CapitalSeries),
	}

	for _, sym := range symbols {
		eng := r.engines[sym]
		r.res.Symbols = append(r.res.Symbols, SymbolResult{
			Symbol:        sym,
			Params:        eng.Params(),
			Transactions:  eng.Transactions(),
			OpenLots:      eng.OpenLots(),
			RealizedPnL:   eng.RealizedPnL(),
			UnrealizedPnL: eng.UnrealizedPnL(),
			FeesPaid:      eng.FeesPaid(),
			Counters:      eng.Counters(),
		})
		s.RealizedPnL += eng.RealizedPnL()
		s.UnrealizedPnL += eng.UnrealizedPnL()
		s.FeesPaid += eng.FeesPaid()
		s.BuyCount += eng.Counters().BuyCount
		s.SellCount += eng.Counters().SellCount

		for _, txn := range eng.Transactions() {
			metrics.TransactionsTotal.WithLabelValues(string(txn.Kind)).Inc()
		}
	}

	s.FinalEquity = r.cash + r.deployed
	values := make([]float64, len(r.res.CapitalSeries))
	for i, p := range r.res.CapitalSeries {
		values[i] = p.Equity
	}
	if len(values) > 0 {
		s.FinalEquity = values[len(values)-1]
	}
	s.TotalReturn = (s.FinalEquity - r.cfg.TotalCapital) / r.cfg.TotalCapital
	s.MaxDrawdown = formulas.CalculateMaxDrawdown(values)
	s.SharpeRatio = formulas.CalculateSharpeFromValues(values, 0)

	r.res.DeferredSells = r.deferred
	r.res.Summary = s
}

// dateUnion merges every engine's trading dates into one ascending axis.
func dateUnion(engines map[string]*simulation.SymbolEngine) []domain.Date {
	seen := make(map[string]domain.Date)
	for _, eng := range engines {
		for _, d := range eng.Dates() {
			seen[d.Key()] = d
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]domain.Date, len(keys))
	for i, k := range keys {
		out[i] = seen[k]
	}
	return out
}
