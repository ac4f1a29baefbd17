// Package batch sweeps parameter combinations: the cartesian product of the
// configured ranges, times the symbol list, each combination one independent
// single-symbol backtest on a bounded worker pool.
package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/domain"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/metrics"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/simulation"
)

const defaultTopK = 5

// ParameterRanges maps a parameter name (its JSON name, e.g.
// "gridIntervalPercent") to the values to sweep. Single-value ranges pin a
// parameter; multi-value ranges multiply the combination count.
type ParameterRanges map[string][]any

// Config describes one batch run. BaseParams seeds every combination; the
// ranges overwrite the swept fields.
type Config struct {
	Symbols    []string        `json:"symbols"`
	StartDate  domain.Date     `json:"startDate"`
	EndDate    domain.Date     `json:"endDate"`
	BaseParams domain.Params   `json:"baseParams"`
	Ranges     ParameterRanges `json:"parameterRanges,omitempty"`

	// Workers bounds the pool; zero means one worker per CPU.
	Workers int `json:"workers,omitempty"`

	// TopK sizes the per-symbol leaderboards; zero means 5.
	TopK int `json:"topK,omitempty"`
}

// Validate checks the sweep configuration without touching the provider:
// the symbol list, the date window, every ranged name, and every swept
// parameter set. A statically bad sweep fails here, before any prices are
// fetched.
func (c Config) Validate() error {
	if len(c.Symbols) == 0 {
		return &domain.ValidationError{Field: "symbols", Message: "at least one symbol is required"}
	}
	if c.StartDate.IsZero() || c.EndDate.IsZero() {
		return &domain.ValidationError{Field: "startDate", Message: "start and end dates are required"}
	}
	if c.EndDate.Before(c.StartDate) {
		return &domain.ValidationError{Field: "endDate", Message: "must not be before startDate"}
	}
	if err := validateRanges(c.Ranges); err != nil {
		return err
	}
	if err := c.BaseParams.Validate(); err != nil {
		return err
	}
	for _, a := range buildAssignments(c.Ranges) {
		params, err := applyAssignment(c.BaseParams, a)
		if err != nil {
			return err
		}
		if err := params.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// CombinationResult is one completed combination. Index is the position in
// the deterministic enumeration order (symbols in config order, ranged keys
// sorted, values in given order), independent of completion order.
type CombinationResult struct {
	Index    int                `json:"index"`
	Symbol   string             `json:"symbol"`
	Assigned map[string]any     `json:"assigned,omitempty"`
	Summary  simulation.Summary `json:"summary"`
}

// BatchResult is the aggregated output of a sweep. Results holds every
// completed combination sorted by total return descending (ties keep
// enumeration order); TopBySymbol is the per-symbol head of that ordering.
type BatchResult struct {
	Total            int                            `json:"total"`
	Completed        int                            `json:"completed"`
	Results          []CombinationResult            `json:"results"`
	TopBySymbol      map[string][]CombinationResult `json:"topBySymbol"`
	SkippedSymbols   []string                       `json:"skippedSymbols,omitempty"`
	Cancelled        bool                           `json:"cancelled"`
	DeadlineExceeded bool                           `json:"deadlineExceeded"`
}

// combination is one unit of work: a symbol and a fully resolved parameter
// set.
type combination struct {
	index    int
	symbol   string
	assigned map[string]any
	params   domain.Params
}

type resultItem struct {
	index int
	combo combination
	res   *simulation.SingleRunResult
	err   error
}

// Runner executes batch sweeps. Prices are fetched once per symbol before
// any combination runs, so the workers are pure CPU.
type Runner struct {
	engine *simulation.Engine
	log    zerolog.Logger
}

// NewRunner creates a batch runner.
func NewRunner(log zerolog.Logger) *Runner {
	return &Runner{
		engine: simulation.NewEngine(log),
		log:    log.With().Str("component", "batch").Logger(),
	}
}

// Run enumerates the combinations, prefetches prices, and dispatches the
// sweep across the worker pool. Combination results land in their
// enumeration slot regardless of wall-clock completion order, so identical
// inputs produce identical output. onProgress may be nil.
func (r *Runner) Run(ctx context.Context, cfg Config, provider domain.PriceProvider, onProgress ProgressFunc) (*BatchResult, error) {
	started := time.Now()

	res, combos, series, err := r.prepare(ctx, cfg, provider)
	if err != nil {
		metrics.SimulationsTotal.WithLabelValues("batch", "error").Inc()
		return nil, err
	}

	if err := r.dispatch(ctx, cfg, combos, series, res, onProgress); err != nil {
		metrics.SimulationsTotal.WithLabelValues("batch", "error").Inc()
		return nil, err
	}

	r.observe(started, res)

	r.log.Debug().
		Int("total", res.Total).
		Int("completed", res.Completed).
		Int("skippedSymbols", len(res.SkippedSymbols)).
		Bool("cancelled", res.Cancelled).
		Dur("elapsed", time.Since(started)).
		Msg("batch run finished")

	return res, nil
}

// prepare validates the config, prefetches every symbol's bars, and expands
// the combination set.
func (r *Runner) prepare(ctx context.Context, cfg Config, provider domain.PriceProvider) (*BatchResult, []combination, map[string][]domain.DailyBar, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}

	series := make(map[string][]domain.DailyBar)
	var available []string
	var skipped []string
	seen := make(map[string]bool)
	for _, sym := range cfg.Symbols {
		if seen[sym] {
			continue
		}
		seen[sym] = true

		bars, err := provider.GetDailyBars(ctx, sym, cfg.StartDate, cfg.EndDate)
		if err != nil {
			var pr *domain.PartialRangeError
			var nf *domain.NotFoundError
			switch {
			case errors.As(err, &pr):
				r.log.Warn().
					Str("symbol", sym).
					Str("availableStart", pr.AvailableStart.String()).
					Str("availableEnd", pr.AvailableEnd.String()).
					Msg("requested range truncated, using available bars")
				bars = pr.Bars
			case errors.As(err, &nf):
				skipped = append(skipped, sym)
				r.log.Warn().Str("symbol", sym).Msg("no price data, skipping symbol")
				continue
			default:
				return nil, nil, nil, fmt.Errorf("fetch prices for %s: %w", sym, err)
			}
		}
		series[sym] = bars
		available = append(available, sym)
	}
	if len(available) == 0 {
		return nil, nil, nil, &domain.NotFoundError{Symbol: cfg.Symbols[0]}
	}

	combos, err := expand(cfg, available)
	if err != nil {
		return nil, nil, nil, err
	}

	res := &BatchResult{
		Total:          len(combos),
		SkippedSymbols: skipped,
		TopBySymbol:    make(map[string][]CombinationResult),
	}
	return res, combos, series, nil
}

// dispatch runs the combinations on the pool and collects results as they
// complete. The first run error cancels the remaining work and fails the
// batch; combinations cut short by cancellation are not counted completed.
func (r *Runner) dispatch(ctx context.Context, cfg Config, combos []combination, series map[string][]domain.DailyBar, res *BatchResult, onProgress ProgressFunc) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(combos) {
		workers = len(combos)
	}

	jobs := make(chan combination, len(combos))
	items := make(chan resultItem, len(combos))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for combo := range jobs {
				if runCtx.Err() != nil {
					items <- resultItem{index: combo.index}
					continue
				}
				runRes, err := r.engine.Run(runCtx, combo.symbol, combo.params, series[combo.symbol])
				items <- resultItem{index: combo.index, combo: combo, res: runRes, err: err}
			}
		}()
	}
	for _, combo := range combos {
		jobs <- combo
	}
	close(jobs)
	go func() {
		wg.Wait()
		close(items)
	}()

	slots := make([]*CombinationResult, len(combos))
	reporter := newProgressReporter(onProgress)
	var firstErr error
	for item := range items {
		if item.err != nil {
			if firstErr == nil {
				firstErr = item.err
				cancel()
			}
			continue
		}
		if item.res == nil {
			continue // drained after cancellation, never ran
		}
		if item.res.Cancelled || item.res.DeadlineExceeded {
			continue // partial run, not a completed combination
		}
		slots[item.index] = &CombinationResult{
			Index:    item.index,
			Symbol:   item.combo.symbol,
			Assigned: item.combo.assigned,
			Summary:  item.res.Summary,
		}
		res.Completed++
		metrics.BatchCombinationsTotal.Inc()
		reporter.report(res.Completed, res.Total, item.combo.symbol, item.combo.params)
	}
	if firstErr != nil {
		return firstErr
	}
	reporter.flush()

	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			res.DeadlineExceeded = true
		} else {
			res.Cancelled = true
		}
	}

	ordered := make([]CombinationResult, 0, res.Completed)
	for _, slot := range slots {
		if slot != nil {
			ordered = append(ordered, *slot)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Summary.TotalReturn > ordered[j].Summary.TotalReturn
	})
	res.Results = ordered

	topK := cfg.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	for _, cr := range ordered {
		if len(res.TopBySymbol[cr.Symbol]) < topK {
			res.TopBySymbol[cr.Symbol] = append(res.TopBySymbol[cr.Symbol], cr)
		}
	}

	return nil
}

func (r *Runner) observe(started time.Time, res *BatchResult) {
	outcome := "completed"
	switch {
	case res.Cancelled:
		outcome = "cancelled"
	case res.DeadlineExceeded:
		outcome = "deadline"
	}
	metrics.SimulationsTotal.WithLabelValues("batch", outcome).Inc()
	metrics.SimulationDuration.WithLabelValues("batch").Observe(time.Since(started).Seconds())
}

// validateRanges probes every ranged value against the parameter override
// schema, so an unknown name or a mistyped value aborts the batch before any
// work is dispatched.
func validateRanges(ranges ParameterRanges) error {
	for key, values := range ranges {
		if len(values) == 0 {
			return &domain.ValidationError{Field: key, Message: "parameter range is empty"}
		}
		for _, v := range values {
			raw, err := json.Marshal(map[string]any{key: v})
			if err != nil {
				return &domain.ValidationError{Field: key, Message: fmt.Sprintf("value %v is not encodable", v)}
			}
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.DisallowUnknownFields()
			var probe domain.ParamsOverride
			if err := dec.Decode(&probe); err != nil {
				return &domain.ValidationError{Field: key, Message: fmt.Sprintf("unknown parameter or invalid value %v", v)}
			}
		}
	}
	return nil
}

// buildAssignments expands the ranges into the cartesian product of value
// assignments: ranged keys sorted, values in given order.
func buildAssignments(ranges ParameterRanges) []map[string]any {
	keys := make([]string, 0, len(ranges))
	for k := range ranges {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	assignments := []map[string]any{{}}
	for _, k := range keys {
		next := make([]map[string]any, 0, len(assignments)*len(ranges[k]))
		for _, base := range assignments {
			for _, v := range ranges[k] {
				a := make(map[string]any, len(base)+1)
				for bk, bv := range base {
					a[bk] = bv
				}
				a[k] = v
				next = append(next, a)
			}
		}
		assignments = next
	}
	return assignments
}

// expand builds the deterministic combination list: symbols in given order,
// ranged keys sorted, values in given order. Every combination's parameter
// set is validated here so a bad sweep fails before day one.
func expand(cfg Config, symbols []string) ([]combination, error) {
	assignments := buildAssignments(cfg.Ranges)

	combos := make([]combination, 0, len(symbols)*len(assignments))
	for _, sym := range symbols {
		for _, a := range assignments {
			params, err := applyAssignment(cfg.BaseParams, a)
			if err != nil {
				return nil, err
			}
			if err := params.Validate(); err != nil {
				return nil, err
			}
			combos = append(combos, combination{
				index:    len(combos),
				symbol:   sym,
				assigned: a,
				params:   params,
			})
		}
	}
	return combos, nil
}

// applyAssignment overlays one combination's values on the base parameters
// through the override schema, reusing its field names and nil-means-keep
// semantics.
func applyAssignment(base domain.Params, assigned map[string]any) (domain.Params, error) {
	if len(assigned) == 0 {
		return base, nil
	}
	raw, err := json.Marshal(assigned)
	if err != nil {
		return domain.Params{}, fmt.Errorf("encode parameter assignment: %w", err)
	}
	var ov domain.ParamsOverride
	if err := json.Unmarshal(raw, &ov); err != nil {
		return domain.Params{}, fmt.Errorf("decode parameter assignment: %w", err)
	}
	return ov.Applied(base), nil
}
