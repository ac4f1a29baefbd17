package domain

import "fmt"

// OrderType selects the trailing-stop cancellation behavior.
type OrderType string

const (
	// OrderTypeLimit cancels an armed stop when price crosses back through
	// the reference extreme.
	OrderTypeLimit OrderType = "limit"
	// OrderTypeMarket never cancels; an armed stop only fires.
	OrderTypeMarket OrderType = "market"
)

// StrategyMode selects the trade direction.
type StrategyMode string

const (
	ModeLong  StrategyMode = "long"
	ModeShort StrategyMode = "short"
)

// Params is the effective parameter set of one run. It is assembled once at
// run start (see Merge) and treated as immutable afterwards. All percentage
// fields are decimal fractions: 0.10 means 10%.
type Params struct {
	LotSizeUSD    float64 `json:"lotSizeUsd"`
	MaxLots       int     `json:"maxLots"`
	MaxLotsToSell int     `json:"maxLotsToSell"`

	GridIntervalPercent float64 `json:"gridIntervalPercent"`
	ProfitRequirement   float64 `json:"profitRequirement"`

	TrailingBuyActivationPercent  float64 `json:"trailingBuyActivationPercent"`
	TrailingBuyReboundPercent     float64 `json:"trailingBuyReboundPercent"`
	TrailingSellActivationPercent float64 `json:"trailingSellActivationPercent"`
	TrailingSellPullbackPercent   float64 `json:"trailingSellPullbackPercent"`

	TrailingStopOrderType OrderType `json:"trailingStopOrderType"`

	EnableDynamicGrid     bool    `json:"enableDynamicGrid"`
	NormalizeToReference  bool    `json:"normalizeToReference"`
	DynamicGridMultiplier float64 `json:"dynamicGridMultiplier"`

	EnableConsecutiveIncrementalBuyGrid    bool    `json:"enableConsecutiveIncrementalBuyGrid"`
	GridConsecutiveIncrement               float64 `json:"gridConsecutiveIncrement"`
	EnableConsecutiveIncrementalSellProfit bool    `json:"enableConsecutiveIncrementalSellProfit"`

	EnableAdaptiveTrailingBuy  bool `json:"enableAdaptiveTrailingBuy"`
	EnableAdaptiveTrailingSell bool `json:"enableAdaptiveTrailingSell"`

	MomentumBasedBuy  bool `json:"momentumBasedBuy"`
	MomentumBasedSell bool `json:"momentumBasedSell"`

	StrategyMode StrategyMode `json:"strategyMode"`

	UseAdjustedClose bool    `json:"useAdjustedClose"`
	FeePerTrade      float64 `json:"feePerTrade"`

	// TrendWindow sizes the short-term SMA behind the directional gate.
	TrendWindow int `json:"trendWindow"`

	// Reserved flag surface: accepted, validated, and persisted, but the
	// mechanisms are not implemented. The capital invariant must hold for
	// any future implementation.
	EnableDeferredSelling   bool `json:"enableDeferredSelling"`
	EnableAdaptiveLotSizing bool `json:"enableAdaptiveLotSizing"`
	EnableCashYield         bool `json:"enableCashYield"`
}

// DefaultParams is the hardcoded bottom layer of the parameter merge.
func DefaultParams() Params {
	return Params{
		LotSizeUSD:                    10000,
		MaxLots:                       10,
		MaxLotsToSell:                 1,
		GridIntervalPercent:           0.05,
		ProfitRequirement:             0.05,
		TrailingBuyActivationPercent:  0.10,
		TrailingBuyReboundPercent:     0.05,
		TrailingSellActivationPercent: 0.10,
		TrailingSellPullbackPercent:   0.05,
		TrailingStopOrderType:         OrderTypeLimit,
		DynamicGridMultiplier:         1.0,
		StrategyMode:                  ModeLong,
		TrendWindow:                   5,
	}
}

// fraction fields all share the same validity range.
func checkFraction(field string, v float64) error {
	if v < 0 || v > 1 {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be a decimal fraction in [0, 1], got %v", v),
		}
	}
	return nil
}

// Validate checks the parameter set before a run. Violations abort the run
// before day 1.
func (p Params) Validate() error {
	if p.LotSizeUSD <= 0 {
		return &ValidationError{Field: "lotSizeUsd", Message: fmt.Sprintf("must be positive, got %v", p.LotSizeUSD)}
	}
	if p.MaxLots < 1 {
		return &ValidationError{Field: "maxLots", Message: fmt.Sprintf("must be at least 1, got %d", p.MaxLots)}
	}
	if p.MaxLotsToSell < 1 {
		return &ValidationError{Field: "maxLotsToSell", Message: fmt.Sprintf("must be at least 1, got %d", p.MaxLotsToSell)}
	}

	fractions := []struct {
		field string
		value float64
	}{
		{"gridIntervalPercent", p.GridIntervalPercent},
		{"profitRequirement", p.ProfitRequirement},
		{"trailingBuyActivationPercent", p.TrailingBuyActivationPercent},
		{"trailingBuyReboundPercent", p.TrailingBuyReboundPercent},
		{"trailingSellActivationPercent", p.TrailingSellActivationPercent},
		{"trailingSellPullbackPercent", p.TrailingSellPullbackPercent},
		{"gridConsecutiveIncrement", p.GridConsecutiveIncrement},
	}
	for _, f := range fractions {
		if err := checkFraction(f.field, f.value); err != nil {
			return err
		}
	}

	switch p.TrailingStopOrderType {
	case OrderTypeLimit, OrderTypeMarket:
	default:
		return &ValidationError{Field: "trailingStopOrderType", Message: fmt.Sprintf("unknown order type %q", p.TrailingStopOrderType)}
	}

	switch p.StrategyMode {
	case ModeLong, ModeShort:
	default:
		return &ValidationError{Field: "strategyMode", Message: fmt.Sprintf("unknown strategy mode %q", p.StrategyMode)}
	}

	if p.EnableDynamicGrid && p.DynamicGridMultiplier <= 0 {
		return &ValidationError{Field: "dynamicGridMultiplier", Message: fmt.Sprintf("must be positive when dynamic grid is enabled, got %v", p.DynamicGridMultiplier)}
	}
	if p.TrendWindow < 2 {
		return &ValidationError{Field: "trendWindow", Message: fmt.Sprintf("must be at least 2, got %d", p.TrendWindow)}
	}
	if p.FeePerTrade < 0 {
		return &ValidationError{Field: "feePerTrade", Message: fmt.Sprintf("must not be negative, got %v", p.FeePerTrade)}
	}
	return nil
}

// ParamsOverride is a sparse parameter layer: only non-nil fields override.
// Layers merge with geometry tickerOverride > request > globalDefault >
// hardcoded (see Merge).
type ParamsOverride struct {
	LotSizeUSD    *float64 `json:"lotSizeUsd,omitempty"`
	MaxLots       *int     `json:"maxLots,omitempty"`
	MaxLotsToSell *int     `json:"maxLotsToSell,omitempty"`

	GridIntervalPercent *float64 `json:"gridIntervalPercent,omitempty"`
	ProfitRequirement   *float64 `json:"profitRequirement,omitempty"`

	TrailingBuyActivationPercent  *float64 `json:"trailingBuyActivationPercent,omitempty"`
	TrailingBuyReboundPercent     *float64 `json:"trailingBuyReboundPercent,omitempty"`
	TrailingSellActivationPercent *float64 `json:"trailingSellActivationPercent,omitempty"`
	TrailingSellPullbackPercent   *float64 `json:"trailingSellPullbackPercent,omitempty"`

	TrailingStopOrderType *OrderType `json:"trailingStopOrderType,omitempty"`

	EnableDynamicGrid     *bool    `json:"enableDynamicGrid,omitempty"`
	NormalizeToReference  *bool    `json:"normalizeToReference,omitempty"`
	DynamicGridMultiplier *float64 `json:"dynamicGridMultiplier,omitempty"`

	EnableConsecutiveIncrementalBuyGrid    *bool    `json:"enableConsecutiveIncrementalBuyGrid,omitempty"`
	GridConsecutiveIncrement               *float64 `json:"gridConsecutiveIncrement,omitempty"`
	EnableConsecutiveIncrementalSellProfit *bool    `json:"enableConsecutiveIncrementalSellProfit,omitempty"`

	EnableAdaptiveTrailingBuy  *bool `json:"enableAdaptiveTrailingBuy,omitempty"`
	EnableAdaptiveTrailingSell *bool `json:"enableAdaptiveTrailingSell,omitempty"`

	MomentumBasedBuy  *bool `json:"momentumBasedBuy,omitempty"`
	MomentumBasedSell *bool `json:"momentumBasedSell,omitempty"`

	StrategyMode *StrategyMode `json:"strategyMode,omitempty"`

	UseAdjustedClose *bool    `json:"useAdjustedClose,omitempty"`
	FeePerTrade      *float64 `json:"feePerTrade,omitempty"`
	TrendWindow      *int     `json:"trendWindow,omitempty"`

	EnableDeferredSelling   *bool `json:"enableDeferredSelling,omitempty"`
	EnableAdaptiveLotSizing *bool `json:"enableAdaptiveLotSizing,omitempty"`
	EnableCashYield         *bool `json:"enableCashYield,omitempty"`
}

// apply copies the override's non-nil fields onto p.
func (o *ParamsOverride) apply(p *Params) {
	if o == nil {
		return
	}
	if o.LotSizeUSD != nil {
		p.LotSizeUSD = *o.LotSizeUSD
	}
	if o.MaxLots != nil {
		p.MaxLots = *o.MaxLots
	}
	if o.MaxLotsToSell != nil {
		p.MaxLotsToSell = *o.MaxLotsToSell
	}
	if o.GridIntervalPercent != nil {
		p.GridIntervalPercent = *o.GridIntervalPercent
	}
	if o.ProfitRequirement != nil {
		p.ProfitRequirement = *o.ProfitRequirement
	}
	if o.TrailingBuyActivationPercent != nil {
		p.TrailingBuyActivationPercent = *o.TrailingBuyActivationPercent
	}
	if o.TrailingBuyReboundPercent != nil {
		p.TrailingBuyReboundPercent = *o.TrailingBuyReboundPercent
	}
	if o.TrailingSellActivationPercent != nil {
		p.TrailingSellActivationPercent = *o.TrailingSellActivationPercent
	}
	if o.TrailingSellPullbackPercent != nil {
		p.TrailingSellPullbackPercent = *o.TrailingSellPullbackPercent
	}
	if o.TrailingStopOrderType != nil {
		p.TrailingStopOrderType = *o.TrailingStopOrderType
	}
	if o.EnableDynamicGrid != nil {
		p.EnableDynamicGrid = *o.EnableDynamicGrid
	}
	if o.NormalizeToReference != nil {
		p.NormalizeToReference = *o.NormalizeToReference
	}
	if o.DynamicGridMultiplier != nil {
		p.DynamicGridMultiplier = *o.DynamicGridMultiplier
	}
	if o.EnableConsecutiveIncrementalBuyGrid != nil {
		p.EnableConsecutiveIncrementalBuyGrid = *o.EnableConsecutiveIncrementalBuyGrid
	}
	if o.GridConsecutiveIncrement != nil {
		p.GridConsecutiveIncrement = *o.GridConsecutiveIncrement
	}
	if o.EnableConsecutiveIncrementalSellProfit != nil {
		p.EnableConsecutiveIncrementalSellProfit = *o.EnableConsecutiveIncrementalSellProfit
	}
	if o.EnableAdaptiveTrailingBuy != nil {
		p.EnableAdaptiveTrailingBuy = *o.EnableAdaptiveTrailingBuy
	}
	if o.EnableAdaptiveTrailingSell != nil {
		p.EnableAdaptiveTrailingSell = *o.EnableAdaptiveTrailingSell
	}
	if o.MomentumBasedBuy != nil {
		p.MomentumBasedBuy = *o.MomentumBasedBuy
	}
	if o.MomentumBasedSell != nil {
		p.MomentumBasedSell = *o.MomentumBasedSell
	}
	if o.StrategyMode != nil {
		p.StrategyMode = *o.StrategyMode
	}
	if o.UseAdjustedClose != nil {
		p.UseAdjustedClose = *o.UseAdjustedClose
	}
	if o.FeePerTrade != nil {
		p.FeePerTrade = *o.FeePerTrade
	}
	if o.TrendWindow != nil {
		p.TrendWindow = *o.TrendWindow
	}
	if o.EnableDeferredSelling != nil {
		p.EnableDeferredSelling = *o.EnableDeferredSelling
	}
	if o.EnableAdaptiveLotSizing != nil {
		p.EnableAdaptiveLotSizing = *o.EnableAdaptiveLotSizing
	}
	if o.EnableCashYield != nil {
		p.EnableCashYield = *o.EnableCashYield
	}
}

// Applied returns base with the override's non-nil fields applied. A nil
// receiver returns base unchanged.
func (o *ParamsOverride) Applied(base Params) Params {
	o.apply(&base)
	return base
}

// Merge builds the effective parameter set for one run. Layers apply lowest
// priority first: hardcoded defaults, then global defaults, then the request
// body, then the per-ticker override. The result is validated by the caller
// and never mutated afterwards.
func Merge(globalDefault, request, tickerOverride *ParamsOverride) Params {
	p := DefaultParams()
	globalDefault.apply(&p)
	request.apply(&p)
	tickerOverride.apply(&p)
	return p
}
