package portfolio

import (
	"context"
	"fmt"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/domain"
)

// BetaScaledOverrides builds per-symbol parameter overrides that widen the
// grid interval and profit requirement in proportion to each symbol's beta:
// a 2x-beta symbol needs twice the spacing to trade at the same cadence as
// the market. Symbols at market beta (1.0) get no override; scaled values
// are clamped to the valid fraction range.
//
// Callers merge the result into Config.TickerOverrides before Run.
func BetaScaledOverrides(ctx context.Context, betas domain.BetaProvider, symbols []string, base domain.Params) (map[string]domain.ParamsOverride, error) {
	out := make(map[string]domain.ParamsOverride)
	for _, sym := range symbols {
		beta, err := betas.GetBeta(ctx, sym)
		if err != nil {
			return nil, fmt.Errorf("failed to look up beta for %s: %w", sym, err)
		}
		if beta <= 0 {
			return nil, &domain.ValidationError{
				Field:   "beta",
				Message: fmt.Sprintf("symbol %s has non-positive beta %v", sym, beta),
			}
		}
		if beta == 1.0 {
			continue
		}

		grid := clampFraction(base.GridIntervalPercent * beta)
		profit := clampFraction(base.ProfitRequirement * beta)
		out[sym] = domain.ParamsOverride{
			GridIntervalPercent: &grid,
			ProfitRequirement:   &profit,
		}
	}
	return out, nil
}

// MergeScaledOverrides layers derived overrides under explicit ones:
// every explicit override survives untouched, and derived grid or profit
// values fill in only where the caller left the field unset.
func MergeScaledOverrides(derived, explicit map[string]domain.ParamsOverride) map[string]domain.ParamsOverride {
	out := make(map[string]domain.ParamsOverride, len(derived)+len(explicit))
	for sym, ov := range explicit {
		out[sym] = ov
	}
	for sym, d := range derived {
		ov := out[sym]
		if ov.GridIntervalPercent == nil {
			ov.GridIntervalPercent = d.GridIntervalPercent
		}
		if ov.ProfitRequirement == nil {
			ov.ProfitRequirement = d.ProfitRequirement
		}
		out[sym] = ov
	}
	return out
}

func clampFraction(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
