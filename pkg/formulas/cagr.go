package formulas

import "math"

// CalculateCAGR calculates the Compound Annual Growth Rate between two
// values over a holding period measured in trading days.
//
// Formula: CAGR = (Ending Value / Beginning Value)^(1/years) - 1
//
// For very short periods (under ~3 months of trading days) the simple return
// is reported instead, since annualizing a few weeks of movement produces
// meaningless numbers. Returns nil for non-positive values or an empty
// period.
func CalculateCAGR(startValue, endValue float64, tradingDays int) *float64 {
	if startValue <= 0 || endValue <= 0 || tradingDays <= 0 {
		return nil
	}

	years := float64(tradingDays) / TradingDaysPerYear

	if years < 0.25 {
		simple := endValue/startValue - 1
		return &simple
	}

	cagr := math.Pow(endValue/startValue, 1/years) - 1
	return &cagr
}

// CalculateCAGRFromSeries is a convenience wrapper that reads the endpoints
// and length from a daily value series.
func CalculateCAGRFromSeries(values []float64) *float64 {
	if len(values) < 2 {
		return nil
	}
	return CalculateCAGR(values[0], values[len(values)-1], len(values)-1)
}
