// Package formulas provides the performance math used by the backtest
// summaries: return series, drawdowns, CAGR, Sharpe, and volatility.
package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// TradingDaysPerYear is the annualization basis for daily series.
const TradingDaysPerYear = 252

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the standard deviation of a slice of float64 values
func StdDev(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// CalculateReturns converts a value series to simple periodic returns.
// Returns[i] = (v[i+1] - v[i]) / v[i]; zero-valued bases yield a zero return.
func CalculateReturns(values []float64) []float64 {
	if len(values) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] != 0 {
			returns[i-1] = (values[i] - values[i-1]) / values[i-1]
		}
	}

	return returns
}

// AnnualizedVolatility calculates annualized volatility from daily returns.
// Formula: stddev of daily returns * sqrt(252).
func AnnualizedVolatility(dailyReturns []float64) float64 {
	if len(dailyReturns) == 0 {
		return 0
	}
	return StdDev(dailyReturns) * math.Sqrt(TradingDaysPerYear)
}

// TotalReturn is the simple return between the first and last value of a
// series. Returns nil when the series is too short or starts at zero.
func TotalReturn(values []float64) *float64 {
	if len(values) < 2 || values[0] == 0 {
		return nil
	}
	r := (values[len(values)-1] - values[0]) / values[0]
	return &r
}
