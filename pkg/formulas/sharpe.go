package formulas

import "math"

// CalculateSharpeRatio calculates the annualized Sharpe ratio of a periodic
// return series.
//
// Sharpe Ratio Formula:
//
//	Sharpe = (Mean Return - Periodic Risk-free Rate) / StdDev of Returns
//	Annualized: Sharpe * sqrt(periodsPerYear)
//
// riskFreeRate is annual (0.02 = 2%); periodsPerYear is 252 for daily data.
// Returns nil when there is not enough data or the series has no variance.
func CalculateSharpeRatio(returns []float64, riskFreeRate float64, periodsPerYear int) *float64 {
	if len(returns) < 2 || periodsPerYear <= 0 {
		return nil
	}

	stdDev := StdDev(returns)
	if stdDev == 0 {
		return nil
	}

	periodicRiskFree := riskFreeRate / float64(periodsPerYear)
	sharpe := (Mean(returns) - periodicRiskFree) / stdDev

	annualized := sharpe * math.Sqrt(float64(periodsPerYear))
	return &annualized
}

// CalculateSharpeFromValues derives daily returns from a value series and
// calculates the annualized Sharpe ratio on a 252-day basis.
func CalculateSharpeFromValues(values []float64, riskFreeRate float64) *float64 {
	if len(values) < 2 {
		return nil
	}
	return CalculateSharpeRatio(CalculateReturns(values), riskFreeRate, TradingDaysPerYear)
}
