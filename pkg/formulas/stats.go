// Package formulas provides the statistical and technical calculations shared
// by the feature engine, ranking scorers, optimizer, and risk metrics.
package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// TradingDaysPerYear is the annualization base for daily series.
const TradingDaysPerYear = 252.0

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

// Variance calculates the variance of a slice of float64 values
func Variance(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Variance(data, nil)
}

// Correlation calculates the Pearson correlation coefficient between two datasets
func Correlation(x, y []float64) float64 {
	if len(x) == 0 || len(y) == 0 || len(x) != len(y) {
		return 0
	}
	return stat.Correlation(x, y, nil)
}

// Covariance calculates the covariance between two datasets
func Covariance(x, y []float64) float64 {
	if len(x) == 0 || len(y) == 0 || len(x) != len(y) {
		return 0
	}
	return stat.Covariance(x, y, nil)
}

// CalculateReturns converts prices to simple percentage returns
// Returns[i] = (Price[i] - Price[i-1]) / Price[i-1]
func CalculateReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			returns[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}

	return returns
}

// AnnualizedVolatility calculates annualized volatility from daily returns
// Formula: StdDev of daily returns × sqrt(252 trading days)
func AnnualizedVolatility(dailyReturns []float64) float64 {
	if len(dailyReturns) == 0 {
		return 0
	}

	return StdDev(dailyReturns) * math.Sqrt(TradingDaysPerYear)
}

// CalculateAnnualReturn calculates annualized return from daily returns.
//
// Formula: ((1+r1)*(1+r2)*...*(1+rN))^(252/N) - 1
//
// Computes the cumulative return first and annualizes it based on the number
// of trading periods. Very short series (< 3 days) return the simple
// cumulative return to avoid extreme annualization.
func CalculateAnnualReturn(returns []float64) float64 {
	if len(returns) == 0 {
		return 0.0
	}

	cumulative := 1.0
	for _, r := range returns {
		cumulative *= (1 + r)
	}

	numPeriods := float64(len(returns))
	if numPeriods < 3 {
		return cumulative - 1
	}

	years := numPeriods / TradingDaysPerYear
	return math.Pow(cumulative, 1.0/years) - 1
}

// CalculateSharpe calculates the annualized Sharpe ratio from daily returns.
//
// Formula: (annualized return - risk-free rate) / annualized volatility
//
// Returns 0 when volatility is zero (no dispersion means no meaningful ratio).
func CalculateSharpe(dailyReturns []float64, riskFreeRate float64) float64 {
	if len(dailyReturns) < 2 {
		return 0
	}

	vol := AnnualizedVolatility(dailyReturns)
	if vol == 0 {
		return 0
	}

	annualReturn := CalculateAnnualReturn(dailyReturns)
	return (annualReturn - riskFreeRate) / vol
}

// CalculateSortino calculates the annualized Sortino ratio from daily returns.
// Like Sharpe but penalizes only downside deviation (returns below zero).
func CalculateSortino(dailyReturns []float64, riskFreeRate float64) float64 {
	if len(dailyReturns) < 2 {
		return 0
	}

	// Downside deviation: stddev of negative returns only, against a zero target
	sumSquares := 0.0
	for _, r := range dailyReturns {
		if r < 0 {
			sumSquares += r * r
		}
	}
	downsideDev := math.Sqrt(sumSquares/float64(len(dailyReturns))) * math.Sqrt(TradingDaysPerYear)
	if downsideDev == 0 {
		return 0
	}

	annualReturn := CalculateAnnualReturn(dailyReturns)
	return (annualReturn - riskFreeRate) / downsideDev
}

// CalculateMaxDrawdown calculates the maximum peak-to-trough decline from a
// daily return series. Returned as a negative fraction (e.g. -0.23 = -23%).
func CalculateMaxDrawdown(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}

	cumulative := 1.0
	peak := 1.0
	maxDrawdown := 0.0

	for _, r := range returns {
		cumulative *= (1 + r)
		if cumulative > peak {
			peak = cumulative
		}
		drawdown := (cumulative - peak) / peak
		if drawdown < maxDrawdown {
			maxDrawdown = drawdown
		}
	}

	return maxDrawdown
}

// CalculateBeta calculates beta of a return series against a benchmark series.
// Both series must be aligned (same dates, same length). Returns 1.0 when the
// benchmark has no variance.
func CalculateBeta(returns, benchmark []float64) float64 {
	if len(returns) < 2 || len(returns) != len(benchmark) {
		return 1.0
	}

	benchVar := Variance(benchmark)
	if benchVar == 0 {
		return 1.0
	}

	return Covariance(returns, benchmark) / benchVar
}
