package formulas

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// CalculateVaR calculates historical Value at Risk at the given confidence
// level: the return at the tail quantile. For 95% confidence this is the 5th
// percentile of the return distribution (negative for losses).
func CalculateVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0.0
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	idx := int(math.Floor(float64(len(sorted)) * (1.0 - confidence)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	return sorted[idx]
}

// CalculateCVaR calculates Conditional Value at Risk (CVaR) at the specified
// confidence level. CVaR is the expected loss given that the loss exceeds the
// VaR threshold.
//
// Args:
//   - returns: Historical returns (can be negative for losses)
//   - confidence: Confidence level (e.g., 0.95 for 95%)
//
// Returns:
//   - CVaR value (negative for losses, positive for gains in tail)
func CalculateCVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0.0
	}

	if len(returns) == 1 {
		return returns[0]
	}

	// Sort returns in ascending order (worst first)
	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	// For 95% confidence the tail is the worst 5% of returns
	tailProbability := 1.0 - confidence
	tailCount := int(math.Ceil(float64(len(sorted)) * tailProbability))

	if tailCount == 0 {
		tailCount = 1
	}
	if tailCount > len(sorted) {
		tailCount = len(sorted)
	}

	tailReturns := sorted[:tailCount]
	sum := 0.0
	for _, r := range tailReturns {
		sum += r
	}

	return sum / float64(len(tailReturns))
}

// CalculatePortfolioCVaR calculates portfolio-level CVaR by weighting
// individual security CVaRs. This is a simplified aggregation; use
// MonteCarloCVaRWithWeights for a covariance-aware estimate.
func CalculatePortfolioCVaR(weights map[string]float64, returns map[string][]float64, confidence float64) float64 {
	if len(weights) == 0 {
		return 0.0
	}

	portfolioCVaR := 0.0
	for symbol, weight := range weights {
		if rets, ok := returns[symbol]; ok {
			portfolioCVaR += weight * CalculateCVaR(rets, confidence)
		}
	}

	return portfolioCVaR
}

// MonteCarloCVaRWithWeights calculates CVaR via Monte Carlo simulation from a
// covariance matrix and portfolio weights. The portfolio return is modeled as
// N(w'μ, sqrt(w'Σw)) and CVaR is taken from the simulated distribution.
//
// Args:
//   - covMatrix: Covariance matrix, same order as symbols
//   - expectedReturns: Expected returns by symbol
//   - weights: Portfolio weights by symbol
//   - symbols: Ordered symbol list matching the matrix
//   - numSimulations: Number of draws (e.g., 10000)
//   - confidence: Confidence level (e.g., 0.95)
func MonteCarloCVaRWithWeights(
	covMatrix [][]float64,
	expectedReturns map[string]float64,
	weights map[string]float64,
	symbols []string,
	numSimulations int,
	confidence float64,
) float64 {
	if len(covMatrix) == 0 || len(symbols) == 0 || numSimulations <= 0 {
		return 0.0
	}

	n := len(symbols)
	if len(covMatrix) != n {
		return 0.0
	}

	mu := make([]float64, n)
	w := make([]float64, n)
	for i, symbol := range symbols {
		if ret, ok := expectedReturns[symbol]; ok {
			mu[i] = ret
		}
		if weight, ok := weights[symbol]; ok {
			w[i] = weight
		}
	}

	// Portfolio expected return: w' * mu
	portfolioMu := 0.0
	for i := 0; i < n; i++ {
		portfolioMu += w[i] * mu[i]
	}

	// Portfolio variance: w' * Σ * w
	portfolioVariance := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			portfolioVariance += w[i] * w[j] * covMatrix[i][j]
		}
	}
	portfolioStdDev := math.Sqrt(math.Max(portfolioVariance, 1e-10))

	normal := distuv.Normal{
		Mu:    portfolioMu,
		Sigma: portfolioStdDev,
	}

	simulatedReturns := make([]float64, numSimulations)
	for i := 0; i < numSimulations; i++ {
		simulatedReturns[i] = normal.Rand()
	}

	return CalculateCVaR(simulatedReturns, confidence)
}
