// Package optimization builds recommended portfolio weights over a set of
// candidate securities using mean-variance optimization with a Ledoit-Wolf
// shrunk covariance matrix and CAGR-blended expected returns.
package optimization

import (
	"fmt"
	"strings"
)

// Strategies accepted by the solver.
const (
	StrategyMaxSharpe       = "max_sharpe"
	StrategyMinVolatility   = "min_volatility"
	StrategyEfficientReturn = "efficient_return"
	StrategyEfficientRisk   = "efficient_risk"
)

const (
	// DefaultRiskFreeRate is used when the request leaves the rate at zero.
	DefaultRiskFreeRate = 0.03

	// WeightFloor is the dust threshold: positions below it are zeroed and
	// the remainder renormalized.
	WeightFloor = 0.01

	// WeightSumTolerance bounds the allowed deviation of the weight sum
	// from 1.0 after normalization.
	WeightSumTolerance = 1e-6
)

// DefaultBoundSweep is the max-weight ladder tried when the caller does not
// pin a bound. Tighter bounds diversify more but need enough names to absorb
// the portfolio; the sweep keeps the best feasible result.
var DefaultBoundSweep = []float64{0.15, 0.20, 0.25, 0.35}

// Request describes one optimization run.
type Request struct {
	Symbols  []string `json:"symbols"`
	Strategy string   `json:"strategy,omitempty"`

	// TargetReturn is required for efficient_return, TargetVolatility for
	// efficient_risk. Both are annualized.
	TargetReturn     *float64 `json:"target_return,omitempty"`
	TargetVolatility *float64 `json:"target_volatility,omitempty"`

	// MaxWeight pins the per-position cap. Zero means sweep the default
	// bound ladder. MinWeight is the dust floor, zero means 0.01.
	MaxWeight float64 `json:"max_weight,omitempty"`
	MinWeight float64 `json:"min_weight,omitempty"`

	// RiskFreeRate is annualized. Zero selects the default.
	RiskFreeRate float64 `json:"risk_free_rate,omitempty"`

	// SectorCaps limits the summed weight per sector, keyed by sector name.
	SectorCaps map[string]float64 `json:"sector_caps,omitempty"`

	// SentimentTilt applies per-symbol sentiment adjustments to the
	// expected-return estimates.
	SentimentTilt bool `json:"sentiment_tilt,omitempty"`
}

// Validate checks the request and normalizes an empty strategy to max_sharpe.
func (r *Request) Validate() error {
	if r.Strategy == "" {
		r.Strategy = StrategyMaxSharpe
	}

	switch r.Strategy {
	case StrategyMaxSharpe, StrategyMinVolatility, StrategyEfficientReturn, StrategyEfficientRisk:
	default:
		return fmt.Errorf("unknown strategy %q", r.Strategy)
	}

	if r.Strategy == StrategyEfficientReturn && r.TargetReturn == nil {
		return fmt.Errorf("target_return is required for %s", StrategyEfficientReturn)
	}
	if r.Strategy == StrategyEfficientRisk {
		if r.TargetVolatility == nil {
			return fmt.Errorf("target_volatility is required for %s", StrategyEfficientRisk)
		}
		if *r.TargetVolatility <= 0 {
			return fmt.Errorf("target_volatility must be positive")
		}
	}

	if r.MaxWeight < 0 || r.MaxWeight > 1 {
		return fmt.Errorf("max_weight must be in (0, 1], got %.4f", r.MaxWeight)
	}
	if r.MinWeight < 0 || r.MinWeight >= 0.5 {
		return fmt.Errorf("min_weight must be in [0, 0.5), got %.4f", r.MinWeight)
	}
	if r.MaxWeight > 0 && r.MinWeight >= r.MaxWeight {
		return fmt.Errorf("min_weight %.4f must be below max_weight %.4f", r.MinWeight, r.MaxWeight)
	}

	for sector, limit := range r.SectorCaps {
		if limit <= 0 || limit > 1 {
			return fmt.Errorf("sector cap for %q must be in (0, 1], got %.4f", sector, limit)
		}
	}

	return nil
}

// AttemptResult records one bound of the sweep, converged or not.
type AttemptResult struct {
	MaxWeight      float64 `json:"max_weight"`
	Converged      bool    `json:"converged"`
	Sharpe         float64 `json:"sharpe,omitempty"`
	ExpectedReturn float64 `json:"expected_return,omitempty"`
	Volatility     float64 `json:"volatility,omitempty"`
	Positions      int     `json:"positions,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// CorrelationWarning flags a pair of symbols whose shrunk correlation is
// high enough that they barely diversify each other.
type CorrelationWarning struct {
	SymbolA     string  `json:"symbol_a"`
	SymbolB     string  `json:"symbol_b"`
	Correlation float64 `json:"correlation"`
}

// Diagnostics carries the non-fatal findings of a run.
type Diagnostics struct {
	DroppedSymbols      map[string]string    `json:"dropped_symbols,omitempty"`
	CorrelationWarnings []CorrelationWarning `json:"correlation_warnings,omitempty"`
	Shrinkage           float64              `json:"shrinkage"`
	ObservationDays     int                  `json:"observation_days"`
	Regime              string               `json:"regime,omitempty"`
}

// Solution is the recommended allocation. Weights only lists positions that
// survived the dust floor.
type Solution struct {
	Weights        map[string]float64 `json:"weights"`
	ExpectedReturn float64            `json:"expected_return"`
	Volatility     float64            `json:"volatility"`
	Sharpe         float64            `json:"sharpe"`
	Strategy       string             `json:"strategy"`
	BoundsUsed     float64            `json:"bounds_used"`
	Attempts       []AttemptResult    `json:"attempts,omitempty"`
	Diagnostics    Diagnostics        `json:"diagnostics"`
}

// dedupeSymbols uppercases, trims and deduplicates while preserving order.
func dedupeSymbols(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
