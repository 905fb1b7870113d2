package risk

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/modules/optimization"
	"github.com/aristath/steward/internal/modules/universe"
	"github.com/aristath/steward/pkg/formulas"
)

const (
	// DefaultLookbackDays is the history window behind every metric.
	DefaultLookbackDays = 252

	// MinObservationDays is the minimum usable history for a single security.
	MinObservationDays = 30

	// DefaultRiskFreeRate feeds Sharpe and Sortino until settings override it.
	DefaultRiskFreeRate = 0.03

	// MonteCarloSimulations is the draw count for the CVaR cross-check.
	MonteCarloSimulations = 10000

	// MonteCarloConfidence is the confidence level of the cross-check.
	MonteCarloConfidence = 0.95
)

// Service computes risk metrics for portfolios and individual securities.
type Service struct {
	builder      *optimization.RiskModelBuilder
	historyDB    *universe.HistoryDB
	securityRepo *universe.SecurityRepository
	log          zerolog.Logger
	riskFreeRate float64
}

// NewService creates a risk service.
func NewService(
	builder *optimization.RiskModelBuilder,
	historyDB *universe.HistoryDB,
	securityRepo *universe.SecurityRepository,
	log zerolog.Logger,
) *Service {
	return &Service{
		builder:      builder,
		historyDB:    historyDB,
		securityRepo: securityRepo,
		log:          log.With().Str("service", "risk").Logger(),
		riskFreeRate: DefaultRiskFreeRate,
	}
}

// SetRiskFreeRate overrides the default risk-free rate. Negative rates
// are ignored.
func (s *Service) SetRiskFreeRate(rate float64) {
	if rate >= 0 {
		s.riskFreeRate = rate
	}
}

// ComputePortfolio builds the weighted daily return series for the given
// weights and derives the full metric set from it. Weights are normalized
// to sum to one. Symbols without sufficient history are excluded and the
// remaining weight is renormalized. Empty weights produce zeroed metrics.
func (s *Service) ComputePortfolio(weights map[string]float64) (*PortfolioRiskMetrics, error) {
	cleaned, err := cleanWeights(weights)
	if err != nil {
		return nil, err
	}
	if len(cleaned) == 0 {
		return &PortfolioRiskMetrics{}, nil
	}

	model, err := s.builder.Build(sortedKeys(cleaned), DefaultLookbackDays)
	if err != nil {
		return nil, err
	}

	// Renormalize over the symbols that survived the history check.
	kept := make(map[string]float64, len(model.Symbols))
	total := 0.0
	for _, symbol := range model.Symbols {
		kept[symbol] = cleaned[symbol]
		total += cleaned[symbol]
	}
	if total <= 0 {
		return nil, fmt.Errorf("no weight left after excluding symbols without history")
	}
	for symbol := range kept {
		kept[symbol] /= total
	}

	portfolio := weightedReturns(model, kept)
	benchmark := s.benchmarkReturns(equalWeightReturns(model))
	alignedPortfolio, alignedBenchmark := alignTail(portfolio, benchmark)

	dailyMu := make(map[string]float64, len(model.Symbols))
	for i, symbol := range model.Symbols {
		dailyMu[symbol] = formulas.Mean(model.Returns[i])
	}

	metrics := &PortfolioRiskMetrics{
		AnnualReturn:     formulas.CalculateAnnualReturn(portfolio),
		AnnualVolatility: formulas.AnnualizedVolatility(portfolio),
		Sharpe:           formulas.CalculateSharpe(portfolio, s.riskFreeRate),
		Sortino:          formulas.CalculateSortino(portfolio, s.riskFreeRate),
		MaxDrawdown:      formulas.CalculateMaxDrawdown(portfolio),
		VaR95:            formulas.CalculateVaR(portfolio, 0.95),
		VaR99:            formulas.CalculateVaR(portfolio, 0.99),
		CVaR95:           formulas.CalculateCVaR(portfolio, 0.95),
		CVaR99:           formulas.CalculateCVaR(portfolio, 0.99),
		MonteCarloCVaR95: formulas.MonteCarloCVaRWithWeights(
			model.DailyCovariance, dailyMu, kept, model.Symbols,
			MonteCarloSimulations, MonteCarloConfidence,
		),
		Beta:            formulas.CalculateBeta(alignedPortfolio, alignedBenchmark),
		Concentration:   concentration(kept),
		PerSymbol:       s.perSymbolRisk(model, kept, benchmark),
		ObservationDays: model.Days,
	}
	if len(model.Dropped) > 0 {
		metrics.Excluded = model.Dropped
	}

	s.log.Info().
		Int("positions", len(kept)).
		Int("excluded", len(model.Dropped)).
		Int("observation_days", model.Days).
		Float64("volatility", metrics.AnnualVolatility).
		Float64("var_95", metrics.VaR95).
		Msg("Computed portfolio risk metrics")

	return metrics, nil
}

// ComputeSecurity derives the single-series metric set for one symbol.
func (s *Service) ComputeSecurity(symbol string) (*SecurityRiskMetrics, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}

	closes, err := s.historyDB.GetCloseSeries(symbol, DefaultLookbackDays+1)
	if err != nil {
		return nil, fmt.Errorf("failed to load close series for %s: %w", symbol, err)
	}
	if len(closes) < MinObservationDays+1 {
		return nil, fmt.Errorf("insufficient history for %s (%d days)", symbol, len(closes))
	}

	returns := formulas.CalculateReturns(closes)
	benchmark := s.benchmarkReturns(returns)
	alignedReturns, alignedBenchmark := alignTail(returns, benchmark)

	return &SecurityRiskMetrics{
		Symbol:           symbol,
		AnnualReturn:     formulas.CalculateAnnualReturn(returns),
		AnnualVolatility: formulas.AnnualizedVolatility(returns),
		Sharpe:           formulas.CalculateSharpe(returns, s.riskFreeRate),
		Sortino:          formulas.CalculateSortino(returns, s.riskFreeRate),
		MaxDrawdown:      formulas.CalculateMaxDrawdown(returns),
		VaR95:            formulas.CalculateVaR(returns, 0.95),
		VaR99:            formulas.CalculateVaR(returns, 0.99),
		CVaR95:           formulas.CalculateCVaR(returns, 0.95),
		CVaR99:           formulas.CalculateCVaR(returns, 0.99),
		Beta:             formulas.CalculateBeta(alignedReturns, alignedBenchmark),
		ObservationDays:  len(returns),
	}, nil
}

// benchmarkReturns builds the equal-weight universe proxy betas are
// measured against. Falls back to the given series when the universe
// cannot be loaded.
func (s *Service) benchmarkReturns(fallback []float64) []float64 {
	if s.securityRepo == nil || s.builder == nil {
		return fallback
	}

	securities, err := s.securityRepo.GetAllActive()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to load universe for benchmark, using fallback series")
		return fallback
	}
	if len(securities) == 0 {
		return fallback
	}

	symbols := make([]string, 0, len(securities))
	for _, sec := range securities {
		symbols = append(symbols, sec.Symbol)
	}

	model, err := s.builder.Build(symbols, DefaultLookbackDays)
	if err != nil {
		s.log.Warn().Err(err).Msg("Universe benchmark unavailable, using fallback series")
		return fallback
	}
	return equalWeightReturns(model)
}

// perSymbolRisk computes per-position metrics and each position's share
// of total portfolio variance.
func (s *Service) perSymbolRisk(model *optimization.RiskModel, weights map[string]float64, benchmark []float64) map[string]SymbolRisk {
	n := len(model.Symbols)
	if n == 0 {
		return nil
	}

	w := make([]float64, n)
	for i, symbol := range model.Symbols {
		w[i] = weights[symbol]
	}

	// Variance contribution of position i is w_i * (Σw)_i, summing to
	// the portfolio variance.
	contributions := make([]float64, n)
	totalVariance := 0.0
	for i := 0; i < n; i++ {
		row := 0.0
		for j := 0; j < n; j++ {
			row += model.DailyCovariance[i][j] * w[j]
		}
		contributions[i] = w[i] * row
		totalVariance += contributions[i]
	}

	perSymbol := make(map[string]SymbolRisk, n)
	for i, symbol := range model.Symbols {
		returns := model.Returns[i]
		alignedReturns, alignedBenchmark := alignTail(returns, benchmark)

		share := 0.0
		if totalVariance > 1e-18 {
			share = contributions[i] / totalVariance
		}

		perSymbol[symbol] = SymbolRisk{
			Weight:           w[i],
			AnnualReturn:     formulas.CalculateAnnualReturn(returns),
			AnnualVolatility: formulas.AnnualizedVolatility(returns),
			MaxDrawdown:      formulas.CalculateMaxDrawdown(returns),
			VaR95:            formulas.CalculateVaR(returns, 0.95),
			CVaR95:           formulas.CalculateCVaR(returns, 0.95),
			Beta:             formulas.CalculateBeta(alignedReturns, alignedBenchmark),
			VarianceShare:    share,
		}
	}
	return perSymbol
}

// cleanWeights normalizes symbol casing, merges duplicate keys and drops
// zero weights. Negative weights are rejected.
func cleanWeights(weights map[string]float64) (map[string]float64, error) {
	cleaned := make(map[string]float64, len(weights))
	for symbol, weight := range weights {
		key := strings.ToUpper(strings.TrimSpace(symbol))
		if key == "" {
			continue
		}
		if weight < 0 {
			return nil, fmt.Errorf("negative weight %.4f for %s", weight, key)
		}
		if weight == 0 {
			continue
		}
		cleaned[key] += weight
	}
	return cleaned, nil
}

// weightedReturns combines the model's aligned return rows into a single
// portfolio daily return series.
func weightedReturns(model *optimization.RiskModel, weights map[string]float64) []float64 {
	if model.Days <= 0 {
		return nil
	}
	series := make([]float64, model.Days)
	for i, symbol := range model.Symbols {
		weight := weights[symbol]
		if weight == 0 {
			continue
		}
		for t, r := range model.Returns[i] {
			series[t] += weight * r
		}
	}
	return series
}

// equalWeightReturns averages the model's return rows into an
// equal-weight daily series.
func equalWeightReturns(model *optimization.RiskModel) []float64 {
	if model == nil || model.Days <= 0 || len(model.Symbols) == 0 {
		return nil
	}
	series := make([]float64, model.Days)
	share := 1.0 / float64(len(model.Symbols))
	for _, row := range model.Returns {
		for t, r := range row {
			series[t] += share * r
		}
	}
	return series
}

// alignTail trims both series to their common most-recent window.
func alignTail(a, b []float64) ([]float64, []float64) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return nil, nil
	}
	return a[len(a)-n:], b[len(b)-n:]
}

// concentration summarizes the weight distribution.
func concentration(weights map[string]float64) Concentration {
	c := Concentration{Positions: len(weights)}
	for _, symbol := range sortedKeys(weights) {
		w := weights[symbol]
		c.HHI += w * w
		if w > c.TopWeight {
			c.TopWeight = w
			c.TopSymbol = symbol
		}
	}
	return c
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
