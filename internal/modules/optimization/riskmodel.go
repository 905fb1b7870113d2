package optimization

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/steward/internal/modules/universe"
	"github.com/aristath/steward/pkg/formulas"
)

const (
	// DefaultLookbackDays is the trailing window for the covariance estimate.
	DefaultLookbackDays = 252

	// MinHistoryDays is the minimum number of daily closes a symbol needs to
	// enter the risk model.
	MinHistoryDays = 30

	// HighCorrelationThreshold marks pairs that barely diversify each other.
	HighCorrelationThreshold = 0.80

	// DefaultShrinkage pulls the sample covariance toward the
	// constant-correlation target. MaxShrinkage caps the estimated intensity.
	DefaultShrinkage = 0.2
	MaxShrinkage     = 0.5
)

// RiskModel holds the aligned return series and the shrunk covariance for a
// set of symbols. Row i of Returns, Covariance and DailyCovariance all refer
// to Symbols[i].
type RiskModel struct {
	Symbols         []string
	Returns         [][]float64
	Covariance      [][]float64 // annualized, shrunk
	DailyCovariance [][]float64 // shrunk, per trading day
	Days            int
	Shrinkage       float64
	Warnings        []CorrelationWarning
	Dropped         map[string]string
}

// Index returns the row for a symbol, or -1 when the symbol was dropped.
func (m *RiskModel) Index(symbol string) int {
	for i, s := range m.Symbols {
		if s == symbol {
			return i
		}
	}
	return -1
}

// RiskModelBuilder assembles risk models from imported price history.
type RiskModelBuilder struct {
	historyDB *universe.HistoryDB
	log       zerolog.Logger
}

// NewRiskModelBuilder creates a risk model builder.
func NewRiskModelBuilder(historyDB *universe.HistoryDB, log zerolog.Logger) *RiskModelBuilder {
	return &RiskModelBuilder{
		historyDB: historyDB,
		log:       log.With().Str("component", "risk_model").Logger(),
	}
}

// Build loads close series for the symbols, drops the ones without enough
// history, aligns the rest on a common window and produces the shrunk
// covariance matrix. Returns an error only when no symbol survives or a
// query fails; per-symbol problems land in Dropped.
func (b *RiskModelBuilder) Build(symbols []string, lookbackDays int) (*RiskModel, error) {
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}

	dropped := make(map[string]string)
	kept := make([]string, 0, len(symbols))
	series := make([][]float64, 0, len(symbols))

	for _, symbol := range dedupeSymbols(symbols) {
		closes, err := b.historyDB.GetCloseSeries(symbol, lookbackDays+1)
		if err != nil {
			return nil, fmt.Errorf("failed to load close series for %s: %w", symbol, err)
		}

		closes = fillGaps(closes)
		if len(closes) < MinHistoryDays+1 {
			dropped[symbol] = fmt.Sprintf("insufficient history (%d days)", len(closes))
			b.log.Debug().Str("symbol", symbol).Int("days", len(closes)).Msg("Dropped from risk model")
			continue
		}

		kept = append(kept, symbol)
		series = append(series, closes)
	}

	if len(kept) == 0 {
		return nil, fmt.Errorf("no symbols with sufficient price history (minimum %d days)", MinHistoryDays)
	}

	// Align every series on the shortest common window, most recent bars.
	minLen := len(series[0])
	for _, s := range series[1:] {
		if len(s) < minLen {
			minLen = len(s)
		}
	}

	returns := make([][]float64, len(kept))
	for i, closes := range series {
		returns[i] = formulas.CalculateReturns(closes[len(closes)-minLen:])
	}
	days := minLen - 1

	sample := sampleCovariance(returns)
	daily, shrinkage := applyLedoitWolfShrinkage(sample)
	warnings := correlationWarnings(kept, daily)

	annual := make([][]float64, len(kept))
	for i := range daily {
		annual[i] = make([]float64, len(daily[i]))
		for j := range daily[i] {
			annual[i][j] = daily[i][j] * formulas.TradingDaysPerYear
		}
	}

	b.log.Info().
		Int("symbols", len(kept)).
		Int("dropped", len(dropped)).
		Int("days", days).
		Float64("shrinkage", shrinkage).
		Int("correlation_warnings", len(warnings)).
		Msg("Built risk model")

	return &RiskModel{
		Symbols:         kept,
		Returns:         returns,
		Covariance:      annual,
		DailyCovariance: daily,
		Days:            days,
		Shrinkage:       shrinkage,
		Warnings:        warnings,
		Dropped:         dropped,
	}, nil
}

// fillGaps repairs non-positive closes: forward-fill from the previous valid
// bar, then back-fill any leading gap from the first valid one. Returns nil
// when the series has no valid close at all.
func fillGaps(closes []float64) []float64 {
	out := make([]float64, len(closes))
	copy(out, closes)

	last := 0.0
	for i, c := range out {
		if c > 0 && !math.IsNaN(c) {
			last = c
		} else if last > 0 {
			out[i] = last
		}
	}

	first := 0.0
	for _, c := range out {
		if c > 0 && !math.IsNaN(c) {
			first = c
			break
		}
	}
	if first == 0 {
		return nil
	}
	for i, c := range out {
		if c <= 0 || math.IsNaN(c) {
			out[i] = first
		}
	}

	return out
}

// sampleCovariance computes the pairwise sample covariance over aligned
// return series.
func sampleCovariance(returns [][]float64) [][]float64 {
	n := len(returns)
	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			c := stat.Covariance(returns[i], returns[j], nil)
			cov[i][j] = c
			cov[j][i] = c
		}
	}

	return cov
}

// applyLedoitWolfShrinkage pulls the sample covariance toward a
// constant-correlation target: diagonal entries become the average variance,
// off-diagonal entries the average covariance. The intensity defaults to
// DefaultShrinkage and is re-estimated from the dispersion of the sample
// entries when the matrix is large enough, capped at MaxShrinkage.
func applyLedoitWolfShrinkage(sample [][]float64) ([][]float64, float64) {
	n := len(sample)
	if n == 0 {
		return sample, 0
	}

	var avgVar, avgCov float64
	for i := 0; i < n; i++ {
		avgVar += sample[i][i]
		for j := 0; j < n; j++ {
			if i != j {
				avgCov += sample[i][j]
			}
		}
	}
	avgVar /= float64(n)
	if n > 1 {
		avgCov /= float64(n * (n - 1))
	}

	target := make([][]float64, n)
	for i := range target {
		target[i] = make([]float64, n)
		for j := range target[i] {
			if i == j {
				target[i][j] = avgVar
			} else {
				target[i][j] = avgCov
			}
		}
	}

	shrinkage := DefaultShrinkage
	if n > 2 && avgVar > 0 {
		var sumSqDiff, sum, sumSq float64
		count := float64(n * n)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				diff := sample[i][j] - target[i][j]
				sumSqDiff += diff * diff
				sum += sample[i][j]
				sumSq += sample[i][j] * sample[i][j]
			}
		}
		meanSqDiff := sumSqDiff / count
		mean := sum / count
		varSample := sumSq/count - mean*mean

		if varSample > 0 && meanSqDiff > 0 {
			shrinkage = math.Min(MaxShrinkage, math.Max(0, varSample/(varSample+meanSqDiff)))
		}
	}

	shrunk := make([][]float64, n)
	for i := range shrunk {
		shrunk[i] = make([]float64, n)
		for j := range shrunk[i] {
			shrunk[i][j] = (1-shrinkage)*sample[i][j] + shrinkage*target[i][j]
		}
	}

	return shrunk, shrinkage
}

// correlationWarnings lists pairs whose absolute correlation meets the
// threshold.
func correlationWarnings(symbols []string, cov [][]float64) []CorrelationWarning {
	var warnings []CorrelationWarning
	for i := 0; i < len(symbols); i++ {
		for j := i + 1; j < len(symbols); j++ {
			denom := math.Sqrt(cov[i][i] * cov[j][j])
			if denom <= 0 {
				continue
			}
			corr := cov[i][j] / denom
			if math.Abs(corr) >= HighCorrelationThreshold {
				warnings = append(warnings, CorrelationWarning{
					SymbolA:     symbols[i],
					SymbolB:     symbols[j],
					Correlation: formulas.Round3(corr),
				})
			}
		}
	}
	return warnings
}
