package screening

import (
	"fmt"
	"strings"

	"github.com/aristath/steward/internal/modules/features"
	"github.com/aristath/steward/pkg/formulas"
	"github.com/rs/zerolog"
)

// Layer names, in the order they run.
const (
	LayerEligibility  = "eligibility"
	LayerQuality      = "quality"
	LayerStability    = "stability"
	LayerPeerRelative = "peer_relative"
)

// Winsorization bound for peer z-scores.
const zScoreBound = 3.0

// Candidate is a symbol that survived every layer.
// ZScores holds the raw per-signal z-scores; the composite subtracts the
// pe and debt_to_equity entries (low is good there).
type Candidate struct {
	Symbol     string                 `json:"symbol"`
	Sector     string                 `json:"sector"`
	Features   features.FeatureVector `json:"features"`
	ZScores    map[string]float64     `json:"zscores"`
	ZComposite float64                `json:"z_composite"`
}

// Rejection records why a symbol dropped out and at which layer.
type Rejection struct {
	Symbol string `json:"symbol"`
	Layer  string `json:"layer"`
	Reason string `json:"reason"`
}

// Result is the screening outcome. Zero candidates is a valid result,
// the pipeline then degrades to an all-cash recommendation.
type Result struct {
	Candidates  []Candidate    `json:"candidates"`
	Rejected    []Rejection    `json:"rejected"`
	LayerCounts map[string]int `json:"layer_counts"`
}

func (r *Result) reject(symbol, layer, reason string) {
	r.Rejected = append(r.Rejected, Rejection{Symbol: symbol, Layer: layer, Reason: reason})
	r.LayerCounts[layer]++
}

// Screener runs the layered screen. It never mutates the input vectors.
type Screener struct {
	log zerolog.Logger
}

// NewScreener creates a screener.
func NewScreener(log zerolog.Logger) *Screener {
	return &Screener{
		log: log.With().Str("service", "screening").Logger(),
	}
}

// Screen runs the four layers in order. A symbol is rejected by its first
// failing layer only; survivors of the hard gates enter the peer-relative
// z-score layer, where peer statistics are computed within sector groups
// (small groups fall back to the global cohort).
func (s *Screener) Screen(vectors []features.FeatureVector, criteria Criteria) Result {
	result := Result{
		Candidates: []Candidate{},
		Rejected:   []Rejection{},
		LayerCounts: map[string]int{
			LayerEligibility:  0,
			LayerQuality:      0,
			LayerStability:    0,
			LayerPeerRelative: 0,
		},
	}

	var survivors []features.FeatureVector
	for i := range vectors {
		v := &vectors[i]

		if reason := checkEligibility(v, criteria); reason != "" {
			result.reject(v.Symbol, LayerEligibility, reason)
			continue
		}
		if reason := checkQuality(v, criteria); reason != "" {
			result.reject(v.Symbol, LayerQuality, reason)
			continue
		}
		if reason := checkStability(v, criteria); reason != "" {
			result.reject(v.Symbol, LayerStability, reason)
			continue
		}
		survivors = append(survivors, *v)
	}

	entries := computeZScores(survivors, criteria.MinPeerGroupSize)
	for i := range survivors {
		v := &survivors[i]
		entry := entries[v.Symbol]

		if entry.composite < criteria.ZScoreThreshold {
			result.reject(v.Symbol, LayerPeerRelative,
				fmt.Sprintf("composite z-score %.2f below threshold %.2f", entry.composite, criteria.ZScoreThreshold))
			continue
		}

		result.Candidates = append(result.Candidates, Candidate{
			Symbol:     v.Symbol,
			Sector:     v.Sector,
			Features:   *v,
			ZScores:    entry.scores,
			ZComposite: formulas.Round3(entry.composite),
		})
	}

	s.log.Info().
		Int("input", len(vectors)).
		Int("candidates", len(result.Candidates)).
		Interface("layer_counts", result.LayerCounts).
		Msg("Screening completed")

	return result
}

func checkEligibility(v *features.FeatureVector, c Criteria) string {
	if !v.Active {
		return "security is inactive"
	}

	for _, sector := range c.ExcludedSectors {
		if strings.EqualFold(strings.TrimSpace(sector), v.Sector) {
			return fmt.Sprintf("sector %s is excluded", v.Sector)
		}
	}

	if c.RequireCompleteData && !v.DataQuality.Complete {
		return "incomplete data"
	}

	if c.MinMarketCap > 0 && v.Fundamental.MarketCap != nil && *v.Fundamental.MarketCap < c.MinMarketCap {
		return fmt.Sprintf("market cap %.0f below minimum %.0f", *v.Fundamental.MarketCap, c.MinMarketCap)
	}

	return ""
}

// checkQuality applies the hard fundamental gates. A gate only fires when
// its metric is present; the dividend floor is the exception, vendors omit
// the field when there is no dividend at all.
func checkQuality(v *features.FeatureVector, c Criteria) string {
	f := &v.Fundamental

	if c.MinROE > 0 && f.ROE != nil && *f.ROE < c.MinROE {
		return fmt.Sprintf("roe %.2f below floor %.2f", *f.ROE, c.MinROE)
	}

	if c.MaxDebtToEquity > 0 && f.DebtToEquity != nil && *f.DebtToEquity > c.MaxDebtToEquity {
		return fmt.Sprintf("debt to equity %.2f above ceiling %.2f", *f.DebtToEquity, c.MaxDebtToEquity)
	}

	// Negative PE means negative earnings; the ratio is meaningless there
	// and the peer layer handles it through the growth and quality signals.
	if c.MaxPE > 0 && f.PE != nil && *f.PE > 0 && *f.PE > c.MaxPE {
		return fmt.Sprintf("pe %.1f above ceiling %.1f", *f.PE, c.MaxPE)
	}

	if c.MinDividendYield > 0 {
		yield := 0.0
		if f.DividendYield != nil {
			yield = *f.DividendYield
		}
		if yield < c.MinDividendYield {
			return fmt.Sprintf("dividend yield %.3f below floor %.3f", yield, c.MinDividendYield)
		}
	}

	return ""
}

func checkStability(v *features.FeatureVector, c Criteria) string {
	vol := v.Technical.VolatilityAnnualized
	if c.MaxVolatility > 0 && vol != nil && *vol > c.MaxVolatility {
		return fmt.Sprintf("volatility %.2f above cap %.2f", *vol, c.MaxVolatility)
	}
	return ""
}

// zSignal describes one factor entering the composite.
type zSignal struct {
	name   string
	invert bool
	get    func(*features.FeatureVector) *float64
}

var zSignals = []zSignal{
	{"roe", false, func(v *features.FeatureVector) *float64 { return v.Fundamental.ROE }},
	{"earnings_growth", false, func(v *features.FeatureVector) *float64 { return v.Fundamental.EarningsGrowth }},
	{"momentum_6m", false, func(v *features.FeatureVector) *float64 { return v.Technical.Momentum6M }},
	{"pe", true, func(v *features.FeatureVector) *float64 {
		if v.Fundamental.PE != nil && *v.Fundamental.PE > 0 {
			return v.Fundamental.PE
		}
		return nil
	}},
	{"debt_to_equity", true, func(v *features.FeatureVector) *float64 { return v.Fundamental.DebtToEquity }},
}

type zEntry struct {
	scores    map[string]float64
	composite float64
}

const globalCohortKey = "__global__"

// computeZScores produces per-symbol z-scores and composites over the layer-4
// entrants. Peer statistics come from the symbol's sector group when the
// group is large enough, otherwise from the whole cohort; symbols without a
// sector always compare globally.
func computeZScores(vectors []features.FeatureVector, minPeerGroup int) map[string]zEntry {
	bySector := make(map[string][]int)
	all := make([]int, len(vectors))
	for i := range vectors {
		all[i] = i
		if sector := vectors[i].Sector; sector != "" {
			bySector[sector] = append(bySector[sector], i)
		}
	}

	type statsKey struct{ group, signal string }
	statsCache := make(map[statsKey][2]float64)

	statsFor := func(groupKey string, members []int, sig zSignal) (float64, float64) {
		key := statsKey{groupKey, sig.name}
		if cached, ok := statsCache[key]; ok {
			return cached[0], cached[1]
		}

		var values []float64
		for _, idx := range members {
			if val := sig.get(&vectors[idx]); val != nil {
				values = append(values, *val)
			}
		}

		mean, std := 0.0, 0.0
		if len(values) >= 2 {
			mean = formulas.Mean(values)
			std = formulas.StdDev(values)
		}
		statsCache[key] = [2]float64{mean, std}
		return mean, std
	}

	entries := make(map[string]zEntry, len(vectors))
	for i := range vectors {
		v := &vectors[i]

		groupKey := globalCohortKey
		members := all
		if sectorMembers, ok := bySector[v.Sector]; ok && len(sectorMembers) >= minPeerGroup {
			groupKey = v.Sector
			members = sectorMembers
		}

		scores := make(map[string]float64)
		sum, present := 0.0, 0

		for _, sig := range zSignals {
			val := sig.get(v)
			if val == nil {
				continue
			}

			mean, std := statsFor(groupKey, members, sig)
			z := 0.0
			if std > 0 {
				z = formulas.Clamp((*val-mean)/std, -zScoreBound, zScoreBound)
			}

			scores[sig.name] = formulas.Round3(z)
			if sig.invert {
				sum -= z
			} else {
				sum += z
			}
			present++
		}

		composite := 0.0
		if present > 0 {
			composite = sum / float64(present)
		}

		entries[v.Symbol] = zEntry{scores: scores, composite: composite}
	}

	return entries
}
