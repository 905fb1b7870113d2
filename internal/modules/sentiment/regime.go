// Package sentiment provides market regime detection and per-symbol
// sentiment scoring from imported analyst and news records.
package sentiment

import (
	"math"
	"time"

	"github.com/aristath/steward/pkg/formulas"
	"github.com/rs/zerolog"
)

// MarketRegime represents the current market condition.
type MarketRegime string

const (
	RegimeBull     MarketRegime = "bull"
	RegimeBear     MarketRegime = "bear"
	RegimeSideways MarketRegime = "sideways"
)

// Classification thresholds over daily return statistics.
const (
	// Bull: average daily return > 0.05% (roughly 18% annualized),
	// drawdown shallower than 10%, volatility below 4% daily.
	bullDailyReturn   = 0.0005
	bullMaxDrawdown   = -0.10
	bullMaxVolatility = 0.04

	// Bear: average daily return < -0.05%, OR drawdown past 12%,
	// OR daily volatility above 3%.
	bearDailyReturn = -0.0005
	bearMaxDrawdown = -0.12
	bearVolatility  = 0.03
)

// Normalization midpoints for the continuous score components.
const (
	returnScoreScale  = 0.001 // daily return mapping full scale
	volScoreMidpoint  = 0.03  // daily volatility considered neutral
	volScoreScale     = 0.02
	ddScoreMidpoint   = -0.11 // drawdown considered neutral
	ddScoreScale      = 0.11
	scoreCompression  = 2.0 // tanh steepness
	returnScoreWeight = 0.50
	volScoreWeight    = 0.25
	ddScoreWeight     = 0.25
)

// Snapshot is the detector output for one window.
type Snapshot struct {
	Regime         MarketRegime `json:"regime"`
	Score          float64      `json:"score"` // -1 (deep bear) .. +1 (strong bull)
	AvgDailyReturn float64      `json:"avg_daily_return"`
	Volatility     float64      `json:"volatility"`
	MaxDrawdown    float64      `json:"max_drawdown"`
	Window         int          `json:"window"`
	Symbols        int          `json:"symbols"`
	AsOf           time.Time    `json:"as_of"`
}

// RegimeDetector classifies market conditions from daily return statistics.
type RegimeDetector struct {
	log zerolog.Logger
}

// NewRegimeDetector creates a new market regime detector.
func NewRegimeDetector(log zerolog.Logger) *RegimeDetector {
	return &RegimeDetector{
		log: log.With().Str("component", "regime_detector").Logger(),
	}
}

// Classify determines the regime from window statistics.
// All inputs are daily (not annualized); maxDrawdown is a negative fraction.
func (d *RegimeDetector) Classify(avgReturn, volatility, maxDrawdown float64) MarketRegime {
	if avgReturn > bullDailyReturn && maxDrawdown > bullMaxDrawdown && volatility < bullMaxVolatility {
		return RegimeBull
	}

	if avgReturn < bearDailyReturn || maxDrawdown < bearMaxDrawdown || volatility > bearVolatility {
		return RegimeBear
	}

	return RegimeSideways
}

// Score maps the window statistics onto a continuous regime score in [-1, 1].
// Each metric is normalized to [-1, 1] as signed distance from its neutral
// level, blended (return weighted double), then compressed with tanh so small
// readings stay sensitive while extremes saturate.
func (d *RegimeDetector) Score(avgReturn, volatility, maxDrawdown float64) float64 {
	returnComponent := formulas.Clamp(avgReturn/returnScoreScale, -1, 1)
	volComponent := formulas.Clamp((volScoreMidpoint-volatility)/volScoreScale, -1, 1)
	ddComponent := formulas.Clamp((maxDrawdown-ddScoreMidpoint)/ddScoreScale, -1, 1)

	raw := returnScoreWeight*returnComponent + volScoreWeight*volComponent + ddScoreWeight*ddComponent
	return math.Tanh(scoreCompression * raw)
}

// DetectFromReturns classifies the trailing window of a daily return series.
// Insufficient data falls back to a sideways snapshot with a zero score.
func (d *RegimeDetector) DetectFromReturns(returns []float64, window int) Snapshot {
	now := time.Now().UTC()

	if window <= 0 || len(returns) < window {
		d.log.Warn().
			Int("returns_len", len(returns)).
			Int("window", window).
			Msg("Insufficient data for regime detection, defaulting to sideways")
		return Snapshot{Regime: RegimeSideways, Window: window, AsOf: now}
	}

	recent := returns[len(returns)-window:]
	avgReturn := formulas.Mean(recent)
	volatility := formulas.StdDev(recent)
	maxDrawdown := formulas.CalculateMaxDrawdown(recent)

	regime := d.Classify(avgReturn, volatility, maxDrawdown)
	score := d.Score(avgReturn, volatility, maxDrawdown)

	d.log.Debug().
		Str("regime", string(regime)).
		Float64("score", score).
		Float64("avg_daily_return", avgReturn).
		Float64("volatility", volatility).
		Float64("max_drawdown", maxDrawdown).
		Msg("Detected market regime")

	return Snapshot{
		Regime:         regime,
		Score:          formulas.Round3(score),
		AvgDailyReturn: avgReturn,
		Volatility:     volatility,
		MaxDrawdown:    maxDrawdown,
		Window:         window,
		AsOf:           now,
	}
}
