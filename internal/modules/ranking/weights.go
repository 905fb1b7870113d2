// Package ranking orders screened candidates by a weighted composite of
// five pillar scores and persists the result for downstream consumers.
package ranking

import (
	"fmt"
	"math"

	"github.com/aristath/steward/internal/modules/sentiment"
)

// Pillar names, used as keys in RankedSecurity.Pillars and Components.
const (
	PillarValue     = "value"
	PillarQuality   = "quality"
	PillarMomentum  = "momentum"
	PillarSentiment = "sentiment"
	PillarStability = "stability"
)

// weightSumTolerance is how far from 1.0 a weight override may sum.
const weightSumTolerance = 0.001

// regimeTilt is how much a market regime shifts pillar weights.
const regimeTilt = 0.05

// Weights defines the contribution of each pillar to the composite score.
type Weights struct {
	Value     float64 `json:"value"`
	Quality   float64 `json:"quality"`
	Momentum  float64 `json:"momentum"`
	Sentiment float64 `json:"sentiment"`
	Stability float64 `json:"stability"`
}

// DefaultWeights returns the baseline pillar weights.
func DefaultWeights() Weights {
	return Weights{
		Value:     0.25,
		Quality:   0.25,
		Momentum:  0.20,
		Sentiment: 0.15,
		Stability: 0.15,
	}
}

// Validate checks that every weight is non-negative and the sum is within
// tolerance of 1.0. Regime tilts renormalize afterwards, so exact sums are
// not required.
func (w Weights) Validate() error {
	for name, v := range w.asMap() {
		if v < 0 {
			return fmt.Errorf("ranking weight %s cannot be negative, got %.4f", name, v)
		}
	}

	sum := w.sum()
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("ranking weights must sum to 1.0, got %.4f", sum)
	}

	return nil
}

// ForRegime tilts the weights for the current market regime and
// renormalizes so they sum to 1.0 again.
// Bull markets lean into momentum at the expense of value; bear markets
// lean into stability at the expense of momentum. Sideways leaves the
// weights untouched.
func (w Weights) ForRegime(regime sentiment.MarketRegime) Weights {
	tilted := w

	switch regime {
	case sentiment.RegimeBull:
		tilted.Momentum += regimeTilt
		tilted.Value -= regimeTilt
	case sentiment.RegimeBear:
		tilted.Stability += regimeTilt
		tilted.Momentum -= regimeTilt
	}

	// A tilt can push a small override below zero; floor before renormalizing
	tilted.Value = math.Max(0, tilted.Value)
	tilted.Quality = math.Max(0, tilted.Quality)
	tilted.Momentum = math.Max(0, tilted.Momentum)
	tilted.Sentiment = math.Max(0, tilted.Sentiment)
	tilted.Stability = math.Max(0, tilted.Stability)

	sum := tilted.sum()
	if sum <= 0 {
		return DefaultWeights()
	}

	tilted.Value /= sum
	tilted.Quality /= sum
	tilted.Momentum /= sum
	tilted.Sentiment /= sum
	tilted.Stability /= sum

	return tilted
}

func (w Weights) sum() float64 {
	return w.Value + w.Quality + w.Momentum + w.Sentiment + w.Stability
}

func (w Weights) asMap() map[string]float64 {
	return map[string]float64{
		PillarValue:     w.Value,
		PillarQuality:   w.Quality,
		PillarMomentum:  w.Momentum,
		PillarSentiment: w.Sentiment,
		PillarStability: w.Stability,
	}
}
