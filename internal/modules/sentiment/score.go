package sentiment

import "github.com/aristath/steward/pkg/formulas"

// Blend weights: analyst consensus moves slower and is better calibrated
// than news flow, so it carries the larger share.
const (
	analystBlendWeight = 0.60
	newsBlendWeight    = 0.40

	// NeutralScore is the blended score when no sentiment inputs exist.
	NeutralScore = 0.5

	// Ratings backed by fewer analysts shrink toward neutral;
	// this many gives full weight.
	fullConfidenceAnalysts = 5
)

// AnalystScore maps a consensus rating (1 = strong buy .. 5 = sell) onto
// [0, 1], higher is better. A thin analyst base shrinks the signal toward
// neutral; a nil count is treated as full confidence.
func AnalystScore(rating float64, count *int) float64 {
	raw := (5 - formulas.Clamp(rating, 1, 5)) / 4

	confidence := 1.0
	if count != nil {
		confidence = formulas.Clamp(float64(*count)/fullConfidenceAnalysts, 0, 1)
	}

	return NeutralScore + (raw-NeutralScore)*confidence
}

// NormalizeNews maps a news score in [-1, 1] onto [0, 1].
func NormalizeNews(news float64) float64 {
	return (formulas.Clamp(news, -1, 1) + 1) / 2
}

// Blend combines analyst consensus and news tone into one score in [0, 1].
// Missing inputs fall back to whichever signal is present; with neither the
// result is neutral, never an error.
func Blend(rating *float64, count *int, news *float64) float64 {
	switch {
	case rating != nil && news != nil:
		return analystBlendWeight*AnalystScore(*rating, count) + newsBlendWeight*NormalizeNews(*news)
	case rating != nil:
		return AnalystScore(*rating, count)
	case news != nil:
		return NormalizeNews(*news)
	default:
		return NeutralScore
	}
}
