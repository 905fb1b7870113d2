package ranking

import (
	"math"

	"github.com/aristath/steward/internal/modules/features"
	"github.com/aristath/steward/internal/modules/sentiment"
	"github.com/aristath/steward/pkg/formulas"
)

// DefaultMarketAvgPE anchors the value pillar's PE comparison when no
// setting overrides it.
const DefaultMarketAvgPE = 22.0

// PillarScore is the result of one pillar scorer. Score is in [0,1] and
// Components holds the sub-scores that produced it.
type PillarScore struct {
	Components map[string]float64 `json:"components"`
	Score      float64            `json:"score"`
}

func neutralPillar(components ...string) PillarScore {
	m := make(map[string]float64, len(components))
	for _, c := range components {
		m[c] = 0.5
	}
	return PillarScore{Score: 0.5, Components: m}
}

// scoreValue rates how cheaply the market prices the security.
// Components:
// - PE vs market average (45%): below average = cheap
// - Price to book (30%): low multiples score higher
// - Dividend yield (25%): income with a haircut for trap-level yields
func scoreValue(v *features.FeatureVector, marketAvgPE float64) PillarScore {
	if !v.DataQuality.HasFundamentals {
		return neutralPillar("pe", "pb", "dividend")
	}

	peScore := scorePE(v.Fundamental.PE, v.Fundamental.ForwardPE, marketAvgPE)
	pbScore := scorePB(v.Fundamental.PB)
	divScore := scoreDividendYield(v.Fundamental.DividendYield)

	total := peScore*0.45 + pbScore*0.30 + divScore*0.25

	return PillarScore{
		Score: formulas.Round3(total),
		Components: map[string]float64{
			"pe":       formulas.Round3(peScore),
			"pb":       formulas.Round3(pbScore),
			"dividend": formulas.Round3(divScore),
		},
	}
}

// scoreQuality rates the health of the underlying business.
// Components:
// - ROE (35%): return on equity
// - Margins (25%): profit and operating margin average
// - Debt (20%): leverage, lower is better
// - Growth (20%): earnings and revenue growth average
func scoreQuality(v *features.FeatureVector) PillarScore {
	if !v.DataQuality.HasFundamentals {
		return neutralPillar("roe", "margins", "debt", "growth")
	}

	roeScore := scoreROE(v.Fundamental.ROE)
	marginScore := averagePresent(
		scoreMarginPtr(v.Fundamental.ProfitMargin),
		scoreMarginPtr(v.Fundamental.OperatingMargin),
	)
	debtScore := scoreDebt(v.Fundamental.DebtToEquity)
	growthScore := averagePresent(
		scoreGrowthPtr(v.Fundamental.EarningsGrowth),
		scoreGrowthPtr(v.Fundamental.RevenueGrowth),
	)

	total := roeScore*0.35 + marginScore*0.25 + debtScore*0.20 + growthScore*0.20

	return PillarScore{
		Score: formulas.Round3(total),
		Components: map[string]float64{
			"roe":     formulas.Round3(roeScore),
			"margins": formulas.Round3(marginScore),
			"debt":    formulas.Round3(debtScore),
			"growth":  formulas.Round3(growthScore),
		},
	}
}

// scoreMomentum rates price trend strength.
// Components:
// - 6-month momentum (35%)
// - 3-month momentum (25%)
// - RSI sweet band (20%): healthy trend, neither washed out nor overbought
// - 52-week position (20%): strength relative to the year's range
func scoreMomentum(v *features.FeatureVector) PillarScore {
	if !v.DataQuality.HasPrices {
		return neutralPillar("momentum_6m", "momentum_3m", "rsi", "position_52w")
	}

	m6Score := 0.5
	if v.Technical.Momentum6M != nil {
		m6Score = scoreMomentumReturn(*v.Technical.Momentum6M)
	}
	m3Score := 0.5
	if v.Technical.Momentum3M != nil {
		m3Score = scoreMomentumReturn(*v.Technical.Momentum3M)
	}
	rsiScore := scoreRSIBand(v.Technical.RSI14)
	posScore := 0.1 + formulas.Clamp(v.Technical.PricePosition52w, 0, 1)*0.9

	total := m6Score*0.35 + m3Score*0.25 + rsiScore*0.20 + posScore*0.20

	return PillarScore{
		Score: formulas.Round3(total),
		Components: map[string]float64{
			"momentum_6m":  formulas.Round3(m6Score),
			"momentum_3m":  formulas.Round3(m3Score),
			"rsi":          formulas.Round3(rsiScore),
			"position_52w": formulas.Round3(posScore),
		},
	}
}

// scoreSentiment passes through the blended analyst/news score computed by
// the feature engine. It is already neutral 0.5 when coverage is missing.
func scoreSentiment(v *features.FeatureVector) PillarScore {
	return PillarScore{
		Score: formulas.Round3(v.Qualitative.SentimentScore),
		Components: map[string]float64{
			"analyst": formulas.Round3(v.Qualitative.AnalystScore),
			"news":    formulas.Round3(sentiment.NormalizeNews(v.Qualitative.NewsScore)),
		},
	}
}

// scoreStability rates how calmly the security trades.
// Components:
// - Volatility (45%): inverted, low volatility scores higher
// - Beta (30%): closeness to market beta of 1
// - Size (25%): larger market caps are steadier
func scoreStability(v *features.FeatureVector) PillarScore {
	volScore := 0.5
	if v.Technical.VolatilityAnnualized != nil {
		volScore = scoreVolatility(*v.Technical.VolatilityAnnualized)
	}
	betaScore := 0.5
	if v.Fundamental.Beta != nil {
		betaScore = scoreBeta(*v.Fundamental.Beta)
	}
	sizeScore := 0.5
	if v.Fundamental.MarketCap != nil {
		sizeScore = scoreMarketCap(*v.Fundamental.MarketCap)
	}

	total := volScore*0.45 + betaScore*0.30 + sizeScore*0.25

	return PillarScore{
		Score: formulas.Round3(total),
		Components: map[string]float64{
			"volatility": formulas.Round3(volScore),
			"beta":       formulas.Round3(betaScore),
			"size":       formulas.Round3(sizeScore),
		},
	}
}

// scorePE scores the PE ratio against the market average.
// Below average = HIGHER score (cheap).
func scorePE(peRatio, forwardPE *float64, marketAvgPE float64) float64 {
	if peRatio == nil || *peRatio <= 0 || marketAvgPE <= 0 {
		// Missing or negative earnings, unknown = risky
		return 0.3
	}

	effectivePE := *peRatio
	if forwardPE != nil && *forwardPE > 0 {
		effectivePE = (*peRatio + *forwardPE) / 2
	}

	pctDiff := (effectivePE - marketAvgPE) / marketAvgPE

	switch {
	case pctDiff >= 0.20: // 20%+ above average
		return 0.2
	case pctDiff >= 0: // 0-20% above
		return 0.5 - (pctDiff/0.20)*0.3
	case pctDiff >= -0.10: // 0-10% below
		return 0.5 + (math.Abs(pctDiff)/0.10)*0.2
	case pctDiff >= -0.20: // 10-20% below
		return 0.7 + ((math.Abs(pctDiff)-0.10)/0.10)*0.3
	default: // 20%+ below
		return 1.0
	}
}

// scorePB scores the price-to-book multiple. Low multiples score higher;
// negative book value is treated like missing earnings.
func scorePB(pb *float64) float64 {
	if pb == nil {
		return 0.5
	}
	if *pb <= 0 {
		return 0.3
	}

	switch {
	case *pb < 1.0:
		return 1.0
	case *pb < 3.0:
		return 1.0 - ((*pb-1.0)/2.0)*0.5 // 1.0-0.5
	case *pb < 6.0:
		return 0.5 - ((*pb-3.0)/3.0)*0.3 // 0.5-0.2
	default:
		return 0.2
	}
}

// scoreDividendYield scores income contribution. Double-digit yields
// usually price in a cut, so the curve folds back down past 6%.
func scoreDividendYield(yield *float64) float64 {
	if yield == nil || *yield <= 0 {
		return 0.3
	}

	y := *yield
	switch {
	case y < 0.02:
		return 0.3 + (y/0.02)*0.3 // 0.3-0.6
	case y < 0.04:
		return 0.6 + ((y-0.02)/0.02)*0.3 // 0.6-0.9
	case y < 0.06:
		return 0.9 + ((y-0.04)/0.02)*0.1 // 0.9-1.0
	case y < 0.10:
		return 1.0 - ((y-0.06)/0.04)*0.4 // 1.0-0.6
	default:
		return 0.5
	}
}

// scoreROE scores return on equity.
func scoreROE(roe *float64) float64 {
	if roe == nil {
		return 0.5
	}
	if *roe <= 0 {
		return 0.1
	}

	r := *roe
	switch {
	case r < 0.08:
		return 0.1 + (r/0.08)*0.4 // 0.1-0.5
	case r < 0.15:
		return 0.5 + ((r-0.08)/0.07)*0.3 // 0.5-0.8
	case r < 0.25:
		return 0.8 + ((r-0.15)/0.10)*0.2 // 0.8-1.0
	default:
		return 1.0
	}
}

// scoreMarginPtr scores a profitability margin, or returns nil when the
// input is missing so averagePresent can skip it.
func scoreMarginPtr(margin *float64) *float64 {
	if margin == nil {
		return nil
	}

	m := *margin
	var score float64
	switch {
	case m <= 0:
		score = 0.1
	case m < 0.05:
		score = 0.1 + (m/0.05)*0.4 // 0.1-0.5
	case m < 0.15:
		score = 0.5 + ((m-0.05)/0.10)*0.3 // 0.5-0.8
	case m < 0.30:
		score = 0.8 + ((m-0.15)/0.15)*0.2 // 0.8-1.0
	default:
		score = 1.0
	}
	return &score
}

// scoreDebt scores the debt-to-equity ratio. Lower leverage scores higher;
// zero or negative means net cash.
func scoreDebt(debtToEquity *float64) float64 {
	if debtToEquity == nil {
		return 0.5
	}

	d := *debtToEquity
	switch {
	case d <= 0:
		return 1.0
	case d < 0.5:
		return 1.0 - (d/0.5)*0.2 // 1.0-0.8
	case d < 1.0:
		return 0.8 - ((d-0.5)/0.5)*0.2 // 0.8-0.6
	case d < 2.0:
		return 0.6 - ((d-1.0)/1.0)*0.3 // 0.6-0.3
	case d < 4.0:
		return 0.3 - ((d-2.0)/2.0)*0.2 // 0.3-0.1
	default:
		return 0.1
	}
}

// scoreGrowthPtr scores a year-over-year growth rate, or returns nil when
// the input is missing.
func scoreGrowthPtr(growth *float64) *float64 {
	if growth == nil {
		return nil
	}

	g := *growth
	var score float64
	switch {
	case g <= -0.10:
		score = 0.1
	case g < 0:
		score = 0.1 + ((g+0.10)/0.10)*0.3 // 0.1-0.4
	case g < 0.10:
		score = 0.4 + (g/0.10)*0.3 // 0.4-0.7
	case g < 0.25:
		score = 0.7 + ((g-0.10)/0.15)*0.3 // 0.7-1.0
	default:
		score = 1.0
	}
	return &score
}

// scoreMomentumReturn scores a trailing return. Positive trend scores
// higher, capped so runaway moves do not dominate.
func scoreMomentumReturn(m float64) float64 {
	switch {
	case m <= -0.20:
		return 0.0
	case m < 0:
		return ((m + 0.20) / 0.20) * 0.4 // 0.0-0.4
	case m < 0.10:
		return 0.4 + (m/0.10)*0.3 // 0.4-0.7
	case m < 0.30:
		return 0.7 + ((m-0.10)/0.20)*0.3 // 0.7-1.0
	default:
		return 1.0
	}
}

// scoreRSIBand scores RSI for trend health. The 45-65 band is the sweet
// spot: momentum without being overbought.
func scoreRSIBand(rsi float64) float64 {
	switch {
	case rsi <= 20:
		return 0.2
	case rsi < 45:
		return 0.2 + ((rsi-20)/25)*0.8 // 0.2-1.0
	case rsi <= 65:
		return 1.0
	case rsi < 85:
		return 1.0 - (rsi-65)/20 // 1.0-0.0
	default:
		return 0.0
	}
}

// scoreVolatility scores annualized volatility, inverted.
func scoreVolatility(vol float64) float64 {
	switch {
	case vol <= 0.15:
		return 1.0
	case vol < 0.30:
		return 1.0 - ((vol-0.15)/0.15)*0.3 // 1.0-0.7
	case vol < 0.50:
		return 0.7 - ((vol-0.30)/0.20)*0.3 // 0.7-0.4
	case vol < 0.80:
		return 0.4 - ((vol-0.50)/0.30)*0.3 // 0.4-0.1
	default:
		return 0.1
	}
}

// scoreBeta scores closeness to a market beta of 1.0.
func scoreBeta(beta float64) float64 {
	dist := math.Abs(beta - 1.0)
	return math.Max(0.2, 1.0-0.8*dist)
}

// scoreMarketCap scores company size. Larger caps trade steadier.
func scoreMarketCap(marketCap float64) float64 {
	switch {
	case marketCap >= 200e9:
		return 1.0
	case marketCap >= 10e9:
		return 0.7 + ((marketCap-10e9)/190e9)*0.3 // 0.7-1.0
	case marketCap >= 2e9:
		return 0.5 + ((marketCap-2e9)/8e9)*0.2 // 0.5-0.7
	case marketCap >= 0.5e9:
		return 0.3 + ((marketCap-0.5e9)/1.5e9)*0.2 // 0.3-0.5
	default:
		return 0.2
	}
}

// averagePresent averages the non-nil scores, or returns neutral 0.5 when
// none are present.
func averagePresent(scores ...*float64) float64 {
	sum := 0.0
	count := 0
	for _, s := range scores {
		if s != nil {
			sum += *s
			count++
		}
	}
	if count == 0 {
		return 0.5
	}
	return sum / float64(count)
}
