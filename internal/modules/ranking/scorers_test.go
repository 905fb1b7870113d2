package ranking

import (
	"testing"

	"github.com/aristath/steward/internal/modules/features"
	"github.com/stretchr/testify/assert"
)

func fptr(v float64) *float64 { return &v }

func fundamentalsVec() features.FeatureVector {
	v := features.FeatureVector{Symbol: "TEST", Active: true}
	v.DataQuality.HasFundamentals = true
	return v
}

func TestScoreValue_CheapPayerScoresHigh(t *testing.T) {
	v := fundamentalsVec()
	v.Fundamental.PE = fptr(15)
	v.Fundamental.PB = fptr(0.8)
	v.Fundamental.DividendYield = fptr(0.03)

	result := scoreValue(&v, DefaultMarketAvgPE)

	assert.Greater(t, result.Score, 0.9)
	assert.InDelta(t, 1.0, result.Components["pe"], 1e-9)
	assert.InDelta(t, 1.0, result.Components["pb"], 1e-9)
	assert.InDelta(t, 0.75, result.Components["dividend"], 0.001)
}

func TestScoreValue_ExpensiveScoresLow(t *testing.T) {
	v := fundamentalsVec()
	v.Fundamental.PE = fptr(40)
	v.Fundamental.PB = fptr(8)

	result := scoreValue(&v, DefaultMarketAvgPE)

	assert.Less(t, result.Score, 0.3)
}

func TestScoreValue_MissingFundamentalsIsNeutral(t *testing.T) {
	v := features.FeatureVector{Symbol: "TEST", Active: true}

	result := scoreValue(&v, DefaultMarketAvgPE)

	assert.InDelta(t, 0.5, result.Score, 1e-9)
	assert.InDelta(t, 0.5, result.Components["pe"], 1e-9)
	assert.InDelta(t, 0.5, result.Components["pb"], 1e-9)
	assert.InDelta(t, 0.5, result.Components["dividend"], 1e-9)
}

func TestScorePE(t *testing.T) {
	tests := []struct {
		name      string
		pe        *float64
		forwardPE *float64
		want      float64
	}{
		{"missing pe is risky", nil, nil, 0.3},
		{"negative pe is risky", fptr(-12), nil, 0.3},
		{"at market average", fptr(22), nil, 0.5},
		{"forward blend pulls to average", fptr(30), fptr(14), 0.5},
		{"ten percent above", fptr(24.2), nil, 0.35},
		{"deep discount", fptr(15), nil, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, scorePE(tt.pe, tt.forwardPE, 22.0), 0.001)
		})
	}
}

func TestScoreDividendYield(t *testing.T) {
	tests := []struct {
		name  string
		yield *float64
		want  float64
	}{
		{"no dividend", nil, 0.3},
		{"zero yield", fptr(0), 0.3},
		{"moderate yield", fptr(0.03), 0.75},
		{"strong yield", fptr(0.05), 0.95},
		{"trap level yield folds back", fptr(0.12), 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, scoreDividendYield(tt.yield), 0.001)
		})
	}
}

func TestScoreQuality_StrongBusiness(t *testing.T) {
	v := fundamentalsVec()
	v.Fundamental.ROE = fptr(0.20)
	v.Fundamental.ProfitMargin = fptr(0.20)
	v.Fundamental.OperatingMargin = fptr(0.25)
	v.Fundamental.DebtToEquity = fptr(0.3)
	v.Fundamental.EarningsGrowth = fptr(0.15)
	v.Fundamental.RevenueGrowth = fptr(0.08)

	result := scoreQuality(&v)

	assert.Greater(t, result.Score, 0.8)
	assert.Greater(t, result.Components["roe"], 0.85)
	assert.Greater(t, result.Components["debt"], 0.85)
}

func TestScoreQuality_WeakBusiness(t *testing.T) {
	v := fundamentalsVec()
	v.Fundamental.ROE = fptr(-0.05)
	v.Fundamental.ProfitMargin = fptr(-0.10)
	v.Fundamental.DebtToEquity = fptr(5.0)
	v.Fundamental.EarningsGrowth = fptr(-0.30)

	result := scoreQuality(&v)

	assert.Less(t, result.Score, 0.2)
}

func TestScoreQuality_MissingMetricsStayNeutral(t *testing.T) {
	v := fundamentalsVec()
	v.Fundamental.ROE = fptr(0.15)

	result := scoreQuality(&v)

	assert.InDelta(t, 0.5, result.Components["margins"], 1e-9)
	assert.InDelta(t, 0.5, result.Components["debt"], 1e-9)
	assert.InDelta(t, 0.5, result.Components["growth"], 1e-9)
	assert.InDelta(t, 0.8, result.Components["roe"], 0.001)
}

func TestScoreMomentum_StrongTrend(t *testing.T) {
	v := features.FeatureVector{Symbol: "TEST", Active: true}
	v.DataQuality.HasPrices = true
	v.Technical.Momentum6M = fptr(0.25)
	v.Technical.Momentum3M = fptr(0.12)
	v.Technical.RSI14 = 55
	v.Technical.PricePosition52w = 0.9

	result := scoreMomentum(&v)

	assert.Greater(t, result.Score, 0.8)
	assert.InDelta(t, 1.0, result.Components["rsi"], 1e-9)
}

func TestScoreMomentum_Downtrend(t *testing.T) {
	v := features.FeatureVector{Symbol: "TEST", Active: true}
	v.DataQuality.HasPrices = true
	v.Technical.Momentum6M = fptr(-0.25)
	v.Technical.Momentum3M = fptr(-0.15)
	v.Technical.RSI14 = 25
	v.Technical.PricePosition52w = 0.05

	result := scoreMomentum(&v)

	assert.Less(t, result.Score, 0.2)
}

func TestScoreMomentum_NoPricesIsNeutral(t *testing.T) {
	v := features.FeatureVector{Symbol: "TEST", Active: true}
	v.Technical.RSI14 = features.NeutralRSI
	v.Technical.PricePosition52w = features.NeutralPricePos

	result := scoreMomentum(&v)

	assert.InDelta(t, 0.5, result.Score, 1e-9)
}

func TestScoreRSIBand(t *testing.T) {
	tests := []struct {
		name string
		rsi  float64
		want float64
	}{
		{"washed out", 10, 0.2},
		{"recovering", 30, 0.52},
		{"sweet band", 50, 1.0},
		{"getting hot", 70, 0.75},
		{"overbought", 90, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, scoreRSIBand(tt.rsi), 0.001)
		})
	}
}

func TestScoreSentiment_PassesThroughBlend(t *testing.T) {
	v := features.FeatureVector{Symbol: "TEST", Active: true}
	v.Qualitative.AnalystScore = 1.0
	v.Qualitative.NewsScore = 0.5
	v.Qualitative.SentimentScore = 0.9

	result := scoreSentiment(&v)

	assert.InDelta(t, 0.9, result.Score, 1e-9)
	assert.InDelta(t, 1.0, result.Components["analyst"], 1e-9)
	assert.InDelta(t, 0.75, result.Components["news"], 1e-9)
}

func TestScoreStability_CalmLargeCap(t *testing.T) {
	v := features.FeatureVector{Symbol: "TEST", Active: true}
	v.Technical.VolatilityAnnualized = fptr(0.12)
	v.Fundamental.Beta = fptr(1.0)
	v.Fundamental.MarketCap = fptr(500e9)

	result := scoreStability(&v)

	assert.InDelta(t, 1.0, result.Score, 1e-9)
}

func TestScoreStability_WildSmallCap(t *testing.T) {
	v := features.FeatureVector{Symbol: "TEST", Active: true}
	v.Technical.VolatilityAnnualized = fptr(0.9)
	v.Fundamental.Beta = fptr(2.5)
	v.Fundamental.MarketCap = fptr(100e6)

	result := scoreStability(&v)

	assert.Less(t, result.Score, 0.2)
}

func TestPillarScores_StayInRange(t *testing.T) {
	extreme := []features.FeatureVector{
		{},
		func() features.FeatureVector {
			v := fundamentalsVec()
			v.DataQuality.HasPrices = true
			v.Fundamental.PE = fptr(1000)
			v.Fundamental.PB = fptr(500)
			v.Fundamental.ROE = fptr(5.0)
			v.Fundamental.DebtToEquity = fptr(100)
			v.Fundamental.DividendYield = fptr(0.5)
			v.Fundamental.MarketCap = fptr(5e12)
			v.Fundamental.Beta = fptr(-3)
			v.Technical.Momentum6M = fptr(4.0)
			v.Technical.Momentum3M = fptr(-0.95)
			v.Technical.RSI14 = 99
			v.Technical.PricePosition52w = 1.0
			v.Technical.VolatilityAnnualized = fptr(3.0)
			v.Qualitative.SentimentScore = 1.0
			return v
		}(),
		func() features.FeatureVector {
			v := fundamentalsVec()
			v.DataQuality.HasPrices = true
			v.Fundamental.PE = fptr(-50)
			v.Fundamental.ROE = fptr(-2.0)
			v.Fundamental.EarningsGrowth = fptr(-0.99)
			v.Technical.RSI14 = 0
			v.Technical.PricePosition52w = 0
			return v
		}(),
	}

	for i := range extreme {
		v := &extreme[i]
		pillars := []PillarScore{
			scoreValue(v, DefaultMarketAvgPE),
			scoreQuality(v),
			scoreMomentum(v),
			scoreSentiment(v),
			scoreStability(v),
		}
		for _, p := range pillars {
			assert.GreaterOrEqual(t, p.Score, 0.0)
			assert.LessOrEqual(t, p.Score, 1.0)
			for name, c := range p.Components {
				assert.GreaterOrEqual(t, c, 0.0, "component %s", name)
				assert.LessOrEqual(t, c, 1.0, "component %s", name)
			}
		}
	}
}
