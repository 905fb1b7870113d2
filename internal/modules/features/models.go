// Package features computes the per-symbol feature vectors consumed by
// screening and ranking: raw fundamental ratios, technical indicators over
// the price history, and blended sentiment.
package features

// Data sufficiency thresholds (trading days).
const (
	// MinTechnicalDays is the minimum close count for any technical field.
	MinTechnicalDays = 60
	// Momentum3MDays / Momentum6MDays are the lookbacks for momentum;
	// a lookback needs one close more than its length.
	Momentum3MDays = 63
	Momentum6MDays = 126
)

// Neutral fallbacks for missing or unstable inputs.
const (
	NeutralRSI          = 50.0
	NeutralPricePos     = 0.5
	NeutralBollingerPos = 0.5
	NeutralSentiment    = 0.5
)

// FundamentalFeatures carries the latest vendor ratios as delivered.
// Pointers: absence is meaningful downstream (peer z-scores and screening
// gates only consider metrics that are present).
type FundamentalFeatures struct {
	PE              *float64 `json:"pe"`
	ForwardPE       *float64 `json:"forward_pe"`
	PB              *float64 `json:"pb"`
	ROE             *float64 `json:"roe"`
	DebtToEquity    *float64 `json:"debt_to_equity"`
	ProfitMargin    *float64 `json:"profit_margin"`
	OperatingMargin *float64 `json:"operating_margin"`
	RevenueGrowth   *float64 `json:"revenue_growth"`
	EarningsGrowth  *float64 `json:"earnings_growth"`
	DividendYield   *float64 `json:"dividend_yield"`
	MarketCap       *float64 `json:"market_cap"`
	Beta            *float64 `json:"beta"`
}

// TechnicalFeatures holds indicators over the close series. Bounded
// oscillators fall back to neutral values when data is short; open-ended
// fields stay nil so consumers can tell "missing" from "zero".
type TechnicalFeatures struct {
	Momentum3M           *float64 `json:"momentum_3m"`
	Momentum6M           *float64 `json:"momentum_6m"`
	RSI14                float64  `json:"rsi_14"`
	PricePosition52w     float64  `json:"price_position_52w"`
	VolatilityAnnualized *float64 `json:"volatility_annualized"`
	EMA50DistPct         *float64 `json:"ema_50_dist_pct"`
	EMA200DistPct        *float64 `json:"ema_200_dist_pct"`
	BollingerPos         float64  `json:"bollinger_pos"`
}

// QualitativeFeatures holds the blended sentiment signals.
type QualitativeFeatures struct {
	AnalystScore   float64 `json:"analyst_score"`   // 0..1, higher is better
	NewsScore      float64 `json:"news_score"`      // -1..1
	SentimentScore float64 `json:"sentiment_score"` // 0..1 blend
}

// DataQuality flags what actually backed the vector.
type DataQuality struct {
	HasPrices       bool `json:"has_prices"`
	HasFundamentals bool `json:"has_fundamentals"`
	HasSentiment    bool `json:"has_sentiment"`
	Complete        bool `json:"complete"`
	PriceDays       int  `json:"price_days"`
}

// FeatureVector is the full per-symbol input to screening and ranking.
type FeatureVector struct {
	Symbol      string              `json:"symbol"`
	Sector      string              `json:"sector"`
	Active      bool                `json:"active"`
	Fundamental FundamentalFeatures `json:"fundamental"`
	Technical   TechnicalFeatures   `json:"technical"`
	Qualitative QualitativeFeatures `json:"qualitative"`
	DataQuality DataQuality         `json:"data_quality"`
	AsOf        string              `json:"as_of"` // YYYY-MM-DD
}
