// Package universe stores the equity universe: securities, fundamentals,
// sentiment records, persisted scores and price history.
package universe

import (
	"encoding/json"
	"time"
)

// Security represents a security in the investment universe.
// LastSynced uses a Unix timestamp internally and is converted to
// RFC3339 at the JSON boundary.
type Security struct {
	Symbol     string   `json:"symbol"`
	Name       string   `json:"name"`
	Sector     string   `json:"sector,omitempty"`
	Industry   string   `json:"industry,omitempty"`
	Exchange   string   `json:"exchange,omitempty"`
	Currency   string   `json:"currency,omitempty"`
	ISIN       string   `json:"isin,omitempty"`
	Active     bool     `json:"active"`
	MinLot     int      `json:"min_lot,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	LastSynced *int64   `json:"-"`
}

// MarshalJSON converts the Unix timestamp to an RFC3339 string for the API
func (s Security) MarshalJSON() ([]byte, error) {
	type Alias Security
	aux := &struct {
		LastSynced string `json:"last_synced,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(&s),
	}

	if s.LastSynced != nil {
		aux.LastSynced = time.Unix(*s.LastSynced, 0).UTC().Format(time.RFC3339)
	}

	return json.Marshal(aux)
}

// Fundamentals holds point-in-time fundamental ratios for a symbol.
// Fields are pointers because vendors rarely deliver every metric;
// missing values stay nil rather than a misleading zero.
type Fundamentals struct {
	Symbol          string   `json:"symbol"`
	AsOf            string   `json:"as_of"` // YYYY-MM-DD
	MarketCap       *float64 `json:"market_cap,omitempty"`
	PERatio         *float64 `json:"pe_ratio,omitempty"`
	ForwardPE       *float64 `json:"forward_pe,omitempty"`
	PBRatio         *float64 `json:"pb_ratio,omitempty"`
	ROE             *float64 `json:"roe,omitempty"`
	ROA             *float64 `json:"roa,omitempty"`
	DebtToEquity    *float64 `json:"debt_to_equity,omitempty"`
	CurrentRatio    *float64 `json:"current_ratio,omitempty"`
	ProfitMargin    *float64 `json:"profit_margin,omitempty"`
	OperatingMargin *float64 `json:"operating_margin,omitempty"`
	RevenueGrowth   *float64 `json:"revenue_growth,omitempty"`
	EarningsGrowth  *float64 `json:"earnings_growth,omitempty"`
	DividendYield   *float64 `json:"dividend_yield,omitempty"`
	FreeCashflow    *float64 `json:"free_cashflow,omitempty"`
	Beta            *float64 `json:"beta,omitempty"`
}

// SentimentRecord holds analyst and news sentiment for a symbol.
type SentimentRecord struct {
	Symbol        string   `json:"symbol"`
	AsOf          string   `json:"as_of"`
	AnalystRating *float64 `json:"analyst_rating,omitempty"` // 1 (strong buy) .. 5 (sell)
	AnalystCount  *int     `json:"analyst_count,omitempty"`
	NewsScore     *float64 `json:"news_score,omitempty"` // -1 .. 1
}

// SecurityScore is the persisted output of a ranking run, one row per symbol.
type SecurityScore struct {
	Symbol         string             `json:"symbol"`
	ValueScore     float64            `json:"value_score"`
	QualityScore   float64            `json:"quality_score"`
	MomentumScore  float64            `json:"momentum_score"`
	SentimentScore float64            `json:"sentiment_score"`
	StabilityScore float64            `json:"stability_score"`
	Composite      float64            `json:"composite"`
	Rank           int                `json:"rank"`
	Components     map[string]float64 `json:"components,omitempty"`
	ComputedAt     *time.Time         `json:"computed_at,omitempty"`
}

// DailyPrice represents a daily OHLCV price point
type DailyPrice struct {
	Date   string  `json:"date"` // YYYY-MM-DD
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume *int64  `json:"volume,omitempty"`
}

// MonthlyPrice represents a monthly average price
type MonthlyPrice struct {
	YearMonth   string  `json:"year_month"` // YYYY-MM
	AvgAdjClose float64 `json:"avg_adj_close"`
}
