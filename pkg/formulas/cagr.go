package formulas

import "math"

// MonthlyPrice represents a monthly price data point
type MonthlyPrice struct {
	YearMonth   string  `json:"year_month"`
	AvgAdjClose float64 `json:"avg_adj_close"`
}

// CalculateCAGR calculates Compound Annual Growth Rate from monthly prices.
//
// Formula: CAGR = (Ending Value / Beginning Value)^(1/years) - 1
//
// Args:
//
//	prices: Slice of MonthlyPrice ordered oldest-first
//	months: Number of months to use (e.g., 60 for 5 years)
//
// Returns:
//
//	CAGR as decimal (e.g., 0.11 = 11%) or nil if fewer than 12 months of data
func CalculateCAGR(prices []MonthlyPrice, months int) *float64 {
	const minMonthsForCAGR = 12

	if len(prices) < minMonthsForCAGR {
		return nil
	}

	useMonths := months
	if useMonths > len(prices) {
		useMonths = len(prices)
	}

	priceSlice := prices[len(prices)-useMonths:]

	startPrice := priceSlice[0].AvgAdjClose
	endPrice := priceSlice[len(priceSlice)-1].AvgAdjClose

	if startPrice <= 0 || endPrice <= 0 {
		return nil
	}

	years := float64(useMonths) / 12.0

	// Very short windows degrade to a simple return
	if years < 0.25 {
		result := (endPrice / startPrice) - 1
		return &result
	}

	cagr := math.Pow(endPrice/startPrice, 1/years) - 1
	return &cagr
}

// CalculateCAGRFromDailyPrices computes CAGR from a daily close series
// (oldest-first), using the trading-day count to measure elapsed years.
// Returns nil when fewer than one year of data is available.
func CalculateCAGRFromDailyPrices(closes []float64) *float64 {
	if len(closes) < int(TradingDaysPerYear) {
		return nil
	}

	start := closes[0]
	end := closes[len(closes)-1]
	if start <= 0 || end <= 0 {
		return nil
	}

	years := float64(len(closes)) / TradingDaysPerYear
	cagr := math.Pow(end/start, 1/years) - 1
	return &cagr
}
