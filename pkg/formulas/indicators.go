package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
)

// CalculateEMA calculates the Exponential Moving Average.
//
// EMA Formula:
//
//	EMA_today = (Price_today × multiplier) + (EMA_yesterday × (1 - multiplier))
//	where multiplier = 2 / (period + 1)
//
// Falls back to SMA when there is not enough data for a proper EMA.
// Returns nil only when closes is empty.
func CalculateEMA(closes []float64, length int) *float64 {
	if len(closes) == 0 {
		return nil
	}

	if len(closes) < length {
		sma := Mean(closes)
		return &sma
	}

	ema := talib.Ema(closes, length)
	if len(ema) > 0 && !isNaN(ema[len(ema)-1]) {
		result := ema[len(ema)-1]
		return &result
	}

	sma := Mean(closes[len(closes)-length:])
	return &sma
}

// CalculateSMA calculates the Simple Moving Average over the last length bars.
func CalculateSMA(closes []float64, length int) *float64 {
	if len(closes) < length {
		return nil
	}

	sma := talib.Sma(closes, length)
	if len(sma) > 0 && !isNaN(sma[len(sma)-1]) {
		result := sma[len(sma)-1]
		return &result
	}

	return nil
}

// CalculateDistanceFromEMA calculates the percentage distance from EMA.
// Positive when price is above the EMA, negative when below.
//
// Formula: (Current Price - EMA) / EMA
func CalculateDistanceFromEMA(closes []float64, length int) *float64 {
	if len(closes) == 0 {
		return nil
	}

	ema := CalculateEMA(closes, length)
	if ema == nil || *ema == 0 {
		return nil
	}

	currentPrice := closes[len(closes)-1]
	distance := (currentPrice - *ema) / *ema
	return &distance
}

// CalculateRSI calculates the Relative Strength Index over the given period.
// Returns nil when there are not enough closes for the period.
func CalculateRSI(closes []float64, period int) *float64 {
	if len(closes) <= period {
		return nil
	}

	rsi := talib.Rsi(closes, period)
	if len(rsi) > 0 && !isNaN(rsi[len(rsi)-1]) {
		result := rsi[len(rsi)-1]
		return &result
	}

	return nil
}

// BollingerBands represents Bollinger Bands values
type BollingerBands struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// CalculateBollingerBands calculates Bollinger Bands.
//
//	Middle Band = SMA(length)
//	Upper Band = Middle + (multiplier × std deviation)
//	Lower Band = Middle - (multiplier × std deviation)
//
// Returns nil if there is insufficient data.
func CalculateBollingerBands(closes []float64, length int, stdDevMultiplier float64) *BollingerBands {
	if len(closes) < length {
		return nil
	}

	// MAType 0 = SMA
	upper, middle, lower := talib.BBands(closes, length, stdDevMultiplier, stdDevMultiplier, 0)

	if len(upper) > 0 && !isNaN(upper[len(upper)-1]) {
		return &BollingerBands{
			Upper:  upper[len(upper)-1],
			Middle: middle[len(middle)-1],
			Lower:  lower[len(lower)-1],
		}
	}

	return nil
}

// CalculateBollingerPosition calculates where the current price sits within
// the bands: 0.0 at the lower band, 0.5 at the middle, 1.0 at the upper.
// Prices outside the bands clamp to [0, 1].
//
// Formula: (Price - Lower) / (Upper - Lower)
func CalculateBollingerPosition(closes []float64, length int, stdDevMultiplier float64) *float64 {
	if len(closes) == 0 {
		return nil
	}

	bands := CalculateBollingerBands(closes, length, stdDevMultiplier)
	if bands == nil {
		return nil
	}

	currentPrice := closes[len(closes)-1]
	bandWidth := bands.Upper - bands.Lower

	if bandWidth == 0 {
		// Collapsed bands, price is at middle
		position := 0.5
		return &position
	}

	position := (currentPrice - bands.Lower) / bandWidth
	if position < 0.0 {
		position = 0.0
	}
	if position > 1.0 {
		position = 1.0
	}

	return &position
}

// Calculate52WeekHigh returns the highest close over the last 252 trading
// days (or all available data when shorter). Nil for an empty series.
func Calculate52WeekHigh(closes []float64) *float64 {
	return extremeOverWindow(closes, math.Max, math.Inf(-1))
}

// Calculate52WeekLow returns the lowest close over the last 252 trading days.
func Calculate52WeekLow(closes []float64) *float64 {
	return extremeOverWindow(closes, math.Min, math.Inf(1))
}

// CalculatePricePosition52w returns where the current price sits within the
// 52-week low..high range: 0.0 at the low, 1.0 at the high.
func CalculatePricePosition52w(closes []float64) *float64 {
	high := Calculate52WeekHigh(closes)
	low := Calculate52WeekLow(closes)
	if high == nil || low == nil || len(closes) == 0 {
		return nil
	}

	rangeWidth := *high - *low
	if rangeWidth == 0 {
		position := 0.5
		return &position
	}

	position := (closes[len(closes)-1] - *low) / rangeWidth
	if position < 0 {
		position = 0
	}
	if position > 1 {
		position = 1
	}
	return &position
}

// CalculateMomentum returns the percentage price change over the last
// lookback trading days. Nil when history is shorter than the lookback.
func CalculateMomentum(closes []float64, lookback int) *float64 {
	if len(closes) <= lookback {
		return nil
	}

	past := closes[len(closes)-1-lookback]
	if past == 0 {
		return nil
	}

	momentum := (closes[len(closes)-1] - past) / past
	return &momentum
}

func extremeOverWindow(closes []float64, pick func(float64, float64) float64, seed float64) *float64 {
	if len(closes) == 0 {
		return nil
	}

	window := closes
	if len(window) > int(TradingDaysPerYear) {
		window = window[len(window)-int(TradingDaysPerYear):]
	}

	extreme := seed
	for _, c := range window {
		extreme = pick(extreme, c)
	}

	return &extreme
}
