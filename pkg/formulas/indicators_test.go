package formulas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// risingCloses builds a linearly rising close series for indicator tests.
func risingCloses(n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	return closes
}

func TestCalculateEMA(t *testing.T) {
	t.Run("falls back to SMA on short series", func(t *testing.T) {
		closes := []float64{100, 102, 104}
		ema := CalculateEMA(closes, 200)
		require.NotNil(t, ema)
		assert.InDelta(t, 102.0, *ema, 0.001)
	})

	t.Run("tracks a rising series from below", func(t *testing.T) {
		closes := risingCloses(300)
		ema := CalculateEMA(closes, 200)
		require.NotNil(t, ema)
		// EMA lags the price, so it sits below the latest close
		assert.Less(t, *ema, closes[len(closes)-1])
		assert.Greater(t, *ema, closes[0])
	})

	t.Run("empty series", func(t *testing.T) {
		assert.Nil(t, CalculateEMA([]float64{}, 200))
	})
}

func TestCalculateDistanceFromEMA(t *testing.T) {
	closes := risingCloses(300)
	dist := CalculateDistanceFromEMA(closes, 200)
	require.NotNil(t, dist)
	// Rising series: price above EMA, distance positive
	assert.Greater(t, *dist, 0.0)
}

func TestCalculateRSI(t *testing.T) {
	t.Run("all gains push RSI to 100", func(t *testing.T) {
		closes := risingCloses(50)
		rsi := CalculateRSI(closes, 14)
		require.NotNil(t, rsi)
		assert.InDelta(t, 100.0, *rsi, 0.5)
	})

	t.Run("all losses push RSI to 0", func(t *testing.T) {
		closes := make([]float64, 50)
		for i := range closes {
			closes[i] = 150 - float64(i)
		}
		rsi := CalculateRSI(closes, 14)
		require.NotNil(t, rsi)
		assert.InDelta(t, 0.0, *rsi, 0.5)
	})

	t.Run("insufficient data", func(t *testing.T) {
		assert.Nil(t, CalculateRSI(risingCloses(10), 14))
	})
}

func TestCalculateBollingerPosition(t *testing.T) {
	t.Run("flat series collapses to middle", func(t *testing.T) {
		closes := make([]float64, 30)
		for i := range closes {
			closes[i] = 100
		}
		pos := CalculateBollingerPosition(closes, 20, 2.0)
		require.NotNil(t, pos)
		assert.InDelta(t, 0.5, *pos, 0.001)
	})

	t.Run("strong rise sits in the upper half", func(t *testing.T) {
		pos := CalculateBollingerPosition(risingCloses(60), 20, 2.0)
		require.NotNil(t, pos)
		assert.Greater(t, *pos, 0.5)
	})

	t.Run("insufficient data", func(t *testing.T) {
		assert.Nil(t, CalculateBollingerPosition(risingCloses(5), 20, 2.0))
	})
}

func TestCalculate52WeekHighLow(t *testing.T) {
	closes := risingCloses(300)

	high := Calculate52WeekHigh(closes)
	require.NotNil(t, high)
	assert.Equal(t, closes[len(closes)-1], *high)

	// Window is the last 252 bars, not the whole series
	low := Calculate52WeekLow(closes)
	require.NotNil(t, low)
	assert.Equal(t, closes[len(closes)-252], *low)
}

func TestCalculatePricePosition52w(t *testing.T) {
	t.Run("latest close at the high scores 1", func(t *testing.T) {
		pos := CalculatePricePosition52w(risingCloses(300))
		require.NotNil(t, pos)
		assert.InDelta(t, 1.0, *pos, 0.001)
	})

	t.Run("flat series scores middle", func(t *testing.T) {
		closes := make([]float64, 300)
		for i := range closes {
			closes[i] = 100
		}
		pos := CalculatePricePosition52w(closes)
		require.NotNil(t, pos)
		assert.InDelta(t, 0.5, *pos, 0.001)
	})

	t.Run("empty series", func(t *testing.T) {
		assert.Nil(t, CalculatePricePosition52w([]float64{}))
	})
}

func TestCalculateMomentum(t *testing.T) {
	closes := []float64{100, 105, 110, 120}

	t.Run("lookback 3", func(t *testing.T) {
		m := CalculateMomentum(closes, 3)
		require.NotNil(t, m)
		assert.InDelta(t, 0.20, *m, 0.0001)
	})

	t.Run("lookback longer than history", func(t *testing.T) {
		assert.Nil(t, CalculateMomentum(closes, 10))
	})
}

func TestCalculateCAGR(t *testing.T) {
	t.Run("doubling over five years", func(t *testing.T) {
		prices := make([]MonthlyPrice, 60)
		for i := range prices {
			// Smooth geometric growth from 100 to 200
			prices[i] = MonthlyPrice{AvgAdjClose: 100 * math.Pow(2, float64(i)/59.0)}
		}
		cagr := CalculateCAGR(prices, 60)
		require.NotNil(t, cagr)
		// 2^(1/5) - 1 ≈ 14.87%
		assert.InDelta(t, 0.1487, *cagr, 0.01)
	})

	t.Run("insufficient months", func(t *testing.T) {
		prices := make([]MonthlyPrice, 6)
		for i := range prices {
			prices[i] = MonthlyPrice{AvgAdjClose: 100}
		}
		assert.Nil(t, CalculateCAGR(prices, 60))
	})

	t.Run("non-positive prices", func(t *testing.T) {
		prices := make([]MonthlyPrice, 24)
		for i := range prices {
			prices[i] = MonthlyPrice{AvgAdjClose: 100}
		}
		prices[0].AvgAdjClose = 0
		assert.Nil(t, CalculateCAGR(prices, 24))
	})
}

func TestCalculateCAGRFromDailyPrices(t *testing.T) {
	t.Run("one year of growth", func(t *testing.T) {
		closes := make([]float64, 252)
		for i := range closes {
			closes[i] = 100 * math.Pow(1.10, float64(i)/251.0)
		}
		cagr := CalculateCAGRFromDailyPrices(closes)
		require.NotNil(t, cagr)
		assert.InDelta(t, 0.10, *cagr, 0.01)
	})

	t.Run("less than a year of data", func(t *testing.T) {
		assert.Nil(t, CalculateCAGRFromDailyPrices(risingCloses(100)))
	})
}

