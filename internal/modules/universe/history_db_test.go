package universe

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHistoryDB(t *testing.T) *HistoryDB {
	t.Helper()

	conn, err := OpenHistoryDB(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return NewHistoryDB(conn, zerolog.Nop())
}

func TestHistoryDB_ImportAndQuery(t *testing.T) {
	h := setupHistoryDB(t)

	vol := int64(1000)
	prices := []DailyPrice{
		{Date: "2026-01-02", Open: 100, High: 102, Low: 99, Close: 101, Volume: &vol},
		{Date: "2026-01-05", Open: 101, High: 103, Low: 100, Close: 102},
		{Date: "2026-02-02", Open: 102, High: 105, Low: 101, Close: 104},
	}

	require.NoError(t, h.ImportDailyPrices("aapl", prices))

	got, err := h.GetDailyPrices("AAPL", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "2026-02-02", got[0].Date, "most recent first")
	assert.Equal(t, "2026-01-02", got[2].Date)
	require.NotNil(t, got[2].Volume)
	assert.Equal(t, int64(1000), *got[2].Volume)

	has, err := h.HasHistory("AAPL")
	require.NoError(t, err)
	assert.True(t, has)

	days, err := h.CountDays("AAPL")
	require.NoError(t, err)
	assert.Equal(t, 3, days)

	closes, err := h.GetCloseSeries("AAPL", 10)
	require.NoError(t, err)
	assert.Equal(t, []float64{101, 102, 104}, closes, "ascending for indicator math")
}

func TestHistoryDB_MonthlyAggregation(t *testing.T) {
	h := setupHistoryDB(t)

	prices := []DailyPrice{
		{Date: "2026-01-02", Close: 100, Open: 100, High: 100, Low: 100},
		{Date: "2026-01-05", Close: 110, Open: 110, High: 110, Low: 110},
		{Date: "2026-02-02", Close: 120, Open: 120, High: 120, Low: 120},
	}

	require.NoError(t, h.ImportDailyPrices("AAPL", prices))

	monthly, err := h.GetMonthlyPrices("AAPL", 12)
	require.NoError(t, err)
	require.Len(t, monthly, 2)

	assert.Equal(t, "2026-02", monthly[0].YearMonth)
	assert.InDelta(t, 120.0, monthly[0].AvgAdjClose, 1e-9)
	assert.Equal(t, "2026-01", monthly[1].YearMonth)
	assert.InDelta(t, 105.0, monthly[1].AvgAdjClose, 1e-9)

	// Re-import with a revised close re-aggregates the month
	require.NoError(t, h.ImportDailyPrices("AAPL", []DailyPrice{
		{Date: "2026-01-05", Close: 120, Open: 120, High: 120, Low: 120},
	}))

	monthly, err = h.GetMonthlyPrices("AAPL", 12)
	require.NoError(t, err)
	assert.InDelta(t, 110.0, monthly[1].AvgAdjClose, 1e-9)
}

func TestHistoryDB_ImportRejectsBadDate(t *testing.T) {
	h := setupHistoryDB(t)

	err := h.ImportDailyPrices("AAPL", []DailyPrice{{Date: "02/01/2026", Close: 100}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid price date")
}

func TestHistoryDB_UnknownSymbolIsEmpty(t *testing.T) {
	h := setupHistoryDB(t)

	got, err := h.GetDailyPrices("NOPE", 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	has, err := h.HasHistory("NOPE")
	require.NoError(t, err)
	assert.False(t, has)
}
